package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"collab-hub/internal/models"
)

// HTTPIdentity asks the platform's internal auth endpoint whether a token may
// open a room.
type HTTPIdentity struct {
	BaseURL       string
	InternalToken string
	client        *http.Client
}

func NewHTTPIdentity(baseURL, internalToken string) *HTTPIdentity {
	return &HTTPIdentity{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		InternalToken: internalToken,
		client:        &http.Client{},
	}
}

type checkAuthRequest struct {
	RoomID string `json:"roomId"`
	Token  string `json:"token"`
}

type checkAuthResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    *struct {
		UserID     json.RawMessage `json:"userId"`
		Nickname   string          `json:"nickname"`
		AvatarURL  string          `json:"avatarUrl"`
		Permission string          `json:"permission"`
	} `json:"data"`
}

func (c *HTTPIdentity) CheckAuth(ctx context.Context, credential, roomID string) (*models.AuthResult, error) {
	reqBody, err := json.Marshal(checkAuthRequest{RoomID: roomID, Token: credential})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/internal/auth", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.InternalToken != "" {
		httpReq.Header.Set("X-Internal-Token", c.InternalToken)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("identity request aborted: %w", ctxErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrDenied, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrIdentityUnavailable, resp.StatusCode, string(body))
	}

	var envelope checkAuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if envelope.Code != 0 || envelope.Data == nil {
		return nil, fmt.Errorf("%w: code %d: %s", ErrDenied, envelope.Code, envelope.Message)
	}

	userID, err := decodeUserID(envelope.Data.UserID)
	if err != nil {
		return nil, err
	}

	return &models.AuthResult{
		UserID:     userID,
		Nickname:   envelope.Data.Nickname,
		AvatarURL:  envelope.Data.AvatarURL,
		Permission: models.ParsePermission(envelope.Data.Permission),
	}, nil
}

// decodeUserID accepts either a JSON string or a JSON number.
func decodeUserID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", fmt.Errorf("%w: missing userId", ErrMalformedResponse)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", fmt.Errorf("%w: empty userId", ErrMalformedResponse)
		}
		return s, nil
	}

	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return "", fmt.Errorf("%w: userId: %v", ErrMalformedResponse, err)
	}
	return n.String(), nil
}
