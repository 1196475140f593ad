package auth

import (
	"context"
	"fmt"

	"collab-hub/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// JWTIdentity verifies HMAC-signed tokens locally instead of calling out.
//
// Claims:
//
//	sub | userId        user id (string or number)
//	nickname | name     display name
//	permission          scope string, read-only when absent
//	rooms               optional allow-list of room ids
type JWTIdentity struct {
	secret []byte
}

func NewJWTIdentity(secret string) *JWTIdentity {
	return &JWTIdentity{secret: []byte(secret)}
}

func (j *JWTIdentity) CheckAuth(ctx context.Context, credential, roomID string) (*models.AuthResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if credential == "" {
		return nil, fmt.Errorf("%w: empty token", ErrDenied)
	}

	token, err := jwt.Parse(credential, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return j.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrDenied, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrDenied)
	}

	userID := claimString(claims, "sub", "userId")
	if userID == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrDenied)
	}

	if rooms, ok := claims["rooms"]; ok {
		if !roomAllowed(rooms, roomID) {
			return nil, fmt.Errorf("%w: room %q not granted", ErrDenied, roomID)
		}
	}

	return &models.AuthResult{
		UserID:     userID,
		Nickname:   claimString(claims, "nickname", "name"),
		Permission: models.ParsePermission(claimString(claims, "permission")),
	}, nil
}

func claimString(claims jwt.MapClaims, keys ...string) string {
	for _, key := range keys {
		switch v := claims[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			// JWT numbers get decoded as float64
			return fmt.Sprintf("%d", int64(v))
		}
	}
	return ""
}

func roomAllowed(rooms interface{}, roomID string) bool {
	list, ok := rooms.([]interface{})
	if !ok {
		return false
	}
	for _, r := range list {
		if s, ok := r.(string); ok && (s == roomID || s == "*") {
			return true
		}
	}
	return false
}
