package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthFailure matches every *AuthFailure.
	ErrAuthFailure = errors.New("authorization failed")

	// Identity services report their outcome through these.
	ErrDenied              = errors.New("identity service denied credential")
	ErrIdentityUnavailable = errors.New("identity service unavailable")
	ErrMalformedResponse   = errors.New("malformed identity response")
)

// Reason codes carried by AuthFailure.
const (
	ReasonMissingCredential   = "missing_credential"
	ReasonDenied              = "denied"
	ReasonMalformedResponse   = "malformed_response"
	ReasonIdentityUnavailable = "identity_unavailable"
	ReasonTimeout             = "timeout"
)

// AuthFailure rejects one connection attempt. It never affects other
// sessions.
type AuthFailure struct {
	Reason string
	RoomID string
	Err    error
}

func (e *AuthFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authorization failed for room %q (%s): %v", e.RoomID, e.Reason, e.Err)
	}
	return fmt.Sprintf("authorization failed for room %q (%s)", e.RoomID, e.Reason)
}

func (e *AuthFailure) Unwrap() error { return e.Err }

func (e *AuthFailure) Is(target error) bool { return target == ErrAuthFailure }
