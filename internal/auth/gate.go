package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"collab-hub/internal/middleware"
	"collab-hub/internal/models"
	"collab-hub/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// IdentityService validates a credential for a room.
// Implementations return ErrDenied, ErrMalformedResponse or
// ErrIdentityUnavailable (possibly wrapped) on failure.
type IdentityService interface {
	CheckAuth(ctx context.Context, credential, roomID string) (*models.AuthResult, error)
}

// Gate admits connections. It holds no per-connection state.
type Gate struct {
	identity IdentityService
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *telemetry.Metrics
}

func NewGate(identity IdentityService, timeout time.Duration, logger *zap.Logger, metrics *telemetry.Metrics) *Gate {
	return &Gate{
		identity: identity,
		timeout:  timeout,
		logger:   logger,
		metrics:  metrics,
	}
}

// Authorize makes exactly one identity call, bounded by the gate timeout.
// Any failure comes back as *AuthFailure.
func (g *Gate) Authorize(ctx context.Context, roomID, credential string) (*models.AuthResult, error) {
	ctx, span := middleware.StartSpan(ctx, "Gate.Authorize",
		attribute.String("room.id", roomID),
		attribute.Bool("credential.present", credential != ""),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	result, err := g.identity.CheckAuth(ctx, credential, roomID)
	if err == nil && result == nil {
		err = ErrDenied
	}
	if err == nil && result.UserID == "" {
		err = ErrMalformedResponse
	}
	if err != nil {
		failure := &AuthFailure{
			Reason: g.classify(ctx, credential, err),
			RoomID: roomID,
			Err:    err,
		}
		middleware.AddSpanError(ctx, failure)
		g.metrics.AuthFailures.WithLabelValues(failure.Reason).Inc()
		g.logger.Warn("🚫 connection rejected",
			zap.String("room_id", roomID),
			zap.String("reason", failure.Reason),
			zap.Error(err),
		)
		return nil, failure
	}

	middleware.AddSpanEvent(ctx, "authorized",
		attribute.String("user.id", result.UserID),
		attribute.String("permission", string(result.Permission)),
	)
	return result, nil
}

func (g *Gate) classify(ctx context.Context, credential string, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, ErrDenied) && credential == "":
		return ReasonMissingCredential
	case errors.Is(err, ErrDenied):
		return ReasonDenied
	case errors.Is(err, ErrMalformedResponse):
		return ReasonMalformedResponse
	default:
		return ReasonIdentityUnavailable
	}
}

// CredentialFromRequest reads the "token" query parameter, falling back to
// "sessionId". A missing credential yields "".
func CredentialFromRequest(r *http.Request) string {
	q := r.URL.Query()
	if token := q.Get("token"); token != "" {
		return token
	}
	return q.Get("sessionId")
}
