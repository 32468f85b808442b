package client

import (
	"context"

	"github.com/yndnr/bunqsession-go/internal/telemetry/logger"
)

// WithRequestID returns a context carrying id. Handshake logs it as
// request_id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return logger.WithRequestID(ctx, id)
}

// RequestIDFromContext returns the request ID set with WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	return logger.RequestIDFromContext(ctx)
}
