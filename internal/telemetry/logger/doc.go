// Package logger provides structured logging for bunqsession.
//
// It wraps log/slog:
//
//   - logger.go: handler construction, dynamic level, global default
//   - context.go: context propagation of the logger and request id
//   - redact.go: masking of credentials, tokens and key material
//
// A Logger satisfies session.Logger, so it can be handed to a Session
// directly.
package logger
