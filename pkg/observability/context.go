package observability

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey int

const (
	ctxKeyCorrelationID ctxKey = iota
	ctxKeyRequestID
)

// Attribute names shared by the HTTP middleware, the CLI and the outbox
// relay, so every log line spells them the same way.
const (
	CorrelationIDKey = "correlation_id"
	RequestIDKey     = "request_id"
	OperationKey     = "operation"
	DurationKey      = "duration_ms"
	StatusKey        = "status"
	ErrorKey         = "error"
)

// WithCorrelationID stores a correlation id in the context, minting one
// when id is empty. The logger picks it up on every line logged with this
// context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, ctxKeyCorrelationID, id)
}

// CorrelationIDFromContext returns the correlation id, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyCorrelationID).(string)
	return id
}

// RequestIDFromContext returns the request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// NewRequestContext stamps a fresh request id and adopts the caller's
// correlation id when one came in over the wire. Each request gets its own
// request id; the correlation id survives across service hops.
func NewRequestContext(ctx context.Context, parentCorrelationID string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyRequestID, uuid.NewString())
	return WithCorrelationID(ctx, parentCorrelationID)
}
