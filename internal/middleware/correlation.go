package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// HeaderCorrelationID carries the request correlation id in both directions.
const HeaderCorrelationID = "X-Correlation-ID"

const (
	localsCorrelationID = "correlation_id"
	maxCorrelationIDLen = 64
)

// Browsers cannot set headers on a websocket upgrade, so the status stream passes
// the id as a query parameter.
const queryCorrelationID = "correlation_id"

type correlationIDKey struct{}

// CorrelationID tags every request with an id that follows it into logs and spans.
// Ids supplied by clients are kept only when they are short and plain.
func CorrelationID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := ""
		for _, candidate := range []string{
			c.Get(HeaderCorrelationID),
			c.Get(fiber.HeaderXRequestID),
			c.Query(queryCorrelationID),
		} {
			if candidate = strings.TrimSpace(candidate); validCorrelationID(candidate) {
				id = candidate
				break
			}
		}
		if id == "" {
			id = uuid.NewString()
		}

		c.Locals(localsCorrelationID, id)
		c.Set(HeaderCorrelationID, id)
		c.SetUserContext(context.WithValue(c.UserContext(), correlationIDKey{}, id))

		return c.Next()
	}
}

func validCorrelationID(id string) bool {
	if id == "" || len(id) > maxCorrelationIDLen {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.', r == ':':
		default:
			return false
		}
	}
	return true
}

// CorrelationIDFromContext returns the id stored by CorrelationID or ContextWithCorrelation.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

// GetCorrelationID returns the id of the current request.
func GetCorrelationID(c *fiber.Ctx) string {
	if c == nil {
		return ""
	}
	if id, ok := c.Locals(localsCorrelationID).(string); ok {
		return id
	}
	return CorrelationIDFromContext(c.UserContext())
}

// ContextWithCorrelation carries a request's id into work that outlives the request.
func ContextWithCorrelation(ctx context.Context, correlationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationIDKey{}, correlationID)
}
