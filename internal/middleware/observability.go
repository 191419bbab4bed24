package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/souffle-edu/souffle-api/internal/observability"
)

var quietPaths = []string{"/metrics", "/health"}

// Observability records Prometheus metrics for every request and logs a structured access line.
func Observability(logger zerolog.Logger) fiber.Handler {
	observability.RegisterMetrics()
	tracer := observability.Tracer("http")

	return func(c *fiber.Ctx) error {
		for _, prefix := range quietPaths {
			if strings.HasPrefix(c.Path(), prefix) {
				return c.Next()
			}
		}

		ctx, span := tracer.Start(c.UserContext(), c.Method()+" "+c.Path(), trace.WithAttributes(
			attribute.String("correlation_id", GetCorrelationID(c)),
		))
		c.SetUserContext(ctx)
		defer span.End()

		start := time.Now()
		err := c.Next()
		duration := time.Since(start)

		route := routeTemplate(c)
		method := c.Method()
		status := c.Response().StatusCode()
		if err != nil {
			if fiberErr, ok := err.(*fiber.Error); ok {
				status = fiberErr.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		statusLabel := strconv.Itoa(status)
		span.SetAttributes(attribute.String("http.route", route), attribute.Int("http.status_code", status))

		observability.HTTPRequests().WithLabelValues(method, route, statusLabel).Inc()
		observability.HTTPLatency().WithLabelValues(method, route).Observe(duration.Seconds())
		if status >= fiber.StatusBadRequest {
			observability.HTTPErrors().WithLabelValues(method, route, statusLabel).Inc()
		}

		requestLogger := logger.With().
			Str("correlation_id", GetCorrelationID(c)).
			Str("method", method).
			Str("path", c.Path()).
			Str("route", route).
			Int("status", status).
			Float64("latency_ms", float64(duration)/float64(time.Millisecond)).
			Str("latency_bucket", latencyBucket(duration)).
			Logger()

		switch {
		case status >= fiber.StatusInternalServerError:
			requestLogger.Error().Msg("request failed")
		case status >= fiber.StatusBadRequest:
			requestLogger.Warn().Msg("request completed with client error")
		default:
			requestLogger.Info().Msg("request completed")
		}

		return err
	}
}

func routeTemplate(c *fiber.Ctx) string {
	if c.Route() != nil && c.Route().Path != "" {
		return c.Route().Path
	}
	return c.Path()
}

func latencyBucket(duration time.Duration) string {
	switch {
	case duration <= 25*time.Millisecond:
		return "<=25ms"
	case duration <= 50*time.Millisecond:
		return "<=50ms"
	case duration <= 100*time.Millisecond:
		return "<=100ms"
	case duration <= 250*time.Millisecond:
		return "<=250ms"
	case duration <= 500*time.Millisecond:
		return "<=500ms"
	default:
		return ">500ms"
	}
}
