package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationPrefix = "github.com/souffle-edu/souffle-api"

// Tracer returns a named tracer scoped under the module path.
func Tracer(component string) trace.Tracer {
	return otel.Tracer(instrumentationPrefix + "/" + component)
}
