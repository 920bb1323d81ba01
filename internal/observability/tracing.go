package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of every span the service creates.
const TracerName = "ForgeLedger"

// Tracer returns the tracer for component. Spans are no-ops until a
// TracerProvider is installed with otel.SetTracerProvider.
func Tracer(component string) trace.Tracer {
	return otel.Tracer(TracerName + "/" + component)
}
