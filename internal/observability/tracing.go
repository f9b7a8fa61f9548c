package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/kursadbilgin/notification-dispatch"

// Tracer returns the process tracer. Without an installed SDK provider the
// global provider is a no-op.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
