package patch

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "btsynth.patch"

// WithTracerProvider sets the provider of the engine's spans. Without it
// the engine uses the global provider current at NewEngine.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		if tp != nil {
			e.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// WithMeterProvider sets the provider of the engine's metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) {
		if mp != nil {
			e.meter = mp.Meter(instrumentationName)
		}
	}
}
