package oracle

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nvandessel/btsynth/internal/automaton"
)

var (
	// requestsTotal counts synthesis calls by oracle and outcome.
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btsynth_oracle_requests_total",
		Help: "Total synthesis requests by oracle and result",
	}, []string{"oracle", "result"})

	// requestDuration tracks synthesis latency.
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "btsynth_oracle_duration_seconds",
		Help:    "Synthesis call duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4min
	}, []string{"oracle"})

	// controllerNodes tracks the size of returned controllers.
	controllerNodes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "btsynth_oracle_controller_nodes",
		Help:    "Number of nodes in controllers returned by the oracle",
		Buckets: []float64{1, 10, 100, 1000, 10000},
	})
)

type instrumented struct {
	name  string
	inner Oracle
}

// Instrument wraps o so that every call is counted and timed under name.
func Instrument(name string, o Oracle) Oracle {
	return &instrumented{name: name, inner: o}
}

func (i *instrumented) Synthesize(ctx context.Context, req *Request) (*automaton.Graph, error) {
	start := time.Now()
	g, err := i.inner.Synthesize(ctx, req)
	requestDuration.WithLabelValues(i.name).Observe(time.Since(start).Seconds())
	requestsTotal.WithLabelValues(i.name, resultLabel(err)).Inc()
	if g != nil {
		controllerNodes.Observe(float64(g.Len()))
	}
	return g, err
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnrealizable):
		return "unrealizable"
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}
