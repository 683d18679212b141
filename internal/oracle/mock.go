package oracle

import (
	"context"
	"sync"

	"github.com/nvandessel/btsynth/internal/automaton"
)

// SynthesizeFunc adapts a function to the Oracle interface.
type SynthesizeFunc func(ctx context.Context, req *Request) (*automaton.Graph, error)

// Synthesize implements Oracle.
func (f SynthesizeFunc) Synthesize(ctx context.Context, req *Request) (*automaton.Graph, error) {
	return f(ctx, req)
}

// Mock implements Oracle for testing purposes.
// It delegates to a configurable function, can refuse selected requests,
// and records every call for verification.
type Mock struct {
	mu sync.Mutex

	delegate Oracle
	refuse   func(*Request) bool
	err      error

	// Calls holds every request received, in order.
	Calls []*Request
}

// NewMock creates a Mock that answers with a Planner.
func NewMock() *Mock {
	return &Mock{delegate: NewPlanner()}
}

// WithDelegate configures the oracle that answers accepted requests.
func (m *Mock) WithDelegate(o Oracle) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delegate = o
	return m
}

// WithRefusal makes every request matching pred unrealizable.
func (m *Mock) WithRefusal(pred func(*Request) bool) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refuse = pred
	return m
}

// WithError configures the error returned by every call.
func (m *Mock) WithError(err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// CallCount returns the number of requests received.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Synthesize implements Oracle.
func (m *Mock) Synthesize(ctx context.Context, req *Request) (*automaton.Graph, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	err, refuse, delegate := m.err, m.refuse, m.delegate
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if refuse != nil && refuse(req) {
		return nil, ErrUnrealizable
	}
	return delegate.Synthesize(ctx, req)
}
