package ratelimit

import (
	"testing"
)

func TestNewToolLimiters(t *testing.T) {
	limiters := NewToolLimiters()

	tests := []struct {
		tool  string
		burst int
	}{
		{"btsynth_world", 10},
		{"btsynth_simulate", 5},
		{"btsynth_patch", 3},
		{"btsynth_list", 10},
		{"btsynth_graph", 5},
		{"btsynth_validate", 5},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			l, ok := limiters[tt.tool]
			if !ok {
				t.Fatalf("missing limiter for %s", tt.tool)
			}
			if l.Burst() != tt.burst {
				t.Errorf("burst = %d, want %d", l.Burst(), tt.burst)
			}
		})
	}
}

func TestCheckLimit(t *testing.T) {
	limiters := NewToolLimiters()

	if err := CheckLimit(limiters, "unknown_tool"); err != nil {
		t.Errorf("unknown tool limited: %v", err)
	}

	// btsynth_patch allows a burst of 3 and refills every six seconds.
	for i := 0; i < 3; i++ {
		if err := CheckLimit(limiters, "btsynth_patch"); err != nil {
			t.Fatalf("call %d within burst rejected: %v", i+1, err)
		}
	}
	if err := CheckLimit(limiters, "btsynth_patch"); err == nil {
		t.Error("expected rate limit error after burst exhaustion")
	}

	// Independent buckets.
	if err := CheckLimit(limiters, "btsynth_list"); err != nil {
		t.Errorf("btsynth_list limited by btsynth_patch: %v", err)
	}
}
