// Package ratelimit throttles MCP tool calls with one token bucket per tool.
package ratelimit

import (
	"fmt"

	"golang.org/x/time/rate"
)

// ToolLimiters maps tool names to their limiters.
type ToolLimiters map[string]*rate.Limiter

// NewToolLimiters returns the default limits. Patching and simulation call
// the oracle and are limited hardest.
func NewToolLimiters() ToolLimiters {
	return ToolLimiters{
		"btsynth_world":    rate.NewLimiter(1.0, 10),      // 60/minute, burst 10
		"btsynth_simulate": rate.NewLimiter(30.0/60.0, 5), // 30/minute, burst 5
		"btsynth_patch":    rate.NewLimiter(10.0/60.0, 3), // 10/minute, burst 3
		"btsynth_list":     rate.NewLimiter(1.0, 10),      // 60/minute, burst 10
		"btsynth_graph":    rate.NewLimiter(30.0/60.0, 5), // 30/minute, burst 5
		"btsynth_validate": rate.NewLimiter(10.0/60.0, 5), // 10/minute, burst 5
	}
}

// CheckLimit takes a token for tool. Tools without a limiter are never
// limited.
func CheckLimit(limiters ToolLimiters, tool string) error {
	l, ok := limiters[tool]
	if !ok {
		return nil
	}
	if !l.Allow() {
		return fmt.Errorf("rate limit exceeded for %s, please try again shortly", tool)
	}
	return nil
}
