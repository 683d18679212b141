// Package logging provides leveled logging and decision tracing for btsynth.
// It offers two complementary outputs:
//   - A leveled slog.Logger for stderr (operational output)
//   - A DecisionLogger for structured JSONL records of patch rounds
//     (decisions.jsonl in the run directory)
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LevelTrace is a custom slog level below Debug. At this level every
// oracle request and every merged node is logged.
const LevelTrace = slog.LevelDebug - 4

// DecisionFile is the name of the decision trace inside a run directory.
const DecisionFile = "decisions.jsonl"

// ParseLevel maps a string level name to a slog.Level.
// Supported values: "warn", "info", "debug", "trace" (case-insensitive).
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "warn", "warning":
		return slog.LevelWarn
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a leveled slog.Logger writing text to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, handlerOptions(level)))
}

// NewJSONLogger creates a leveled slog.Logger writing JSON lines to w.
func NewJSONLogger(level string, w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, handlerOptions(level)))
}

func handlerOptions(level string) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: ParseLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// DecisionLogger writes structured decision events as JSONL.
// It is safe for concurrent use. A nil DecisionLogger is safe to use;
// all methods are no-ops on nil receiver.
type DecisionLogger struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	runID  string
}

// NewDecisionLogger creates a decision logger appending to
// dir/decisions.jsonl. At "info" level and above it returns nil and no
// file is created. Returns nil if the file cannot be opened.
func NewDecisionLogger(dir string, level string) *DecisionLogger {
	if ParseLevel(level) >= slog.LevelInfo {
		return nil
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil
	}

	f, err := os.OpenFile(filepath.Join(dir, DecisionFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil
	}

	return &DecisionLogger{w: f, closer: f}
}

// NewDecisionWriter creates a decision logger writing to w.
func NewDecisionWriter(w io.Writer) *DecisionLogger {
	return &DecisionLogger{w: w}
}

// WithRun returns a logger that stamps every event with runID. The returned
// logger shares the underlying writer.
func (dl *DecisionLogger) WithRun(runID string) *DecisionLogger {
	if dl == nil {
		return nil
	}
	return &DecisionLogger{w: &lockedWriter{dl: dl}, runID: runID}
}

type lockedWriter struct {
	dl *DecisionLogger
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.dl.mu.Lock()
	defer lw.dl.mu.Unlock()
	if lw.dl.w == nil {
		return 0, os.ErrClosed
	}
	return lw.dl.w.Write(p)
}

// Log writes a decision event as a single JSONL line.
// A "time" field is added automatically, and "run" when the logger carries
// a run ID. The caller's map is not mutated.
func (dl *DecisionLogger) Log(event map[string]any) {
	if dl == nil {
		return
	}

	entry := make(map[string]any, len(event)+2)
	for k, v := range event {
		entry[k] = v
	}
	entry["time"] = time.Now().UTC().Format(time.RFC3339Nano)
	if dl.runID != "" {
		entry["run"] = dl.runID
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	dl.mu.Lock()
	defer dl.mu.Unlock()
	if dl.w == nil {
		return
	}
	_, _ = dl.w.Write(data)
}

// Close closes the underlying file, if any. Safe to call on nil receiver.
func (dl *DecisionLogger) Close() {
	if dl == nil {
		return
	}

	dl.mu.Lock()
	defer dl.mu.Unlock()

	if dl.closer != nil {
		dl.closer.Close()
		dl.closer = nil
	}
	dl.w = nil
}
