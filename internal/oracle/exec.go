package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/nvandessel/btsynth/internal/automaton"
	"github.com/nvandessel/btsynth/internal/constants"
	"github.com/nvandessel/btsynth/internal/grid"
)

// ExecConfig configures an external solver process.
type ExecConfig struct {
	// Command is the solver executable.
	Command string
	// Args are passed to Command unchanged.
	Args []string
	// Timeout bounds a single call. Zero uses the default.
	Timeout time.Duration
}

// Exec poses requests to an external solver. The request is written to the
// solver's stdin as JSON and the solver answers on stdout with either a
// persisted automaton or {"realizable": false}.
type Exec struct {
	cfg    ExecConfig
	logger *slog.Logger
}

// NewExec creates an Exec oracle. A nil logger discards output.
func NewExec(cfg ExecConfig, logger *slog.Logger) *Exec {
	if cfg.Timeout == 0 {
		cfg.Timeout = constants.DefaultOracleTimeoutSeconds * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Exec{cfg: cfg, logger: logger}
}

// wireRequest is the solver's view of a Request. Occupancy rows hold 0 for
// free cells and 1 for walls.
type wireRequest struct {
	Rows          int          `json:"rows"`
	Cols          int          `json:"cols"`
	Occupancy     [][]int      `json:"occupancy"`
	Inits         []grid.Coord `json:"inits"`
	Goals         []grid.Coord `json:"goals"`
	GoalsDisjunct []grid.Coord `json:"goals_disjunct,omitempty"`
	SysPrefix     string       `json:"sys_prefix"`
	EnvPrefix     string       `json:"env_prefix,omitempty"`
	Obstacles     []Obstacle   `json:"obstacles,omitempty"`
}

type wireResponse struct {
	Realizable *bool `json:"realizable,omitempty"`
	automaton.Document
}

// EncodeRequest renders req in the solver wire format.
func EncodeRequest(req *Request) ([]byte, error) {
	w := req.World
	occ := make([][]int, w.Rows)
	for i := range occ {
		occ[i] = make([]int, w.Cols)
		for j := range occ[i] {
			if w.Cells[i][j] {
				occ[i][j] = 1
			}
		}
	}
	goals := req.Goals
	if goals == nil {
		goals = []grid.Coord{}
	}
	return json.Marshal(wireRequest{
		Rows:          w.Rows,
		Cols:          w.Cols,
		Occupancy:     occ,
		Inits:         req.Inits,
		Goals:         goals,
		GoalsDisjunct: req.GoalsDisjunct,
		SysPrefix:     req.SysPrefix,
		EnvPrefix:     req.EnvPrefix,
		Obstacles:     req.Obstacles,
	})
}

// DecodeResponse parses a solver answer.
func DecodeResponse(data []byte, opts ...automaton.DecodeOption) (*automaton.Graph, error) {
	var resp wireResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parsing solver response: %w", err)
	}
	if resp.Realizable != nil && !*resp.Realizable {
		return nil, ErrUnrealizable
	}
	if len(resp.Nodes) == 0 {
		return nil, fmt.Errorf("%w: solver returned an empty controller", ErrUnrealizable)
	}
	return automaton.FromDocument(&resp.Document, opts...)
}

// Synthesize implements Oracle.
func (e *Exec) Synthesize(ctx context.Context, req *Request) (*automaton.Graph, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	payload, err := EncodeRequest(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.cfg.Command, e.cfg.Args...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("solver timed out after %v", e.cfg.Timeout)
		}
		return nil, fmt.Errorf("solver failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	e.logger.Debug("solver answered",
		"command", e.cfg.Command,
		"duration", time.Since(start),
		"bytes", stdout.Len())

	return DecodeResponse(stdout.Bytes(), automaton.WithLocativeGroups(req.SysPrefix, req.EnvPrefix))
}
