package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/nvandessel/connectome/internal/logging"
)

// maxStderrInError bounds how much bridge stderr is quoted in an error.
const maxStderrInError = 2048

// ExecEngine drives the simulator through a bridge command:
//
//	<command...> run                                  params JSON on stdin
//	<command...> result --path P --cut C --duration D result JSON on stdout
//
// The bridge owns the simulator process; each call blocks until the command
// exits.
type ExecEngine struct {
	command []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewExecEngine creates an ExecEngine. timeout 0 means no per-call limit.
func NewExecEngine(command []string, timeout time.Duration, logger *slog.Logger) (*ExecEngine, error) {
	if len(command) == 0 || command[0] == "" {
		return nil, fmt.Errorf("engine command is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecEngine{
		command: append([]string(nil), command...),
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Init validates p. The bridge starts a fresh simulator per run, so there is
// no remote state to prepare.
func (e *ExecEngine) Init(ctx context.Context, p Params) (Handle, error) {
	return NewHandle(p)
}

type runRequest struct {
	DurationMs float64 `json:"duration_ms"`
	Params     Params  `json:"params"`
}

// Run sends p to the bridge and waits for the run to finish.
func (e *ExecEngine) Run(ctx context.Context, h Handle, durationMs float64, p Params) error {
	if err := Validate(p); err != nil {
		return err
	}
	if h.Nodes != p.Connection.NbRegion {
		return fmt.Errorf("%w: handle has %d nodes, params have %d", ErrInvalidParams, h.Nodes, p.Connection.NbRegion)
	}
	payload, err := json.Marshal(runRequest{DurationMs: durationMs, Params: p})
	if err != nil {
		return fmt.Errorf("encoding run request: %w", err)
	}

	start := time.Now()
	if _, err := e.call(ctx, payload, "run"); err != nil {
		return fmt.Errorf("engine run %s: %w", p.Simulation.PathResult, err)
	}
	e.logger.Debug("engine run finished", "path", p.Simulation.PathResult, "elapsed", time.Since(start))
	return nil
}

// Result asks the bridge to load a persisted run.
func (e *ExecEngine) Result(ctx context.Context, path string, cutTransientMs, durationMs float64) (*Result, error) {
	out, err := e.call(ctx, nil, "result",
		"--path", path,
		"--cut", strconv.FormatFloat(cutTransientMs, 'g', -1, 64),
		"--duration", strconv.FormatFloat(durationMs, 'g', -1, 64),
	)
	if err != nil {
		return nil, fmt.Errorf("engine result %s: %w", path, err)
	}

	var res Result
	if err := json.Unmarshal(out, &res); err != nil {
		return nil, fmt.Errorf("decoding result %s: %w", path, err)
	}
	if err := res.Validate(); err != nil {
		return nil, fmt.Errorf("result %s: %w", path, err)
	}
	return &res, nil
}

func (e *ExecEngine) call(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	argv := append(append([]string(nil), e.command[1:]...), args...)
	cmd := exec.CommandContext(ctx, e.command[0], argv...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Log(ctx, logging.LevelTrace, "engine call", "command", e.command[0], "args", argv)
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s", err, tail(stderr.Bytes(), maxStderrInError))
	}
	return stdout.Bytes(), nil
}

func tail(b []byte, n int) string {
	b = bytes.TrimSpace(b)
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}
