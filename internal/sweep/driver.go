package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nvandessel/connectome/internal/config"
	"github.com/nvandessel/connectome/internal/connectome"
	"github.com/nvandessel/connectome/internal/engine"
	"github.com/nvandessel/connectome/internal/logging"
	"github.com/nvandessel/connectome/internal/metrics"
	"github.com/nvandessel/connectome/internal/pathutil"
	"github.com/nvandessel/connectome/internal/store"
)

// ErrRunsFailed is returned after a continue-on-error sweep in which at
// least one run failed.
var ErrRunsFailed = errors.New("sweep runs failed")

// Ledger records run outcomes. *store.RunStore implements it.
type Ledger interface {
	Start(ctx context.Context, rec store.RunRecord) (string, error)
	Finish(ctx context.Context, id, status, errMsg string) error
	Succeeded(ctx context.Context, sweep, folder string) (bool, error)
}

// Driver executes sweep plans strictly one run at a time. Ledger, Metrics,
// Events and Logger are optional.
type Driver struct {
	Engine     engine.Engine
	Connectome *connectome.Connectome
	Config     *config.Config
	Ledger     Ledger
	Metrics    *metrics.Registry
	Events     *logging.EventLogger
	Logger     *slog.Logger
}

// Outcome is the result of one run.
type Outcome struct {
	Run      Run           `json:"run"`
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Report summarises a sweep.
type Report struct {
	Sweep     string        `json:"sweep"`
	Outcomes  []Outcome     `json:"outcomes"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Elapsed   time.Duration `json:"elapsed_ns"`
}

func (r *Report) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Status {
	case store.StatusSucceeded:
		r.Succeeded++
	case store.StatusFailed:
		r.Failed++
	case metrics.StatusSkipped:
		r.Skipped++
	}
}

// Run expands plan and executes its runs in order. By default the first
// failure stops the sweep and is returned. With Config.Sweep.ContinueOnError
// every run is attempted and the error matches ErrRunsFailed. The report is
// returned in every case.
func (d *Driver) Run(ctx context.Context, plan Plan) (*Report, error) {
	if d.Engine == nil || d.Connectome == nil || d.Config == nil {
		return nil, fmt.Errorf("sweep driver needs an engine, a connectome and a config")
	}
	logger := d.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	cfg := d.Config

	plan = plan.WithDefaults(cfg)
	runs, err := plan.Expand()
	if err != nil {
		return nil, err
	}
	if err := plan.Resolve(d.Connectome); err != nil {
		return nil, err
	}
	if cfg.Sweep.Resume && d.Ledger == nil {
		return nil, fmt.Errorf("resume needs a run ledger")
	}

	root := cfg.Simulation.ResultsRoot
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating results root: %w", err)
	}
	d.Metrics.SetRegions(d.Connectome.Len())

	report := &Report{Sweep: plan.Name}
	start := time.Now()
	defer func() { report.Elapsed = time.Since(start) }()

	logger.Info("sweep started", "sweep", plan.Name, "mode", plan.mode(), "runs", len(runs))
	d.Events.Log("sweep_started", map[string]any{
		"sweep": plan.Name,
		"mode":  string(plan.mode()),
		"runs":  len(runs),
	})

	for _, run := range runs {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("sweep %s interrupted before %s: %w", plan.Name, run.Folder, err)
		}

		if cfg.Sweep.Resume {
			done, err := d.Ledger.Succeeded(ctx, plan.Name, run.Folder)
			if err != nil {
				return report, err
			}
			if done {
				logger.Debug("run already succeeded, skipping", "folder", run.Folder)
				d.Events.Log("run_skipped", map[string]any{"sweep": plan.Name, "folder": run.Folder})
				d.Metrics.RecordRun(metrics.StatusSkipped, 0)
				report.add(Outcome{Run: run, Status: metrics.StatusSkipped})
				continue
			}
		}

		outcome, runErr := d.execute(ctx, plan.Name, run, logger)
		report.add(outcome)
		if runErr != nil && !cfg.Sweep.ContinueOnError {
			return report, fmt.Errorf("sweep %s stopped at %s: %w", plan.Name, run.Folder, runErr)
		}
	}

	logger.Info("sweep finished", "sweep", plan.Name,
		"succeeded", report.Succeeded, "failed", report.Failed, "skipped", report.Skipped,
		"elapsed", time.Since(start).Round(time.Millisecond))
	d.Events.Log("sweep_finished", map[string]any{
		"sweep":     plan.Name,
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
		"skipped":   report.Skipped,
	})

	if report.Failed > 0 {
		return report, fmt.Errorf("%w: %d of %d", ErrRunsFailed, report.Failed, len(runs))
	}
	return report, nil
}

// execute performs one run and records it in the ledger, metrics and event
// log. The returned error is the run's failure, if any.
func (d *Driver) execute(ctx context.Context, sweepName string, run Run, logger *slog.Logger) (Outcome, error) {
	cfg := d.Config
	start := time.Now()

	var ledgerID string
	if d.Ledger != nil {
		id, err := d.Ledger.Start(ctx, store.RunRecord{
			Sweep:      sweepName,
			Folder:     run.Folder,
			Regions:    run.Regions,
			Amplitudes: run.Amplitudes,
			B:          run.B,
		})
		if err != nil {
			logger.Warn("failed to record run start", "folder", run.Folder, "error", err)
		}
		ledgerID = id
	}

	logger.Info("run started", "folder", run.Folder, "regions", run.Regions,
		"amplitudes", run.Amplitudes, "b", run.B,
		"stimulus_ms", cfg.Stimulus.DurationMs, "interstimulus_ms", cfg.Stimulus.InterstimulusMs)
	d.Events.Log("run_started", map[string]any{
		"sweep":      sweepName,
		"folder":     run.Folder,
		"regions":    run.Regions,
		"amplitudes": run.Amplitudes,
		"b":          run.B,
	})

	err := d.runEngine(ctx, run)
	elapsed := time.Since(start)

	outcome := Outcome{Run: run, Status: store.StatusSucceeded, Duration: elapsed}
	if err != nil {
		outcome.Status = store.StatusFailed
		outcome.Error = err.Error()
		logger.Error("run failed", "folder", run.Folder, "error", err)
	} else {
		logger.Debug("run finished", "folder", run.Folder, "elapsed", elapsed.Round(time.Millisecond))
	}

	if ledgerID != "" {
		// Record the outcome even if ctx was cancelled mid-run.
		if ferr := d.Ledger.Finish(context.WithoutCancel(ctx), ledgerID, outcome.Status, outcome.Error); ferr != nil {
			logger.Warn("failed to record run outcome", "folder", run.Folder, "error", ferr)
		}
	}
	d.Metrics.RecordRun(outcome.Status, elapsed)
	d.Events.Log("run_finished", map[string]any{
		"sweep":       sweepName,
		"folder":      run.Folder,
		"status":      outcome.Status,
		"error":       outcome.Error,
		"duration_ms": elapsed.Milliseconds(),
	})
	return outcome, err
}

func (d *Driver) runEngine(ctx context.Context, run Run) error {
	cfg := d.Config
	path, err := pathutil.JoinWithin(cfg.Simulation.ResultsRoot, run.Folder)
	if err != nil {
		return err
	}
	p, err := BuildParams(cfg, d.Connectome, run, path)
	if err != nil {
		return err
	}
	h, err := d.Engine.Init(ctx, p)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	if err := d.Engine.Run(ctx, h, cfg.Simulation.DurationMs, p); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}
