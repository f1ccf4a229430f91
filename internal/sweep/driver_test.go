package sweep

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/connectome/internal/config"
	"github.com/nvandessel/connectome/internal/engine"
	"github.com/nvandessel/connectome/internal/logging"
	"github.com/nvandessel/connectome/internal/metrics"
	"github.com/nvandessel/connectome/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type driverFixture struct {
	driver *Driver
	engine *engine.MockEngine
	ledger *store.RunStore
	root   string
}

func newDriverFixture(t *testing.T) *driverFixture {
	t.Helper()
	root := filepath.Join(t.TempDir(), "results")
	cfg := config.Default()
	cfg.Simulation.ResultsRoot = root

	ledger, err := store.OpenRunStore(context.Background(), root)
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	m := engine.NewMockEngine().WithStep(500)
	return &driverFixture{
		driver: &Driver{
			Engine:     m,
			Connectome: testConnectome(t),
			Config:     cfg,
			Ledger:     ledger,
			Metrics:    metrics.NewRegistry(),
		},
		engine: m,
		ledger: ledger,
		root:   root,
	}
}

func testPlan() Plan {
	return Plan{
		Name:       "visual",
		Targets:    []Target{{Region: "V1"}, {Region: "V4"}},
		Amplitudes: []float64{0, 0.001},
		BValues:    []float64{5},
	}
}

func TestDriverRun(t *testing.T) {
	f := newDriverFixture(t)
	ctx := context.Background()

	report, err := f.driver.Run(ctx, testPlan())
	require.NoError(t, err)

	assert.Equal(t, "visual", report.Sweep)
	assert.Equal(t, 4, report.Succeeded)
	assert.Zero(t, report.Failed)
	require.Len(t, f.engine.RunCalls, 4)
	require.Len(t, f.engine.InitCalls, 4)

	// Zero-amplitude runs still execute (spontaneous activity baseline).
	first := f.engine.RunCalls[0]
	assert.Equal(t, filepath.Join(f.root, "b5_stim0_V1"), first.Params.Simulation.PathResult)
	assert.Equal(t, []float64{0, 0, 0}, first.Params.Stimulus.Weights)
	assert.Equal(t, 5000.0, first.DurationMs)

	last := f.engine.RunCalls[3]
	assert.Equal(t, filepath.Join(f.root, "b5_stim0.001_V4"), last.Params.Simulation.PathResult)
	assert.Equal(t, []float64{0, 0, 0.001}, last.Params.Stimulus.Weights)

	for _, o := range report.Outcomes {
		_, err := os.Stat(filepath.Join(f.root, o.Run.Folder, engine.MockResultFile))
		assert.NoError(t, err, "result folder for %s", o.Run.Folder)
	}

	recs, err := f.ledger.List(ctx, "visual")
	require.NoError(t, err)
	require.Len(t, recs, 4)
	for _, r := range recs {
		assert.Equal(t, store.StatusSucceeded, r.Status)
	}
}

func TestDriverHaltsOnError(t *testing.T) {
	f := newDriverFixture(t)
	boom := errors.New("simulator crashed")
	f.engine.WithRunError("b5_stim0.001_V1", boom)

	report, err := f.driver.Run(context.Background(), testPlan())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrRunsFailed)

	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Len(t, f.engine.RunCalls, 2, "no runs after the failure")

	recs, err := f.ledger.List(context.Background(), "visual")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, store.StatusFailed, recs[1].Status)
	assert.Contains(t, recs[1].Error, "simulator crashed")
}

func TestDriverContinueOnError(t *testing.T) {
	f := newDriverFixture(t)
	f.driver.Config.Sweep.ContinueOnError = true
	f.engine.WithRunError("b5_stim0.001_V1", errors.New("simulator crashed"))

	report, err := f.driver.Run(context.Background(), testPlan())
	assert.ErrorIs(t, err, ErrRunsFailed)
	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Len(t, f.engine.RunCalls, 4)
	assert.Equal(t, store.StatusFailed, report.Outcomes[1].Status)
}

func TestDriverResume(t *testing.T) {
	f := newDriverFixture(t)
	ctx := context.Background()
	f.driver.Config.Sweep.ContinueOnError = true
	f.engine.WithRunError("b5_stim0_V4", errors.New("transient"))

	_, err := f.driver.Run(ctx, testPlan())
	require.ErrorIs(t, err, ErrRunsFailed)

	// Second pass with a healthy engine only reruns the failure.
	healthy := engine.NewMockEngine().WithStep(500)
	f.driver.Engine = healthy
	f.driver.Config.Sweep.Resume = true

	report, err := f.driver.Run(ctx, testPlan())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Skipped)
	assert.Equal(t, 1, report.Succeeded)
	require.Len(t, healthy.RunCalls, 1)
	assert.True(t, strings.HasSuffix(healthy.RunCalls[0].Params.Simulation.PathResult, "b5_stim0_V4"))
}

func TestDriverResumeZipDifferentTargets(t *testing.T) {
	f := newDriverFixture(t)
	ctx := context.Background()
	zipPlan := func(a, b string) Plan {
		return Plan{
			Mode:       ModeZip,
			Targets:    []Target{{Region: a}, {Region: b}},
			Amplitudes: []float64{0.001},
			BValues:    []float64{5},
		}
	}

	_, err := f.driver.Run(ctx, zipPlan("V1", "V2"))
	require.NoError(t, err)

	f.driver.Config.Sweep.Resume = true
	report, err := f.driver.Run(ctx, zipPlan("V2", "V4"))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Skipped)
	assert.Equal(t, 1, report.Succeeded)
	require.Len(t, f.engine.RunCalls, 2)
	assert.Equal(t, []float64{0, 0.001, 0.001}, f.engine.RunCalls[1].Params.Stimulus.Weights)

	for _, folder := range []string{"sweep_b5_stim0.001_0.001_V1_V2", "sweep_b5_stim0.001_0.001_V2_V4"} {
		_, err := os.Stat(filepath.Join(f.root, folder, engine.MockResultFile))
		assert.NoError(t, err, folder)
	}
}

func TestDriverResumeNeedsLedger(t *testing.T) {
	f := newDriverFixture(t)
	f.driver.Ledger = nil
	f.driver.Config.Sweep.Resume = true

	_, err := f.driver.Run(context.Background(), testPlan())
	assert.Error(t, err)
	assert.Empty(t, f.engine.RunCalls)
}

func TestDriverUnknownTarget(t *testing.T) {
	f := newDriverFixture(t)
	plan := testPlan()
	plan.Targets = append(plan.Targets, Target{Region: "MT"})

	_, err := f.driver.Run(context.Background(), plan)
	assert.Error(t, err)
	assert.Empty(t, f.engine.RunCalls, "no run starts when a target is unknown")
}

func TestDriverCancelled(t *testing.T) {
	f := newDriverFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.driver.Run(ctx, testPlan())
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Empty(t, f.engine.RunCalls)
}

func TestDriverZipMode(t *testing.T) {
	f := newDriverFixture(t)
	plan := Plan{
		Name: "pair",
		Mode: ModeZip,
		Targets: []Target{
			{Region: "V1", Amplitudes: []float64{0.001}},
			{Region: "V2", Amplitudes: []float64{0.002}},
		},
		BValues: []float64{5, 30},
	}

	report, err := f.driver.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)
	require.Len(t, f.engine.RunCalls, 2)

	p := f.engine.RunCalls[1].Params
	assert.Equal(t, []float64{0.001, 0.002, 0}, p.Stimulus.Weights)
	assert.Equal(t, 30.0, p.Model.BE)
	assert.Equal(t, filepath.Join(f.root, "pair_b30_stim0.001_0.002_V1_V2"), p.Simulation.PathResult)
}

func TestDriverEventsAndMetrics(t *testing.T) {
	f := newDriverFixture(t)
	events, err := logging.NewEventLogger(f.root, "debug")
	require.NoError(t, err)
	f.driver.Events = events

	_, err = f.driver.Run(context.Background(), testPlan())
	require.NoError(t, err)
	require.NoError(t, events.Close())

	data, err := os.ReadFile(filepath.Join(f.root, logging.EventsFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2+2*4)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "sweep_started", first["event"])

	prom := filepath.Join(t.TempDir(), "sweep.prom")
	require.NoError(t, f.driver.Metrics.WriteTextfile(prom))
	text, err := os.ReadFile(prom)
	require.NoError(t, err)
	assert.Contains(t, string(text), `connectome_sweep_runs_total{status="succeeded"} 4`)
	assert.Contains(t, string(text), "connectome_regions 3")
}

func TestDriverWithoutOptionalCollaborators(t *testing.T) {
	f := newDriverFixture(t)
	f.driver.Ledger = nil
	f.driver.Metrics = nil

	report, err := f.driver.Run(context.Background(), testPlan())
	require.NoError(t, err)
	assert.Equal(t, 4, report.Succeeded)
}
