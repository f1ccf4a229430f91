// Package results loads finished sweep runs back from the engine, converts
// them to display units and renders or exports per-region traces.
package results

import (
	"context"
	"errors"
	"fmt"

	"github.com/nvandessel/connectome/internal/engine"
	"github.com/nvandessel/connectome/internal/pathutil"
	"github.com/nvandessel/connectome/internal/sweep"
	"gonum.org/v1/gonum/mat"
)

// Unit conversions from engine output.
const (
	msPerSecond = 1e3
	hzPerKHz    = 1e3
)

// ErrRegionOutOfRange is returned for a region id the run does not have.
var ErrRegionOutOfRange = errors.New("region out of range")

// Trace is one loaded run. Matrices are indexed [time][region].
type Trace struct {
	Run        sweep.Run
	Time       []float64  // seconds
	Exc        *mat.Dense // excitatory firing rate, Hz
	Inh        *mat.Dense // inhibitory firing rate, Hz
	Adaptation *mat.Dense // excitatory adaptation, nA
}

// Series is a single region's signals over time.
type Series struct {
	Time       []float64
	Exc        []float64
	Inh        []float64
	Adaptation []float64
}

// Regions returns the number of regions in the trace.
func (t *Trace) Regions() int {
	_, c := t.Exc.Dims()
	return c
}

// Region extracts the series of region id.
func (t *Trace) Region(id int) (Series, error) {
	if id < 0 || id >= t.Regions() {
		return Series{}, fmt.Errorf("%w: %d (run %s has %d regions)", ErrRegionOutOfRange, id, t.Run.Folder, t.Regions())
	}
	return Series{
		Time:       append([]float64(nil), t.Time...),
		Exc:        mat.Col(nil, id, t.Exc),
		Inh:        mat.Col(nil, id, t.Inh),
		Adaptation: mat.Col(nil, id, t.Adaptation),
	}, nil
}

// Loader reads runs through an engine.
type Loader struct {
	Engine         engine.Engine
	Root           string
	CutTransientMs float64
	DurationMs     float64
}

// Load reads every run in order. The first failure aborts.
func (l *Loader) Load(ctx context.Context, runs []sweep.Run) ([]Trace, error) {
	traces := make([]Trace, 0, len(runs))
	for _, run := range runs {
		tr, err := l.LoadRun(ctx, run)
		if err != nil {
			return nil, err
		}
		traces = append(traces, tr)
	}
	return traces, nil
}

// LoadRun reads one run and rescales it: time ms to s, firing rates kHz to
// Hz. Adaptation is kept in nA.
func (l *Loader) LoadRun(ctx context.Context, run sweep.Run) (Trace, error) {
	path, err := pathutil.JoinWithin(l.Root, run.Folder)
	if err != nil {
		return Trace{}, err
	}
	res, err := l.Engine.Result(ctx, path, l.CutTransientMs, l.DurationMs)
	if err != nil {
		return Trace{}, fmt.Errorf("loading %s: %w", run.Folder, err)
	}
	if err := res.Validate(); err != nil {
		return Trace{}, fmt.Errorf("loading %s: %w", run.Folder, err)
	}
	if res.Regions() == 0 {
		return Trace{}, fmt.Errorf("loading %s: result has no regions", run.Folder)
	}
	if len(res.Time) == 0 {
		return Trace{}, fmt.Errorf("loading %s: result has no samples after %g ms", run.Folder, l.CutTransientMs)
	}
	return newTrace(run, res), nil
}

func newTrace(run sweep.Run, res *engine.Result) Trace {
	n, regions := len(res.Time), res.Regions()
	tr := Trace{
		Run:        run,
		Time:       make([]float64, n),
		Exc:        mat.NewDense(n, regions, nil),
		Inh:        mat.NewDense(n, regions, nil),
		Adaptation: mat.NewDense(n, regions, nil),
	}
	for i, t := range res.Time {
		tr.Time[i] = t / msPerSecond
		row := res.Signal[i]
		for r := 0; r < regions; r++ {
			tr.Exc.Set(i, r, row[engine.ChannelExcFiringRate][r]*hzPerKHz)
			tr.Inh.Set(i, r, row[engine.ChannelInhFiringRate][r]*hzPerKHz)
			tr.Adaptation.Set(i, r, row[engine.ChannelExcAdaptation][r])
		}
	}
	return tr
}

// InhibitorySignals maps each run folder to the inhibitory firing rate of
// region id.
func InhibitorySignals(traces []Trace, id int) (map[string][]float64, error) {
	out := make(map[string][]float64, len(traces))
	for i := range traces {
		s, err := traces[i].Region(id)
		if err != nil {
			return nil, err
		}
		out[traces[i].Run.Folder] = s.Inh
	}
	return out, nil
}
