// Package engine is the boundary to the external neural-mass simulator.
// Nothing here integrates dynamics: the Engine interface describes the three
// entry points the simulator exposes, and ExecEngine reaches them through a
// bridge command.
package engine

import (
	"context"
	"errors"
	"fmt"
)

// Signal channels of a result array indexed [time][channel][region].
const (
	ChannelExcFiringRate = 0
	ChannelInhFiringRate = 1
	ChannelExcAdaptation = 5
	minResultChannels    = ChannelExcAdaptation + 1
)

// ErrInvalidParams is returned by Init when a parameter set cannot run.
var ErrInvalidParams = errors.New("invalid engine parameters")

// Engine is the simulator collaborator.
type Engine interface {
	// Init prepares a simulator for p.
	Init(ctx context.Context, p Params) (Handle, error)
	// Run blocks until the run's output is fully written to
	// p.Simulation.PathResult.
	Run(ctx context.Context, h Handle, durationMs float64, p Params) error
	// Result reads a persisted run, discarding the first cutTransientMs.
	Result(ctx context.Context, path string, cutTransientMs, durationMs float64) (*Result, error)
}

// Handle identifies an initialised simulator.
type Handle struct {
	Nodes  int
	params Params
}

// Params returns a copy of the parameters the handle was built from.
func (h Handle) Params() Params { return h.params.Clone() }

// NewHandle builds a handle for p after validating it.
func NewHandle(p Params) (Handle, error) {
	if err := Validate(p); err != nil {
		return Handle{}, err
	}
	return Handle{Nodes: p.Connection.NbRegion, params: p.Clone()}, nil
}

// Validate checks the invariants every engine relies on.
func Validate(p Params) error {
	if p.Simulation.PathResult == "" {
		return fmt.Errorf("%w: path_result is empty", ErrInvalidParams)
	}
	if p.Connection.NbRegion <= 0 {
		return fmt.Errorf("%w: nb_region must be positive, got %d", ErrInvalidParams, p.Connection.NbRegion)
	}
	if s := p.Stimulus; s != nil && len(s.Weights) != p.Connection.NbRegion {
		return fmt.Errorf("%w: stimulus has %d weights for %d regions",
			ErrInvalidParams, len(s.Weights), p.Connection.NbRegion)
	}
	return nil
}

// Result is one persisted run: sample times in ms and the signal array
// indexed [time][channel][region].
type Result struct {
	Time   []float64     `json:"time"`
	Signal [][][]float64 `json:"signal"`
}

// Regions returns the region count of the signal array.
func (r *Result) Regions() int {
	if len(r.Signal) == 0 || len(r.Signal[0]) == 0 {
		return 0
	}
	return len(r.Signal[0][0])
}

// Validate checks that the array is rectangular and carries every channel
// this tool reads.
func (r *Result) Validate() error {
	if len(r.Time) != len(r.Signal) {
		return fmt.Errorf("result has %d time points but %d signal rows", len(r.Time), len(r.Signal))
	}
	regions := r.Regions()
	for t, row := range r.Signal {
		if len(row) < minResultChannels {
			return fmt.Errorf("result row %d has %d channels, need at least %d", t, len(row), minResultChannels)
		}
		for ch, vals := range row {
			if len(vals) != regions {
				return fmt.Errorf("result row %d channel %d has %d regions, expected %d", t, ch, len(vals), regions)
			}
		}
	}
	return nil
}
