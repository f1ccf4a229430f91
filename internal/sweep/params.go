package sweep

import (
	"fmt"

	"github.com/nvandessel/connectome/internal/config"
	"github.com/nvandessel/connectome/internal/connectome"
	"github.com/nvandessel/connectome/internal/engine"
)

// stimulusVariable is the model state variable the pulse drives
// (excitatory firing rate).
const stimulusVariable = 0

// BuildParams assembles a fresh parameter set for run, writing results to
// path. Nothing is shared with earlier runs.
func BuildParams(cfg *config.Config, c *connectome.Connectome, run Run, path string) (engine.Params, error) {
	if len(run.Regions) != len(run.Amplitudes) {
		return engine.Params{}, fmt.Errorf("run %s: %d regions but %d amplitudes",
			run.Folder, len(run.Regions), len(run.Amplitudes))
	}

	n := c.Len()
	weights := make([]float64, n)
	for i, name := range run.Regions {
		id, ok := c.Lookup(name)
		if !ok {
			return engine.Params{}, fmt.Errorf("run %s: region %q: %w", run.Folder, name, connectome.ErrNotFound)
		}
		weights[id] = run.Amplitudes[i]
	}

	sim := cfg.Simulation
	p := engine.Params{
		Simulation: engine.SimulationParams{
			PathResult: path,
			Seed:       sim.Seed,
		},
		Model: engine.ModelParams{
			BE:                run.B,
			ExternalInputExEx: sim.ExternalInput,
			ExternalInputInEx: sim.ExternalInput,
		},
		Connection: engine.ConnectionParams{
			Path:     cfg.Connectome.Path,
			Archive:  cfg.Connectome.Archive,
			NbRegion: n,
		},
		Stimulus: &engine.StimulusParams{
			Tau:       cfg.Stimulus.DurationMs,
			T:         cfg.Stimulus.InterstimulusMs,
			Variables: []int{stimulusVariable},
			Weights:   weights,
			Onset:     Onset(sim.CutTransientMs, sim.DurationMs),
		},
	}
	if !sim.IntegratorNoise {
		p.Integrator.Noise = engine.SilentNoise()
	}
	if !sim.WeightNoise {
		zero := 0.0
		p.Model.WeightNoise = &zero
	}
	return p, nil
}

// Onset places the pulse halfway through the retained window.
func Onset(cutTransientMs, durationMs float64) float64 {
	return cutTransientMs + 0.5*(durationMs-cutTransientMs)
}
