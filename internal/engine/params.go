package engine

import "slices"

// Params is the full parameter set for one engine invocation. It is a
// value: build a fresh one per run and never share it across runs.
type Params struct {
	Simulation SimulationParams `json:"parameter_simulation"`
	Model      ModelParams      `json:"parameter_model"`
	Connection ConnectionParams `json:"parameter_connection_between_region"`
	Coupling   CouplingParams   `json:"parameter_coupling"`
	Integrator IntegratorParams `json:"parameter_integrator"`
	Monitor    MonitorParams    `json:"parameter_monitor"`
	Stimulus   *StimulusParams  `json:"parameter_stimulus,omitempty"`
}

// SimulationParams configures output placement.
type SimulationParams struct {
	PathResult string `json:"path_result"`
	Seed       int64  `json:"seed,omitempty"`
}

// ModelParams holds the neural-mass model overrides this tool sets.
type ModelParams struct {
	BE                float64  `json:"b_e"`
	ExternalInputExEx float64  `json:"external_input_ex_ex"`
	ExternalInputInEx float64  `json:"external_input_in_ex"`
	WeightNoise       *float64 `json:"weight_noise,omitempty"`
}

// ConnectionParams points the engine at a connectivity dataset.
type ConnectionParams struct {
	Path     string `json:"path,omitempty"`
	Archive  string `json:"conn_filename,omitempty"`
	NbRegion int    `json:"nb_region"`
}

// CouplingParams is passed through to the engine untouched.
type CouplingParams struct {
	Type  string  `json:"type,omitempty"`
	Value float64 `json:"a,omitempty"`
}

// IntegratorParams configures the integrator; a nil Noise keeps the
// engine's default noise.
type IntegratorParams struct {
	Dt    float64      `json:"dt,omitempty"`
	Noise *NoiseParams `json:"noise_parameter,omitempty"`
}

// NoiseParams mirrors the engine's noise_parameter block.
type NoiseParams struct {
	Nsig []float64 `json:"nsig"`
	Ntau float64   `json:"ntau"`
	Dt   float64   `json:"dt"`
}

// MonitorParams is passed through to the engine untouched.
type MonitorParams struct {
	Raw bool `json:"Raw,omitempty"`
}

// StimulusParams describes a square pulse applied to selected regions.
type StimulusParams struct {
	Tau       float64   `json:"tau"`
	T         float64   `json:"T"`
	Variables []int     `json:"variables"`
	Weights   []float64 `json:"weights"`
	Onset     float64   `json:"onset"`
}

// SilentNoise returns integrator noise with every channel at zero.
func SilentNoise() *NoiseParams {
	return &NoiseParams{Nsig: make([]float64, 8), Ntau: 0, Dt: 0.1}
}

// Clone returns a deep copy of p.
func (p Params) Clone() Params {
	out := p
	if p.Model.WeightNoise != nil {
		v := *p.Model.WeightNoise
		out.Model.WeightNoise = &v
	}
	if p.Integrator.Noise != nil {
		n := *p.Integrator.Noise
		n.Nsig = slices.Clone(n.Nsig)
		out.Integrator.Noise = &n
	}
	if p.Stimulus != nil {
		s := *p.Stimulus
		s.Variables = slices.Clone(s.Variables)
		s.Weights = slices.Clone(s.Weights)
		out.Stimulus = &s
	}
	return out
}
