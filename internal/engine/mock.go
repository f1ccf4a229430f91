package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// MockResultFile is the file MockEngine writes into each result folder.
const MockResultFile = "result.json"

// MockEngine implements Engine without a simulator. Run writes a small
// synthetic result into the result folder; Result reads it back. Calls are
// recorded for verification.
type MockEngine struct {
	mu sync.Mutex

	stepMs   float64
	failures map[string]error
	initErr  error

	InitCalls []Params
	RunCalls  []RunCall
}

// RunCall records a call to Run.
type RunCall struct {
	DurationMs float64
	Params     Params
}

// NewMockEngine creates a MockEngine sampling every 100 ms.
func NewMockEngine() *MockEngine {
	return &MockEngine{
		stepMs:   100,
		failures: make(map[string]error),
	}
}

// WithStep sets the sample interval of synthetic results.
func (m *MockEngine) WithStep(stepMs float64) *MockEngine {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stepMs = stepMs
	return m
}

// WithRunError makes Run fail for the result folder whose base name is
// folder.
func (m *MockEngine) WithRunError(folder string, err error) *MockEngine {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[folder] = err
	return m
}

// WithInitError makes every Init fail.
func (m *MockEngine) WithInitError(err error) *MockEngine {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initErr = err
	return m
}

// Init records p and returns a handle.
func (m *MockEngine) Init(ctx context.Context, p Params) (Handle, error) {
	m.mu.Lock()
	m.InitCalls = append(m.InitCalls, p.Clone())
	err := m.initErr
	m.mu.Unlock()
	if err != nil {
		return Handle{}, err
	}
	return NewHandle(p)
}

// Run records the call and writes a synthetic result.
func (m *MockEngine) Run(ctx context.Context, h Handle, durationMs float64, p Params) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.RunCalls = append(m.RunCalls, RunCall{DurationMs: durationMs, Params: p.Clone()})
	err := m.failures[filepath.Base(p.Simulation.PathResult)]
	step := m.stepMs
	m.mu.Unlock()
	if err != nil {
		return err
	}

	res := synthesize(p, durationMs, step)
	if err := os.MkdirAll(p.Simulation.PathResult, 0755); err != nil {
		return err
	}
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(p.Simulation.PathResult, MockResultFile), data, 0644)
}

// Result reads a result written by Run and drops samples before
// cutTransientMs or after durationMs.
func (m *MockEngine) Result(ctx context.Context, path string, cutTransientMs, durationMs float64) (*Result, error) {
	data, err := os.ReadFile(filepath.Join(path, MockResultFile))
	if err != nil {
		return nil, fmt.Errorf("reading result: %w", err)
	}
	var full Result
	if err := json.Unmarshal(data, &full); err != nil {
		return nil, fmt.Errorf("decoding result: %w", err)
	}
	out := &Result{}
	for i, t := range full.Time {
		if t < cutTransientMs || t > durationMs {
			continue
		}
		out.Time = append(out.Time, t)
		out.Signal = append(out.Signal, full.Signal[i])
	}
	return out, nil
}

// synthesize produces firing rates in kHz: a 5/10 Hz baseline plus the
// stimulus weight (scaled to kHz) while the pulse is on. Adaptation rises
// linearly with time.
func synthesize(p Params, durationMs, stepMs float64) *Result {
	n := p.Connection.NbRegion
	res := &Result{}
	for t := 0.0; t <= durationMs; t += stepMs {
		row := make([][]float64, minResultChannels)
		for ch := range row {
			row[ch] = make([]float64, n)
		}
		for r := 0; r < n; r++ {
			pulse := 0.0
			if s := p.Stimulus; s != nil && t >= s.Onset && t < s.Onset+s.Tau {
				pulse = s.Weights[r] * 1e3
			}
			row[ChannelExcFiringRate][r] = 0.005 + pulse
			row[ChannelInhFiringRate][r] = 0.010 + 2*pulse
			row[ChannelExcAdaptation][r] = t * 1e-3 * p.Model.BE
		}
		res.Time = append(res.Time, t)
		res.Signal = append(res.Signal, row)
	}
	return res
}
