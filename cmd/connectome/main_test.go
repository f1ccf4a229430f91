package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/connectome/internal/archive"
	"github.com/nvandessel/connectome/internal/config"
	"github.com/nvandessel/connectome/internal/connectome"
	"github.com/nvandessel/connectome/internal/engine"
	"github.com/nvandessel/connectome/internal/results"
	"github.com/nvandessel/connectome/internal/store"
	"github.com/nvandessel/connectome/internal/sweep"
)

// testEnv is a temp workspace with a three-region dataset and a config file
// pointing at it.
type testEnv struct {
	dir     string
	conn    string
	results string
	config  string
	engine  *engine.MockEngine
}

// isolateEnv clears CONNECTOME_* variables and points HOME at tmpDir so
// tests never read a real ~/.connectome/config.yaml.
func isolateEnv(t *testing.T, tmpDir string) {
	t.Helper()
	t.Setenv("HOME", tmpDir)
	for _, v := range []string{
		"CONNECTOME_CONNECTIVITY",
		"CONNECTOME_ENGINE",
		"CONNECTOME_RESULTS_ROOT",
		"CONNECTOME_SWEEP_MODE",
		"CONNECTOME_CONTINUE_ON_ERROR",
		"CONNECTOME_LOG_LEVEL",
	} {
		t.Setenv(v, "")
	}
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	isolateEnv(t, dir)

	env := &testEnv{
		dir:     dir,
		conn:    filepath.Join(dir, "conn"),
		results: filepath.Join(dir, "results"),
		config:  filepath.Join(dir, "config.yaml"),
		engine:  engine.NewMockEngine().WithStep(50),
	}

	c, err := connectome.New(
		[][]float64{{0, 0.2, 0.1}, {0.3, 0, 0.6}, {0.8, 0.5, 0}},
		[][]float64{{0, 12, 30}, {12, 0, 18}, {30, 18, 0}},
		[]connectome.Region{
			{Name: "lh_V1", Coords: [3]float64{1, 2, 3}},
			{Name: "lh_V2", Coords: [3]float64{4, 5, 6}},
			{Name: "rh_V4", Coords: [3]float64{7, 8, 9}},
		},
	)
	if err != nil {
		t.Fatalf("connectome.New failed: %v", err)
	}
	if _, err := c.Save(env.conn, connectome.SaveOptions{}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	cfg := config.Default()
	cfg.Connectome.Path = env.conn
	cfg.Simulation.ResultsRoot = env.results
	cfg.Engine.Command = []string{"unused-bridge"}
	if err := cfg.Save(env.config); err != nil {
		t.Fatalf("config Save failed: %v", err)
	}

	prev := newEngine
	newEngine = func(*config.Config, *slog.Logger) (engine.Engine, error) { return env.engine, nil }
	t.Cleanup(func() { newEngine = prev })

	return env
}

// run executes the CLI with --config prepended and returns stdout.
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	rootCmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := rootCmd.Execute()
	return stdout.String(), err
}

func (e *testEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	if err != nil {
		t.Fatalf("%s failed: %v", strings.Join(args, " "), err)
	}
	return out
}

func decodeJSON(t *testing.T, s string, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(s), v); err != nil {
		t.Fatalf("invalid JSON %q: %v", s, err)
	}
}

func TestRootCmdHasSubcommands(t *testing.T) {
	rootCmd := newRootCmd()
	for _, name := range []string{"version", "regions", "lookup", "edit", "sweep", "runs", "plot", "export", "config", "mcp-server"} {
		found := false
		for _, c := range rootCmd.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
	for _, flag := range []string{"json", "config", "log-level", "connectivity"} {
		if rootCmd.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("missing global flag --%s", flag)
		}
	}
}

func TestVersionCmdJSON(t *testing.T) {
	env := setupEnv(t)
	var got map[string]string
	decodeJSON(t, env.mustRun(t, "version", "--json"), &got)
	if got["version"] != version {
		t.Errorf("version = %q, want %q", got["version"], version)
	}
}

func TestRegionsCmd(t *testing.T) {
	env := setupEnv(t)

	var got struct {
		Regions []struct {
			ID   int    `json:"id"`
			Name string `json:"name"`
		} `json:"regions"`
		TotalCount int `json:"total_count"`
	}
	decodeJSON(t, env.mustRun(t, "regions", "--json"), &got)
	if got.TotalCount != 3 || got.Regions[2].Name != "rh_V4" || got.Regions[2].ID != 2 {
		t.Errorf("regions = %+v", got)
	}

	text := env.mustRun(t, "regions")
	if !strings.Contains(text, "lh_V2") {
		t.Errorf("text output missing lh_V2: %q", text)
	}
}

func TestLookupCmd(t *testing.T) {
	env := setupEnv(t)

	var ids struct {
		IDs     []int    `json:"ids"`
		Missing []string `json:"missing"`
	}
	decodeJSON(t, env.mustRun(t, "lookup", "ids", "rh_V4", "nope", "lh_V1", "--json"), &ids)
	if fmt.Sprint(ids.IDs) != "[2 0]" || fmt.Sprint(ids.Missing) != "[nope]" {
		t.Errorf("ids = %+v", ids)
	}

	if out := env.mustRun(t, "lookup", "names", "1", "0"); out != "lh_V2\nlh_V1\n" {
		t.Errorf("names output = %q", out)
	}

	_, err := env.run(t, "lookup", "names", "3")
	if !errors.Is(err, connectome.ErrNotFound) {
		t.Errorf("out of range id: err = %v, want ErrNotFound", err)
	}
	if _, err := env.run(t, "lookup", "names", "x"); err == nil {
		t.Error("non-numeric id accepted")
	}
}

func TestEditCmdAppliesOpsInOrder(t *testing.T) {
	env := setupEnv(t)
	outDir := filepath.Join(env.dir, "edited")

	// The weight is set before duplication, so the copy inherits it.
	env.mustRun(t, "edit",
		"--set-weight", "lh_V1,rh_V4,0.9",
		"--duplicate", "lh_V1",
		"--out", outDir,
	)

	c, err := connectome.Load(outDir)
	if err != nil {
		t.Fatalf("Load edited failed: %v", err)
	}
	if c.Len() != 4 {
		t.Fatalf("Len = %d, want 4", c.Len())
	}
	names, _ := c.RegionNameFinder([]int{0, 1})
	if names[0] != "lh_V1a" || names[1] != "lh_V1b" {
		t.Errorf("regions 0,1 = %v, want lh_V1a, lh_V1b", names)
	}
	w := c.Weights()
	if w.At(0, 3) != 0.45 || w.At(1, 3) != 0.45 {
		t.Errorf("duplicated outgoing weights = %g, %g, want 0.45 each", w.At(0, 3), w.At(1, 3))
	}
	// rh_V4 -> lh_V1 was untouched by --set-weight and only halved by the split.
	if w.At(3, 0) != 0.4 {
		t.Errorf("reverse weight = %g, want 0.4", w.At(3, 0))
	}

	if err := archive.Verify(archive.ArchivePath(outDir), outDir); err != nil {
		t.Errorf("archive does not match directory: %v", err)
	}
}

func TestEditCmdErrors(t *testing.T) {
	env := setupEnv(t)
	outDir := filepath.Join(env.dir, "edited")

	tests := []struct {
		name string
		args []string
	}{
		{"no ops", []string{"edit", "--out", outDir}},
		{"no out", []string{"edit", "--duplicate", "lh_V1"}},
		{"bad set-weight", []string{"edit", "--set-weight", "lh_V1,rh_V4", "--out", outDir}},
		{"bad value", []string{"edit", "--set-weight", "lh_V1,rh_V4,x", "--out", outDir}},
		{"unknown region", []string{"edit", "--duplicate", "V9", "--out", outDir}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.run(t, tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := os.Stat(archive.ArchivePath(outDir)); !os.IsNotExist(err) {
		t.Errorf("failed edit wrote an archive: %v", err)
	}
}

func TestSweepPlanCmd(t *testing.T) {
	env := setupEnv(t)

	var got struct {
		Sweep string      `json:"sweep"`
		Mode  string      `json:"mode"`
		Runs  []sweep.Run `json:"runs"`
	}
	decodeJSON(t, env.mustRun(t, "sweep", "plan", "--region", "lh_V1", "--amp", "0,0.001", "--b", "0,60", "--json"), &got)

	want := []string{"b0_stim0_lh_V1", "b60_stim0_lh_V1", "b0_stim0.001_lh_V1", "b60_stim0.001_lh_V1"}
	if len(got.Runs) != len(want) {
		t.Fatalf("got %d runs, want %d", len(got.Runs), len(want))
	}
	for i, r := range got.Runs {
		if r.Folder != want[i] {
			t.Errorf("run %d folder = %q, want %q", i, r.Folder, want[i])
		}
	}
	if got.Mode != "product" || got.Sweep != sweep.DefaultName {
		t.Errorf("mode/sweep = %q/%q", got.Mode, got.Sweep)
	}

	if _, err := env.run(t, "sweep", "plan", "--region", "V9", "--amp", "0.001"); !errors.Is(err, connectome.ErrNotFound) {
		t.Errorf("unknown region: err = %v, want ErrNotFound", err)
	}
}

func TestSweepPlanCmdFromFile(t *testing.T) {
	env := setupEnv(t)
	planPath := filepath.Join(env.dir, "plan.yaml")
	plan := `name: pair
mode: zip
b_values: [30]
targets:
  - region: lh_V1
    amplitudes: [0.001, 0.002]
  - region: rh_V4
    amplitudes: [0.003, 0.004]
`
	if err := os.WriteFile(planPath, []byte(plan), 0644); err != nil {
		t.Fatal(err)
	}

	out := env.mustRun(t, "sweep", "plan", "--plan", planPath)
	for _, folder := range []string{"pair_b30_stim0.001_0.003_lh_V1_rh_V4", "pair_b30_stim0.002_0.004_lh_V1_rh_V4"} {
		if !strings.Contains(out, folder) {
			t.Errorf("output missing %s:\n%s", folder, out)
		}
	}

	// Flags override the file.
	out = env.mustRun(t, "sweep", "plan", "--plan", planPath, "--b", "60")
	if !strings.Contains(out, "pair_b60_stim0.001_0.003_lh_V1_rh_V4") {
		t.Errorf("--b did not override the plan:\n%s", out)
	}
}

func TestSweepRunCmd(t *testing.T) {
	env := setupEnv(t)
	metricsFile := filepath.Join(env.dir, "sweep.prom")

	var report sweep.Report
	decodeJSON(t, env.mustRun(t, "sweep", "run",
		"--region", "lh_V1", "--amp", "0,0.001", "--b", "5",
		"--metrics-file", metricsFile, "--json"), &report)

	if report.Succeeded != 2 || report.Failed != 0 {
		t.Errorf("report = %+v", report)
	}
	if len(env.engine.RunCalls) != 2 {
		t.Errorf("engine ran %d times, want 2", len(env.engine.RunCalls))
	}
	for _, folder := range []string{"b5_stim0_lh_V1", "b5_stim0.001_lh_V1"} {
		if _, err := os.Stat(filepath.Join(env.results, folder, engine.MockResultFile)); err != nil {
			t.Errorf("missing result for %s: %v", folder, err)
		}
	}
	if _, err := os.Stat(filepath.Join(env.results, store.DBFile)); err != nil {
		t.Errorf("ledger not created: %v", err)
	}
	data, err := os.ReadFile(metricsFile)
	if err != nil {
		t.Fatalf("metrics file not written: %v", err)
	}
	if !strings.Contains(string(data), `connectome_sweep_runs_total{status="succeeded"} 2`) {
		t.Errorf("metrics file missing run count:\n%s", data)
	}

	// Resume skips both runs.
	decodeJSON(t, env.mustRun(t, "sweep", "run",
		"--region", "lh_V1", "--amp", "0,0.001", "--b", "5", "--resume", "--json"), &report)
	if report.Skipped != 2 || len(env.engine.RunCalls) != 2 {
		t.Errorf("resume report = %+v, engine calls = %d", report, len(env.engine.RunCalls))
	}

	var runs struct {
		Runs       []store.RunRecord `json:"runs"`
		TotalCount int               `json:"total_count"`
	}
	decodeJSON(t, env.mustRun(t, "runs", "list", "--json"), &runs)
	if runs.TotalCount != 2 || runs.Runs[0].Status != store.StatusSucceeded {
		t.Errorf("runs list = %+v", runs)
	}
}

func TestSweepRunCmdFailures(t *testing.T) {
	env := setupEnv(t)
	env.engine.WithRunError("b5_stim0_lh_V1", errors.New("bridge crashed"))

	_, err := env.run(t, "sweep", "run", "--region", "lh_V1", "--amp", "0,0.001")
	if err == nil || !strings.Contains(err.Error(), "bridge crashed") {
		t.Fatalf("halt-on-error: err = %v", err)
	}
	if len(env.engine.RunCalls) != 1 {
		t.Errorf("halt-on-error ran %d runs, want 1", len(env.engine.RunCalls))
	}

	out, err := env.run(t, "sweep", "run", "--region", "lh_V1", "--amp", "0,0.001", "--continue-on-error")
	if !errors.Is(err, sweep.ErrRunsFailed) {
		t.Errorf("continue-on-error: err = %v, want ErrRunsFailed", err)
	}
	if !strings.Contains(out, "1 succeeded, 1 failed") {
		t.Errorf("summary missing:\n%s", out)
	}
}

func TestPlotAndExportCmds(t *testing.T) {
	env := setupEnv(t)
	sweepArgs := []string{"--region", "lh_V1", "--amp", "0,0.001", "--b", "5"}
	env.mustRun(t, append([]string{"sweep", "run"}, sweepArgs...)...)

	pngPath := filepath.Join(env.dir, "out", "v4.png")
	env.mustRun(t, append([]string{"plot", "--show", "rh_V4", "--out", pngPath}, sweepArgs...)...)
	data, err := os.ReadFile(pngPath)
	if err != nil {
		t.Fatalf("plot not written: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Error("plot is not a PNG")
	}

	var exported struct {
		Path string `json:"path"`
		Runs int    `json:"runs"`
	}
	decodeJSON(t, env.mustRun(t, append([]string{"export", "--json"}, sweepArgs...)...), &exported)
	if exported.Runs != 2 || exported.Path != filepath.Join(env.results, "sweep_lh_V1.arrow") {
		t.Errorf("export = %+v", exported)
	}
	f, err := os.Open(exported.Path)
	if err != nil {
		t.Fatalf("opening export: %v", err)
	}
	defer f.Close()
	got, err := results.ReadArrow(f)
	if err != nil {
		t.Fatalf("ReadArrow failed: %v", err)
	}
	if got.Region != "lh_V1" || got.RegionID != 0 || len(got.Runs) != 2 {
		t.Errorf("exported = %s/%d with %d runs", got.Region, got.RegionID, len(got.Runs))
	}

	if _, err := env.run(t, append([]string{"plot", "--show", "V9"}, sweepArgs...)...); err == nil {
		t.Error("plot of unknown region succeeded")
	}
}

func TestConfigCmds(t *testing.T) {
	env := setupEnv(t)

	var got map[string]any
	decodeJSON(t, env.mustRun(t, "config", "get", "simulation.results_root", "--json"), &got)
	if got["value"] != env.results {
		t.Errorf("results_root = %v, want %s", got["value"], env.results)
	}

	if out := env.mustRun(t, "config", "get", "sweep.mode"); out != "sweep.mode = product\n" {
		t.Errorf("sweep.mode output = %q", out)
	}

	if _, err := env.run(t, "config", "get", "no.such.key"); err == nil {
		t.Error("unknown key accepted")
	}

	list := env.mustRun(t, "config", "list")
	for _, key := range config.Keys() {
		if !strings.Contains(list, key+":") {
			t.Errorf("config list missing %s", key)
		}
	}

	if _, err := env.run(t, "config", "list", "--log-level", "loud"); err == nil {
		t.Error("invalid --log-level accepted")
	}
}

func TestMissingConfigFile(t *testing.T) {
	env := setupEnv(t)
	env.config = filepath.Join(env.dir, "absent.yaml")
	if _, err := env.run(t, "regions"); err == nil {
		t.Error("explicit missing --config accepted")
	}
}
