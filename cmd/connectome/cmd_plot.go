package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nvandessel/connectome/internal/config"
	"github.com/nvandessel/connectome/internal/results"
	"github.com/nvandessel/connectome/internal/sweep"
	"github.com/spf13/cobra"
)

// loadedSweep is a sweep's traces plus the region picked for display.
type loadedSweep struct {
	plan     sweep.Plan
	traces   []results.Trace
	region   string
	regionID int
}

// loadSweep reads back every run of the plan described by the flags and
// resolves --show (default: the first target).
func loadSweep(ctx context.Context, cmd *cobra.Command, cfg *config.Config) (*loadedSweep, error) {
	plan, err := planFromFlags(cmd, cfg)
	if err != nil {
		return nil, err
	}
	runs, err := plan.Expand()
	if err != nil {
		return nil, err
	}
	c, err := loadConnectome(cfg)
	if err != nil {
		return nil, err
	}

	show, _ := cmd.Flags().GetString("show")
	if show == "" {
		show = plan.Targets[0].Region
	}
	id, ok := c.Lookup(show)
	if !ok {
		return nil, fmt.Errorf("unknown region: %s", show)
	}

	eng, err := newEngine(cfg, newLogger(cmd, cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}
	loader := &results.Loader{
		Engine:         eng,
		Root:           cfg.Simulation.ResultsRoot,
		CutTransientMs: cfg.Simulation.CutTransientMs,
		DurationMs:     cfg.Simulation.DurationMs,
	}
	traces, err := loader.Load(ctx, runs)
	if err != nil {
		return nil, fmt.Errorf("failed to load results: %w", err)
	}

	return &loadedSweep{plan: plan, traces: traces, region: show, regionID: id}, nil
}

func writeOutput(path string, write func(f *os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func newPlotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plot",
		Short: "Plot a region's firing rate and adaptation for every run of a sweep",
		Long: `Load every run of a sweep and draw one row per run: firing rates
(inhibitory and excitatory) on the left, adaptation on the right.

Examples:
  connectome plot --plan sweep.yaml --show rh_V4 --out v4.png
  connectome plot --region lh_V1 --amp 0,0.001 --b 0,60`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			outPath, _ := cmd.Flags().GetString("out")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ls, err := loadSweep(cmd.Context(), cmd, cfg)
			if err != nil {
				return err
			}
			if outPath == "" {
				outPath = filepath.Join(cfg.Simulation.ResultsRoot, fmt.Sprintf("%s_%s.png", ls.plan.Name, ls.region))
			}

			opts := results.PlotOptionsFromConfig(cfg.Plot)
			err = writeOutput(outPath, func(f *os.File) error {
				return results.Render(f, ls.traces, ls.region, ls.regionID, opts)
			})
			if err != nil {
				return fmt.Errorf("failed to render plot: %w", err)
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"path":   outPath,
					"region": ls.region,
					"runs":   len(ls.traces),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Plotted %s over %d run(s): %s\n", ls.region, len(ls.traces), outPath)
			return nil
		},
	}
	addPlanFlags(cmd)
	cmd.Flags().String("show", "", "Region to plot (default: first target)")
	cmd.Flags().String("out", "", "Output PNG (default <results_root>/<sweep>_<region>.png)")
	return cmd
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a region's signals for every run of a sweep as Arrow IPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			outPath, _ := cmd.Flags().GetString("out")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ls, err := loadSweep(cmd.Context(), cmd, cfg)
			if err != nil {
				return err
			}
			if outPath == "" {
				outPath = filepath.Join(cfg.Simulation.ResultsRoot, fmt.Sprintf("%s_%s.arrow", ls.plan.Name, ls.region))
			}

			err = writeOutput(outPath, func(f *os.File) error {
				return results.WriteArrow(f, ls.traces, ls.region, ls.regionID)
			})
			if err != nil {
				return fmt.Errorf("failed to export: %w", err)
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"path":   outPath,
					"region": ls.region,
					"runs":   len(ls.traces),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %s over %d run(s): %s\n", ls.region, len(ls.traces), outPath)
			return nil
		},
	}
	addPlanFlags(cmd)
	cmd.Flags().String("show", "", "Region to export (default: first target)")
	cmd.Flags().String("out", "", "Output file (default <results_root>/<sweep>_<region>.arrow)")
	return cmd
}
