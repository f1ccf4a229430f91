package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/nvandessel/connectome/internal/config"
	"github.com/nvandessel/connectome/internal/logging"
	"github.com/nvandessel/connectome/internal/metrics"
	"github.com/nvandessel/connectome/internal/store"
	"github.com/nvandessel/connectome/internal/sweep"
	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Plan and run stimulus sweeps",
		Long: `A sweep stimulates target regions with a list of amplitudes for each
adaptation strength b, one engine run per combination.

A plan comes from a YAML file (--plan) or from flags; flags override the
file. In product mode every target is stimulated alone; in zip mode all
targets are stimulated together, pairing their amplitude lists by index.

Examples:
  connectome sweep plan --region lh_V1 --amp 0,0.0001,0.001 --b 0,60
  connectome sweep run --plan sweep.yaml --continue-on-error
  connectome sweep run --mode zip --name pair --region lh_V1 --region rh_V1 --amp 0.001`,
	}

	cmd.AddCommand(
		newSweepPlanCmd(),
		newSweepRunCmd(),
	)

	return cmd
}

// addPlanFlags registers the flags read by planFromFlags.
func addPlanFlags(cmd *cobra.Command) {
	cmd.Flags().String("plan", "", "YAML plan file")
	cmd.Flags().String("name", "", "Sweep name")
	cmd.Flags().StringArray("region", nil, "Target region (repeatable)")
	cmd.Flags().Float64Slice("amp", nil, "Stimulus amplitudes for every target")
	cmd.Flags().Float64Slice("b", nil, "Adaptation strengths (default from config)")
	cmd.Flags().String("mode", "", "Sweep mode: product or zip (default from config)")
}

func planFromFlags(cmd *cobra.Command, cfg *config.Config) (sweep.Plan, error) {
	var plan sweep.Plan
	if path, _ := cmd.Flags().GetString("plan"); path != "" {
		p, err := sweep.LoadPlan(path)
		if err != nil {
			return sweep.Plan{}, err
		}
		plan = p
	}

	if cmd.Flags().Changed("name") {
		plan.Name, _ = cmd.Flags().GetString("name")
	}
	if cmd.Flags().Changed("region") {
		regions, _ := cmd.Flags().GetStringArray("region")
		plan.Targets = make([]sweep.Target, len(regions))
		for i, r := range regions {
			plan.Targets[i] = sweep.Target{Region: r}
		}
	}
	if cmd.Flags().Changed("amp") {
		plan.Amplitudes, _ = cmd.Flags().GetFloat64Slice("amp")
	}
	if cmd.Flags().Changed("b") {
		plan.BValues, _ = cmd.Flags().GetFloat64Slice("b")
	}
	if cmd.Flags().Changed("mode") {
		mode, _ := cmd.Flags().GetString("mode")
		plan.Mode = sweep.Mode(mode)
	}

	return plan.WithDefaults(cfg), nil
}

func newSweepPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "List the runs a sweep would perform",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			plan, err := planFromFlags(cmd, cfg)
			if err != nil {
				return err
			}
			runs, err := plan.Expand()
			if err != nil {
				return err
			}
			c, err := loadConnectome(cfg)
			if err != nil {
				return err
			}
			if err := plan.Resolve(c); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"sweep":        plan.Name,
					"mode":         plan.Mode,
					"runs":         runs,
					"total_count":  len(runs),
					"results_root": cfg.Simulation.ResultsRoot,
				})
			}

			fmt.Fprintf(out, "Sweep %s (%s), %d run(s) under %s:\n", plan.Name, plan.Mode, len(runs), cfg.Simulation.ResultsRoot)
			for _, r := range runs {
				fmt.Fprintf(out, "  %3d  %s\n", r.Index, r.Folder)
			}
			return nil
		},
	}
	addPlanFlags(cmd)
	return cmd
}

func newSweepRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a sweep through the simulator bridge",
		Long: `Run every run of a sweep in order. Each run is recorded in the ledger
(runs.db in the results root).

By default the first failed run stops the sweep. --continue-on-error
attempts every run and fails at the end if any run failed. --resume skips
runs the ledger already records as succeeded.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			metricsFile, _ := cmd.Flags().GetString("metrics-file")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("continue-on-error") {
				cfg.Sweep.ContinueOnError, _ = cmd.Flags().GetBool("continue-on-error")
			}
			if cmd.Flags().Changed("resume") {
				cfg.Sweep.Resume, _ = cmd.Flags().GetBool("resume")
			}
			logger := newLogger(cmd, cfg)

			plan, err := planFromFlags(cmd, cfg)
			if err != nil {
				return err
			}
			c, err := loadConnectome(cfg)
			if err != nil {
				return err
			}
			eng, err := newEngine(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to start engine: %w", err)
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			ledger, err := store.OpenRunStore(ctx, cfg.Simulation.ResultsRoot)
			if err != nil {
				return fmt.Errorf("failed to open run ledger: %w", err)
			}
			defer ledger.Close()

			events, err := logging.NewEventLogger(cfg.Simulation.ResultsRoot, cfg.Logging.Level)
			if err != nil {
				logger.Warn("event log disabled", "error", err)
			}
			defer events.Close()

			reg := metrics.NewRegistry()
			driver := &sweep.Driver{
				Engine:     eng,
				Connectome: c,
				Config:     cfg,
				Ledger:     ledger,
				Metrics:    reg,
				Events:     events,
				Logger:     logger,
			}

			report, runErr := driver.Run(ctx, plan)

			if metricsFile != "" {
				if err := reg.WriteTextfile(metricsFile); err != nil {
					logger.Warn("failed to write metrics", "path", metricsFile, "error", err)
				}
			}

			if report != nil {
				if err := printReport(cmd, report, jsonOut); err != nil {
					return err
				}
			}
			if errors.Is(runErr, context.Canceled) {
				return fmt.Errorf("sweep interrupted: %w", runErr)
			}
			return runErr
		},
	}
	addPlanFlags(cmd)
	cmd.Flags().Bool("continue-on-error", false, "Keep going after a failed run")
	cmd.Flags().Bool("resume", false, "Skip runs already recorded as succeeded")
	cmd.Flags().String("metrics-file", "", "Write Prometheus metrics to this textfile")
	return cmd
}

func printReport(cmd *cobra.Command, report *sweep.Report, jsonOut bool) error {
	out := cmd.OutOrStdout()
	if jsonOut {
		return json.NewEncoder(out).Encode(report)
	}

	for _, o := range report.Outcomes {
		line := fmt.Sprintf("  %-9s %s", o.Status, o.Run.Folder)
		if o.Error != "" {
			line += "  (" + firstLine(o.Error) + ")"
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintf(out, "Sweep %s: %d succeeded, %d failed, %d skipped\n",
		report.Sweep, report.Succeeded, report.Failed, report.Skipped)
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the run ledger",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			sweepName, _ := cmd.Flags().GetString("sweep")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ledger, err := store.OpenRunStore(cmd.Context(), cfg.Simulation.ResultsRoot)
			if err != nil {
				return fmt.Errorf("failed to open run ledger: %w", err)
			}
			defer ledger.Close()

			records, err := ledger.List(cmd.Context(), sweepName)
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"runs":        records,
					"total_count": len(records),
					"ledger":      filepath.Join(cfg.Simulation.ResultsRoot, store.DBFile),
				})
			}

			if len(records) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			for _, r := range records {
				fmt.Fprintf(out, "%s  %-9s %-12s %s  %v\n",
					r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Status, r.Sweep, r.Folder, r.Duration().Round(time.Millisecond))
			}
			return nil
		},
	}
	list.Flags().String("sweep", "", "Only list runs of this sweep")

	cmd.AddCommand(list)
	return cmd
}
