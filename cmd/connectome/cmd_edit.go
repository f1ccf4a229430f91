package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nvandessel/connectome/internal/connectome"
	"github.com/spf13/cobra"
)

// editOp is one structural change, applied in command-line order.
type editOp struct {
	kind  string // "duplicate" or "set-weight"
	from  string
	to    string
	value float64
}

func (op editOp) apply(c *connectome.Connectome) error {
	switch op.kind {
	case "duplicate":
		return c.DuplicateRegion(op.from)
	case "set-weight":
		return c.SetWeight(op.from, op.to, op.value)
	default:
		return fmt.Errorf("unknown edit %q", op.kind)
	}
}

func (op editOp) String() string {
	if op.kind == "duplicate" {
		return "duplicate " + op.from
	}
	return fmt.Sprintf("set-weight %s->%s=%g", op.from, op.to, op.value)
}

// opFlag appends to a shared op list so that --duplicate and --set-weight
// keep their relative order.
type opFlag struct {
	kind string
	ops  *[]editOp
}

func (f *opFlag) String() string { return "" }

func (f *opFlag) Type() string {
	if f.kind == "duplicate" {
		return "region"
	}
	return "from,to,value"
}

func (f *opFlag) Set(s string) error {
	op, err := parseEditOp(f.kind, s)
	if err != nil {
		return err
	}
	*f.ops = append(*f.ops, op)
	return nil
}

func parseEditOp(kind, s string) (editOp, error) {
	if kind == "duplicate" {
		if s == "" {
			return editOp{}, fmt.Errorf("region name must not be empty")
		}
		return editOp{kind: kind, from: s}, nil
	}

	parts := strings.Split(s, ",")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return editOp{}, fmt.Errorf("expected FROM,TO,VALUE, got %q", s)
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil {
		return editOp{}, fmt.Errorf("invalid weight %q: %w", parts[2], err)
	}
	return editOp{kind: kind, from: parts[0], to: parts[1], value: value}, nil
}

func newEditCmd() *cobra.Command {
	var ops []editOp

	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Modify the connectivity and save it as a new dataset",
		Long: `Apply edits to the connectivity in the order given, then write the
result to --out and pack it into <out>.zip.

--set-weight changes the directed weight FROM->TO only; the reverse entry
is left as is.

Examples:
  connectome edit --duplicate lh_V1 --out conn_dup
  connectome edit --set-weight lh_V1,rh_V4,0.5 --duplicate rh_V4 --out conn2 --remove-dir`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			outDir, _ := cmd.Flags().GetString("out")
			removeDir, _ := cmd.Flags().GetBool("remove-dir")

			if len(ops) == 0 {
				return fmt.Errorf("nothing to do: pass --duplicate or --set-weight")
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)
			c, err := loadConnectome(cfg)
			if err != nil {
				return err
			}

			before := c.Len()
			for _, op := range ops {
				if err := op.apply(c); err != nil {
					return fmt.Errorf("%s: %w", op, err)
				}
				logger.Debug("applied edit", "op", op.String(), "regions", c.Len())
			}

			info, err := c.Save(outDir, connectome.SaveOptions{RemoveDir: removeDir})
			if err != nil {
				return fmt.Errorf("failed to save connectivity: %w", err)
			}
			logger.Info("connectivity saved", "archive", info.Path, "regions", c.Len())

			out := cmd.OutOrStdout()
			if jsonOut {
				applied := make([]string, len(ops))
				for i, op := range ops {
					applied[i] = op.String()
				}
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"edits":          applied,
					"regions_before": before,
					"regions_after":  c.Len(),
					"archive":        info,
				})
			}

			fmt.Fprintf(out, "Applied %d edit(s); %d -> %d regions\n", len(ops), before, c.Len())
			fmt.Fprintf(out, "Archive: %s (%d bytes, sha256 %s)\n", info.Path, info.Size, info.Checksum)
			return nil
		},
	}

	cmd.Flags().Var(&opFlag{kind: "duplicate", ops: &ops}, "duplicate", "Duplicate a region (repeatable)")
	cmd.Flags().Var(&opFlag{kind: "set-weight", ops: &ops}, "set-weight", "Set the directed weight FROM->TO (repeatable)")
	cmd.Flags().String("out", "", "Output directory for the edited dataset (required)")
	cmd.Flags().Bool("remove-dir", false, "Remove the output directory after archiving")
	cmd.MarkFlagRequired("out")

	return cmd
}
