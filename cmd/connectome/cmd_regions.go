package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newRegionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "regions",
		Short: "List the regions of the connectivity dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			c, err := loadConnectome(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				type jsonRegion struct {
					ID     int        `json:"id"`
					Name   string     `json:"name"`
					Centre [3]float64 `json:"centre"`
				}
				regions := c.Regions()
				entries := make([]jsonRegion, len(regions))
				for i, r := range regions {
					entries[i] = jsonRegion{ID: i, Name: r.Name, Centre: r.Coords}
				}
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"regions":     entries,
					"total_count": len(entries),
				})
			}

			for i, r := range c.Regions() {
				fmt.Fprintf(out, "%4d  %-24s %10.4f %10.4f %10.4f\n", i, r.Name, r.Coords[0], r.Coords[1], r.Coords[2])
			}
			return nil
		},
	}
}

func newLookupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lookup",
		Short: "Translate between region names and ids",
		Long: `Translate between region names and ids.

Unknown names are skipped by "ids"; out-of-range ids are an error for "names".

Examples:
  connectome lookup ids lh_V1 rh_V4
  connectome lookup names 0 12 --json`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "ids <name>...",
			Short: "Print the ids of region names",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				jsonOut, _ := cmd.Flags().GetBool("json")

				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				c, err := loadConnectome(cfg)
				if err != nil {
					return err
				}

				ids := c.IDFinder(args)
				var missing []string
				for _, name := range args {
					if _, ok := c.Lookup(name); !ok {
						missing = append(missing, name)
					}
				}

				out := cmd.OutOrStdout()
				if jsonOut {
					return json.NewEncoder(out).Encode(map[string]interface{}{
						"ids":     ids,
						"missing": missing,
					})
				}
				for _, id := range ids {
					fmt.Fprintln(out, id)
				}
				for _, name := range missing {
					fmt.Fprintf(cmd.ErrOrStderr(), "unknown region: %s\n", name)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "names <id>...",
			Short: "Print the names of region ids",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				jsonOut, _ := cmd.Flags().GetBool("json")

				ids := make([]int, len(args))
				for i, a := range args {
					id, err := strconv.Atoi(a)
					if err != nil {
						return fmt.Errorf("invalid region id %q: %w", a, err)
					}
					ids[i] = id
				}

				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				c, err := loadConnectome(cfg)
				if err != nil {
					return err
				}

				names, err := c.RegionNameFinder(ids)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if jsonOut {
					return json.NewEncoder(out).Encode(map[string]interface{}{"names": names})
				}
				for _, name := range names {
					fmt.Fprintln(out, name)
				}
				return nil
			},
		},
	)

	return cmd
}
