package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nvandessel/connectome/internal/sweep"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "connectome_regions",
		Description: "List the regions of the loaded connectome with their ids and centres",
	}, s.handleRegions)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "connectome_lookup",
		Description: "Resolve region names to ids; unknown names are reported as missing",
	}, s.handleLookup)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "connectome_names",
		Description: "Resolve region ids to names",
	}, s.handleNames)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "sweep_plan",
		Description: "Expand a stimulus sweep into its runs and result folders without running anything",
	}, s.handleSweepPlan)
}

// audit records a tool call in the event log.
func (s *Server) audit(tool string, start time.Time, err error) {
	status := "success"
	fields := map[string]any{
		"tool":        tool,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		status = "error"
		fields["error"] = err.Error()
	}
	fields["status"] = status
	s.events.Log("mcp_tool", fields)
	s.logger.Debug("mcp tool call", "tool", tool, "status", status)
}

func (s *Server) handleRegions(ctx context.Context, req *sdk.CallToolRequest, args RegionsInput) (_ *sdk.CallToolResult, _ RegionsOutput, retErr error) {
	start := time.Now()
	defer func() { s.audit("connectome_regions", start, retErr) }()

	all := s.conn.Regions()
	items := make([]RegionItem, 0, len(all))
	for id, r := range all {
		if args.Prefix != "" && !strings.HasPrefix(r.Name, args.Prefix) {
			continue
		}
		items = append(items, RegionItem{ID: id, Name: r.Name, Centre: r.Coords})
	}
	return nil, RegionsOutput{Regions: items, Count: len(items), Total: len(all)}, nil
}

func (s *Server) handleLookup(ctx context.Context, req *sdk.CallToolRequest, args LookupInput) (_ *sdk.CallToolResult, _ LookupOutput, retErr error) {
	start := time.Now()
	defer func() { s.audit("connectome_lookup", start, retErr) }()

	if len(args.Names) == 0 {
		return nil, LookupOutput{}, fmt.Errorf("names is required")
	}
	out := LookupOutput{IDs: s.conn.IDFinder(args.Names)}
	for _, name := range args.Names {
		if _, ok := s.conn.Lookup(name); !ok {
			out.Missing = append(out.Missing, name)
		}
	}
	return nil, out, nil
}

func (s *Server) handleNames(ctx context.Context, req *sdk.CallToolRequest, args NamesInput) (_ *sdk.CallToolResult, _ NamesOutput, retErr error) {
	start := time.Now()
	defer func() { s.audit("connectome_names", start, retErr) }()

	names, err := s.conn.RegionNameFinder(args.IDs)
	if err != nil {
		return nil, NamesOutput{}, err
	}
	return nil, NamesOutput{Names: names}, nil
}

func (s *Server) handleSweepPlan(ctx context.Context, req *sdk.CallToolRequest, args SweepPlanInput) (_ *sdk.CallToolResult, _ SweepPlanOutput, retErr error) {
	start := time.Now()
	defer func() { s.audit("sweep_plan", start, retErr) }()

	plan := sweep.Plan{
		Name:       args.Name,
		Targets:    args.Targets,
		Amplitudes: args.Amplitudes,
		BValues:    args.BValues,
		Mode:       sweep.Mode(args.Mode),
	}.WithDefaults(s.defaults)

	runs, err := plan.Expand()
	if err != nil {
		return nil, SweepPlanOutput{}, err
	}
	if err := plan.Resolve(s.conn); err != nil {
		return nil, SweepPlanOutput{}, err
	}
	return nil, SweepPlanOutput{
		Name:  plan.Name,
		Mode:  string(plan.Mode),
		Runs:  runs,
		Count: len(runs),
	}, nil
}
