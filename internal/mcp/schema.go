package mcp

import "github.com/nvandessel/connectome/internal/sweep"

// RegionsInput defines the input for connectome_regions.
type RegionsInput struct {
	Prefix string `json:"prefix,omitempty" jsonschema:"Only list regions whose name starts with this prefix"`
}

// RegionsOutput defines the output for connectome_regions.
type RegionsOutput struct {
	Regions []RegionItem `json:"regions" jsonschema:"Regions in id order"`
	Count   int          `json:"count" jsonschema:"Number of regions listed"`
	Total   int          `json:"total" jsonschema:"Number of regions in the connectome"`
}

// RegionItem is one region of the connectome.
type RegionItem struct {
	ID     int        `json:"id"`
	Name   string     `json:"name"`
	Centre [3]float64 `json:"centre"`
}

// LookupInput defines the input for connectome_lookup.
type LookupInput struct {
	Names []string `json:"names" jsonschema:"Region names to resolve"`
}

// LookupOutput defines the output for connectome_lookup.
type LookupOutput struct {
	IDs     []int    `json:"ids" jsonschema:"Ids of the names that exist, in input order"`
	Missing []string `json:"missing,omitempty" jsonschema:"Names with no matching region"`
}

// NamesInput defines the input for connectome_names.
type NamesInput struct {
	IDs []int `json:"ids" jsonschema:"Region ids to resolve"`
}

// NamesOutput defines the output for connectome_names.
type NamesOutput struct {
	Names []string `json:"names" jsonschema:"Region names, parallel to the ids"`
}

// SweepPlanInput defines the input for sweep_plan.
type SweepPlanInput struct {
	Name       string         `json:"name,omitempty" jsonschema:"Sweep name, used in zip-mode folder names"`
	Targets    []sweep.Target `json:"targets" jsonschema:"Regions to stimulate, optionally with their own amplitudes"`
	Amplitudes []float64      `json:"amplitudes,omitempty" jsonschema:"Amplitudes for targets that list none"`
	BValues    []float64      `json:"b_values,omitempty" jsonschema:"Adaptation strengths (default from config)"`
	Mode       string         `json:"mode,omitempty" jsonschema:"product (default) or zip"`
}

// SweepPlanOutput defines the output for sweep_plan.
type SweepPlanOutput struct {
	Name  string      `json:"name"`
	Mode  string      `json:"mode"`
	Runs  []sweep.Run `json:"runs" jsonschema:"Runs in execution order"`
	Count int         `json:"count"`
}
