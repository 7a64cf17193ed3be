// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

// Package campaign loads HCL files describing several dispatch runs that
// share defaults.
//
//	defaults {
//	  bin_dir    = "bin"
//	  trace_dir  = "CRC2_traces"
//	  trace_list = "alltraces.txt"
//	  batch_size = nproc
//	}
//
//	run "hysteresis" {
//	  match   = "rocketship-hysterisis-maxpsel"
//	  timeout = "4h"
//	}
//
// Expressions may refer to nproc, the number of CPUs, and to env, a map of
// the process environment.
package campaign

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/petenewcomb/simlaunch"
	"github.com/zclconf/go-cty/cty"
)

// A Campaign is an ordered list of runs.
type Campaign struct {
	Runs []Run
}

// A Run is one named run block with the defaults already applied. Exactly
// one of Spec.Executable and Match is set.
type Run struct {
	Name  string
	Match string
	Spec  simlaunch.JobSpec
}

type campaignFile struct {
	Defaults *settingsBlock `hcl:"defaults,block"`
	Runs     []*runBlock    `hcl:"run,block"`
}

type runBlock struct {
	Name       string   `hcl:"name,label"`
	Executable *string  `hcl:"executable,optional"`
	Match      *string  `hcl:"match,optional"`
	Remain     hcl.Body `hcl:",remain"`
}

type settingsBlock struct {
	BinDir                 *string `hcl:"bin_dir,optional"`
	TraceDir               *string `hcl:"trace_dir,optional"`
	TraceList              *string `hcl:"trace_list,optional"`
	ResultsDir             *string `hcl:"results_dir,optional"`
	WarmupInstructions     *uint64 `hcl:"warmup_instructions,optional"`
	SimulationInstructions *uint64 `hcl:"simulation_instructions,optional"`
	BatchSize              *int    `hcl:"batch_size,optional"`
	Timeout                *string `hcl:"timeout,optional"`
	Retries                *int    `hcl:"retries,optional"`
	RequireMarker          *bool   `hcl:"require_marker,optional"`
}

// Load reads and decodes the campaign file at path. Any problem with the
// file yields an error matching [simlaunch.ErrConfig].
func Load(path string) (*Campaign, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: campaign: %w", simlaunch.ErrConfig, err)
	}
	return Parse(src, path)
}

// Parse decodes campaign source; filename is used in diagnostics.
func Parse(src []byte, filename string) (*Campaign, error) {
	c, diags := parse(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: %w", simlaunch.ErrConfig, diags)
	}
	return c, nil
}

func parse(src []byte, filename string) (*Campaign, hcl.Diagnostics) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, diags
	}

	evalCtx := evalContext()
	var parsed campaignFile
	if diags := gohcl.DecodeBody(file.Body, evalCtx, &parsed); diags.HasErrors() {
		return nil, diags
	}

	defaults := simlaunch.JobSpec{
		WarmupInstructions:     simlaunch.DefaultWarmupInstructions,
		SimulationInstructions: simlaunch.DefaultSimulationInstructions,
	}
	if parsed.Defaults != nil {
		if diags := parsed.Defaults.apply(&defaults); diags.HasErrors() {
			return nil, diags
		}
	}

	c := &Campaign{}
	seen := make(map[string]bool)
	for _, rb := range parsed.Runs {
		if seen[rb.Name] {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Duplicate run",
				Detail:   fmt.Sprintf("A run named %q was already defined.", rb.Name),
			})
			continue
		}
		seen[rb.Name] = true

		run := Run{Name: rb.Name, Spec: defaults}
		switch {
		case rb.Executable != nil && rb.Match != nil:
			diags = append(diags, runDiag(rb.Name, "sets both executable and match"))
			continue
		case rb.Executable != nil:
			run.Spec.Executable = *rb.Executable
		case rb.Match != nil:
			run.Match = *rb.Match
		default:
			diags = append(diags, runDiag(rb.Name, "sets neither executable nor match"))
			continue
		}

		var overrides settingsBlock
		if d := gohcl.DecodeBody(rb.Remain, evalCtx, &overrides); d.HasErrors() {
			diags = append(diags, d...)
			continue
		}
		diags = append(diags, overrides.apply(&run.Spec)...)
		c.Runs = append(c.Runs, run)
	}
	return c, diags
}

func runDiag(name, problem string) *hcl.Diagnostic {
	return &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  "Invalid run",
		Detail:   fmt.Sprintf("Run %q %s; exactly one is required.", name, problem),
	}
}

// apply copies the attributes that were set onto spec.
func (s *settingsBlock) apply(spec *simlaunch.JobSpec) hcl.Diagnostics {
	if s.BinDir != nil {
		spec.BinDir = *s.BinDir
	}
	if s.TraceDir != nil {
		spec.TraceDir = *s.TraceDir
	}
	if s.TraceList != nil {
		spec.TraceList = *s.TraceList
	}
	if s.ResultsDir != nil {
		spec.ResultsDir = *s.ResultsDir
	}
	if s.WarmupInstructions != nil {
		spec.WarmupInstructions = *s.WarmupInstructions
	}
	if s.SimulationInstructions != nil {
		spec.SimulationInstructions = *s.SimulationInstructions
	}
	if s.BatchSize != nil {
		spec.BatchSize = *s.BatchSize
	}
	if s.Retries != nil {
		spec.Retries = *s.Retries
	}
	if s.RequireMarker != nil {
		spec.RequireMarker = *s.RequireMarker
	}
	if s.Timeout != nil {
		d, err := time.ParseDuration(*s.Timeout)
		if err != nil {
			return hcl.Diagnostics{{
				Severity: hcl.DiagError,
				Summary:  "Invalid timeout",
				Detail:   err.Error(),
			}}
		}
		spec.Timeout = d
	}
	return nil
}

func evalContext() *hcl.EvalContext {
	env := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			env[k] = cty.StringVal(v)
		}
	}
	envVal := cty.MapValEmpty(cty.String)
	if len(env) > 0 {
		envVal = cty.MapVal(env)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"nproc": cty.NumberIntVal(int64(runtime.NumCPU())),
			"env":   envVal,
		},
	}
}

// Select returns the run named only, or every run if only is empty.
func (c *Campaign) Select(only string) ([]Run, error) {
	if only == "" {
		return c.Runs, nil
	}
	for _, r := range c.Runs {
		if r.Name == only {
			return []Run{r}, nil
		}
	}
	return nil, fmt.Errorf("%w: campaign has no run named %q", simlaunch.ErrConfig, only)
}

// Specs returns one spec per executable the run applies to. A run that
// names an executable yields its own spec; a run with a match pattern yields
// one spec for each matching executable in its bin directory, in name order.
// When several executables match and the run sets a results directory, each
// executable's logs go to a subdirectory of it named after the executable.
func (r *Run) Specs() ([]simlaunch.JobSpec, error) {
	if r.Match == "" {
		return []simlaunch.JobSpec{r.Spec}, nil
	}
	names, err := simlaunch.MatchExecutables(r.Spec.BinDir, r.Match)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: run %q: no executable in %s matches %q",
			simlaunch.ErrConfig, r.Name, r.Spec.ExecutablePath(), r.Match)
	}
	specs := make([]simlaunch.JobSpec, len(names))
	for i, name := range names {
		specs[i] = r.Spec
		specs[i].Executable = name
		if r.Spec.ResultsDir != "" && len(names) > 1 {
			specs[i].ResultsDir = filepath.Join(r.Spec.ResultsDir, name)
		}
	}
	return specs, nil
}
