// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package cli

import (
	"github.com/petenewcomb/simlaunch"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/petenewcomb/simlaunch/internal/campaign"
)

func (a *app) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one simulator, or each simulator matching a pattern, over a trace list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := a.runSpecs()
			if err != nil {
				return err
			}
			return a.dispatchAll(cmd.Context(), specs, a.v.GetString("metrics-addr"))
		},
	}

	f := cmd.Flags()
	f.String("executable", "", "simulator file name inside the bin directory")
	f.String("match", "", "run every executable in the bin directory whose name contains this string")
	addSpecFlags(f)
	f.String("metrics-addr", "", "serve Prometheus metrics at this address while running, e.g. :9090")
	return cmd
}

// addSpecFlags adds the flags that configure a job spec.
func addSpecFlags(f *pflag.FlagSet) {
	f.String("bin-dir", simlaunch.DefaultBinDir, "directory containing the simulator executables")
	f.String("trace-list", "", "file naming one trace per line")
	f.String("trace-dir", "CRC2_traces", "directory containing the traces")
	f.Uint64("warmup-instructions", simlaunch.DefaultWarmupInstructions, "warmup instructions per simulation")
	f.Uint64("simulation-instructions", simlaunch.DefaultSimulationInstructions, "simulated instructions per simulation")
	f.Int("batch-size", 0, "maximum number of simulators running at once (default number of CPUs)")
	f.String("results-dir", "", "directory for the per-trace logs (default results_<executable>)")
	f.Duration("timeout", 0, "kill simulations that run longer than this (default no limit)")
	f.Int("retries", 0, "relaunch a failed or timed-out simulation up to this many times")
	f.Bool("require-marker", false, "count a trace as done only if its log has a completion marker")
}

func (a *app) specFromConfig() simlaunch.JobSpec {
	v := a.v
	return simlaunch.JobSpec{
		Executable:             v.GetString("executable"),
		BinDir:                 v.GetString("bin-dir"),
		WarmupInstructions:     v.GetUint64("warmup-instructions"),
		SimulationInstructions: v.GetUint64("simulation-instructions"),
		TraceList:              v.GetString("trace-list"),
		TraceDir:               v.GetString("trace-dir"),
		ResultsDir:             v.GetString("results-dir"),
		BatchSize:              v.GetInt("batch-size"),
		Timeout:                v.GetDuration("timeout"),
		Retries:                v.GetInt("retries"),
		RequireMarker:          v.GetBool("require-marker"),
	}
}

func (a *app) runSpecs() ([]simlaunch.JobSpec, error) {
	spec := a.specFromConfig()
	match := a.v.GetString("match")
	if (spec.Executable == "") == (match == "") {
		return nil, configError("exactly one of --executable and --match is required")
	}
	run := campaign.Run{Name: "run", Match: match, Spec: spec}
	specs, err := run.Specs()
	if err != nil {
		return nil, &ExitError{Code: ExitConfig, Err: err}
	}
	return specs, nil
}
