// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package cli

import (
	"fmt"

	"github.com/petenewcomb/simlaunch"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (a *app) cleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove logs that have no completion marker",
		Long: `clean removes the logs of traces in the trace list that have no completion
marker, such as logs left behind by a crashed run. The next run then launches
those traces again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := a.specFromConfig()
			if spec.Executable == "" && spec.ResultsDir == "" {
				return configError("one of --executable and --results-dir is required")
			}
			items, err := simlaunch.LoadWorkList(&spec)
			if err != nil {
				return &ExitError{Code: ExitConfig, Err: err}
			}
			dryRun := a.v.GetBool("dry-run")
			removed, err := simlaunch.CleanStale(&spec, items, dryRun)
			for _, path := range removed {
				fmt.Fprintln(a.stdout, path)
			}
			a.logger.Info("Cleaned stale logs",
				zap.Int("count", len(removed)),
				zap.Bool("dry_run", dryRun))
			if err != nil {
				return &ExitError{Code: ExitFailed, Err: err}
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.String("executable", "", "simulator whose default results directory is cleaned")
	f.String("trace-list", "", "file naming one trace per line")
	f.String("results-dir", "", "directory holding the per-trace logs (default results_<executable>)")
	f.Bool("dry-run", false, "only print the logs that would be removed")
	return cmd
}
