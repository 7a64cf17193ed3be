// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package cli

import (
	"github.com/petenewcomb/simlaunch"
	"github.com/spf13/cobra"

	"github.com/petenewcomb/simlaunch/internal/campaign"
)

func (a *app) campaignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "campaign FILE.hcl",
		Short: "Run every run block of a campaign file in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := a.campaignSpecs(args[0], a.v.GetString("only"))
			if err != nil {
				return err
			}
			return a.dispatchAll(cmd.Context(), specs, a.v.GetString("metrics-addr"))
		},
	}
	cmd.Flags().String("only", "", "run only the named run block")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics at this address while running, e.g. :9090")
	return cmd
}

// campaignSpecs resolves every selected run before anything is launched, so
// that a mistake in a late run block is reported up front.
func (a *app) campaignSpecs(path, only string) ([]simlaunch.JobSpec, error) {
	c, err := campaign.Load(path)
	if err != nil {
		return nil, &ExitError{Code: ExitConfig, Err: err}
	}
	runs, err := c.Select(only)
	if err != nil {
		return nil, &ExitError{Code: ExitConfig, Err: err}
	}
	var specs []simlaunch.JobSpec
	for _, run := range runs {
		s, err := run.Specs()
		if err != nil {
			return nil, &ExitError{Code: ExitConfig, Err: err}
		}
		specs = append(specs, s...)
	}
	return specs, nil
}
