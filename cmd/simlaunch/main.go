// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

// Command simlaunch runs a simulator over a list of traces with bounded
// concurrency.
package main

import (
	"context"
	"os"

	"github.com/petenewcomb/simlaunch/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
