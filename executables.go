// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package simlaunch

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// MatchExecutables returns the sorted names of the executable regular files
// in binDir whose names contain substr. It is how one batch per simulator
// variant is launched when a parameter sweep has produced many binaries.
func MatchExecutables(binDir, substr string) ([]string, error) {
	if binDir == "" {
		binDir = DefaultBinDir
	}
	entries, err := os.ReadDir(binDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	var names []string
	for _, e := range entries {
		if !strings.Contains(e.Name(), substr) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() || info.Mode().Perm()&0o111 == 0 {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
