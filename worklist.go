// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package simlaunch

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// A WorkItem is one trace to be run through the simulator, together with the
// path of the log that run produces.
type WorkItem struct {
	Trace  string
	Output string
}

// Item derives the WorkItem for the given trace identifier.
func (s *JobSpec) Item(trace string) WorkItem {
	return WorkItem{
		Trace:  trace,
		Output: filepath.Join(s.OutputDir(), trace+".txt"),
	}
}

// Items derives a WorkItem for each trace identifier, preserving order.
func (s *JobSpec) Items(traces []string) []WorkItem {
	items := make([]WorkItem, len(traces))
	for i, trace := range traces {
		items[i] = s.Item(trace)
	}
	return items
}

// ParseWorkList reads one trace identifier per line. Surrounding whitespace
// is trimmed and blank lines are ignored. Order is preserved, and a repeated
// identifier is kept only at its first occurrence.
func ParseWorkList(r io.Reader) ([]string, error) {
	var traces []string
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		trace := strings.TrimSpace(scanner.Text())
		if trace == "" {
			continue
		}
		if _, ok := seen[trace]; ok {
			continue
		}
		seen[trace] = struct{}{}
		traces = append(traces, trace)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return traces, nil
}

// LoadWorkList reads the spec's trace list and returns its work items. A
// trace list that cannot be opened or read yields an error matching
// [ErrConfig].
func LoadWorkList(spec *JobSpec) ([]WorkItem, error) {
	f, err := os.Open(spec.TraceList)
	if err != nil {
		return nil, fmt.Errorf("%w: trace list: %w", ErrConfig, err)
	}
	defer f.Close()

	traces, err := ParseWorkList(f)
	if err != nil {
		return nil, fmt.Errorf("%w: reading trace list %s: %w", ErrConfig, spec.TraceList, err)
	}
	return spec.Items(traces), nil
}
