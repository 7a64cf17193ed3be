// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package simlaunch

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
)

// StateDirName is the subdirectory of the results directory that holds
// completion markers and the logs of failed runs. Keeping them out of the
// results directory proper leaves one log per completed trace there.
const StateDirName = ".simlaunch"

type completionMarker struct {
	RunID      string    `json:"run_id"`
	Trace      string    `json:"trace"`
	Executable string    `json:"executable"`
	Attempt    int       `json:"attempt"`
	ExitCode   int       `json:"exit_code"`
	Started    time.Time `json:"started"`
	Finished   time.Time `json:"finished"`
}

func markerPath(spec *JobSpec, item WorkItem) string {
	return filepath.Join(spec.OutputDir(), StateDirName, item.Trace+".json")
}

func failedLogPath(spec *JobSpec, item WorkItem) string {
	return filepath.Join(spec.OutputDir(), StateDirName, "failed", item.Trace+".txt")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// isDone reports whether item already has completion evidence on disk.
func isDone(spec *JobSpec, item WorkItem) bool {
	if !fileExists(item.Output) {
		return false
	}
	return !spec.RequireMarker || fileExists(markerPath(spec, item))
}

// writeMarker records a successful completion. The marker is renamed into
// place so that a crash never leaves a partial marker behind.
func writeMarker(path string, m *completionMarker) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".marker-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// quarantine moves the log of a failed run out of the results directory so
// that neither a later skip check nor a downstream extractor treats it as a
// completed log.
func quarantine(spec *JobSpec, item WorkItem) (string, error) {
	dst := failedLogPath(spec, item)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	if err := os.Rename(item.Output, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// CleanStale removes the logs of items that have no completion marker, such
// as logs left behind by a crashed harness or written by a run that did not
// record markers. It returns the paths removed, or that would be removed if
// dryRun is set.
func CleanStale(spec *JobSpec, items []WorkItem, dryRun bool) ([]string, error) {
	var removed []string
	var result *multierror.Error
	for _, item := range items {
		if !fileExists(item.Output) || fileExists(markerPath(spec, item)) {
			continue
		}
		if !dryRun {
			if err := removeIfExists(item.Output); err != nil {
				result = multierror.Append(result, err)
				continue
			}
		}
		removed = append(removed, item.Output)
	}
	return removed, result.ErrorOrNil()
}
