// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package simlaunch_test

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/petenewcomb/simlaunch"
	"github.com/stretchr/testify/require"
)

// When this variable is set, the test binary behaves as a simulator instead
// of running tests. Trace files tell it how long to run and how to exit.
const fakeSimulatorEnv = "SIMLAUNCH_FAKE_SIMULATOR"

func TestMain(m *testing.M) {
	if os.Getenv(fakeSimulatorEnv) == "1" {
		os.Exit(fakeSimulator(os.Args[1:]))
	}
	os.Exit(m.Run())
}

// fakeSimulator accepts the simulator's command line, echoes it, and then
// follows the directives in the trace file: sleep=<duration>, exit=<code>,
// and failonce=<path> (exit 1 unless path exists, creating it).
func fakeSimulator(args []string) int {
	flags := make(map[string]string)
	for i := 0; i+1 < len(args); i += 2 {
		flags[args[i]] = args[i+1]
	}
	fmt.Printf("Warmup Instructions: %s\n", flags["--warmup_instructions"])
	fmt.Printf("Simulation Instructions: %s\n", flags["--simulation_instructions"])
	fmt.Printf("Trace: %s\n", flags["--trace"])

	f, err := os.Open(flags["--trace"])
	if err != nil {
		fmt.Fprintln(os.Stderr, "cannot open trace:", err)
		return 2
	}
	defer f.Close()

	code := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, _ := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		switch key {
		case "sleep":
			d, _ := time.ParseDuration(value)
			time.Sleep(d)
		case "exit":
			code, _ = strconv.Atoi(value)
		case "failonce":
			if _, err := os.Stat(value); err != nil {
				os.WriteFile(value, nil, 0o644)
				fmt.Fprintln(os.Stderr, "failing once")
				return 1
			}
		}
	}
	fmt.Fprintln(os.Stderr, "simulation finished")
	fmt.Println("CPU 0 cumulative IPC: 1.25 instructions: 100 cycles: 80")
	return code
}

// fixture creates specs whose executable is the test binary itself.
type fixture struct {
	t    *testing.T
	exe  string
	base string
}

func newFixture(t *testing.T) *fixture {
	t.Setenv(fakeSimulatorEnv, "1")
	exe, err := os.Executable()
	require.NoError(t, err)
	return &fixture{t: t, exe: exe, base: t.TempDir()}
}

// spec returns a spec rooted in a fresh directory with an empty trace list.
func (f *fixture) spec(ceiling int) *simlaunch.JobSpec {
	dir, err := os.MkdirTemp(f.base, "run-*")
	require.NoError(f.t, err)
	traceDir := filepath.Join(dir, "traces")
	require.NoError(f.t, os.Mkdir(traceDir, 0o755))
	require.NoError(f.t, os.WriteFile(filepath.Join(dir, "traces.txt"), nil, 0o644))
	return &simlaunch.JobSpec{
		Executable:             filepath.Base(f.exe),
		BinDir:                 filepath.Dir(f.exe),
		WarmupInstructions:     10,
		SimulationInstructions: 100,
		TraceList:              filepath.Join(dir, "traces.txt"),
		TraceDir:               traceDir,
		ResultsDir:             filepath.Join(dir, "results"),
		BatchSize:              ceiling,
	}
}

// trace writes a trace file with the given directives, appends it to the
// spec's trace list and returns its work item.
func (f *fixture) trace(spec *simlaunch.JobSpec, name string, directives ...string) simlaunch.WorkItem {
	path := filepath.Join(spec.TraceDir, name)
	require.NoError(f.t, os.WriteFile(path, []byte(strings.Join(directives, "\n")+"\n"), 0o644))
	list, err := os.OpenFile(spec.TraceList, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(f.t, err)
	defer list.Close()
	_, err = fmt.Fprintln(list, name)
	require.NoError(f.t, err)
	return spec.Item(name)
}

func sleep(d time.Duration) string {
	return "sleep=" + d.String()
}

func exit(code int) string {
	return "exit=" + strconv.Itoa(code)
}

// recorder is an Observer that keeps every event. Observers run on the
// dispatcher's goroutine, which in these tests is the test goroutine.
type recorder struct {
	events []simlaunch.Event
}

func (r *recorder) observe(ev simlaunch.Event) {
	r.events = append(r.events, ev)
}

func (r *recorder) index(kind simlaunch.EventKind, trace string) int {
	for i, ev := range r.events {
		if ev.Kind == kind && ev.Item.Trace == trace {
			return i
		}
	}
	return -1
}

func (r *recorder) count(kind simlaunch.EventKind) int {
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) maxRunning() int {
	n := 0
	for _, ev := range r.events {
		n = max(n, ev.Running)
	}
	return n
}

func (r *recorder) pid(trace string) int {
	for _, ev := range r.events {
		if ev.Kind == simlaunch.EventLaunched && ev.Item.Trace == trace {
			return ev.PID
		}
	}
	return 0
}
