//go:build linux

package engine

import (
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"

	"coderunner/internal/sandbox/outcome"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

func TestFromStat(t *testing.T) {
	tests := []struct {
		name string
		st   procfs.ProcStat
		want procEntry
	}{
		{
			name: "sleeping",
			st:   procfs.ProcStat{PID: 4242, Comm: "sleep", State: "S", PPID: 100, PGRP: 4242},
			want: procEntry{pid: 4242, ppid: 100, pgrp: 4242, state: 'S'},
		},
		{
			name: "zombie orphan",
			st:   procfs.ProcStat{PID: 77, Comm: "a (b) c", State: "Z", PPID: 1, PGRP: 70},
			want: procEntry{pid: 77, ppid: 1, pgrp: 70, state: 'Z'},
		},
		{
			name: "missing state",
			st:   procfs.ProcStat{PID: 12, PPID: 3, PGRP: 12},
			want: procEntry{pid: 12, ppid: 3, pgrp: 12},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fromStat(tt.st); got != tt.want {
				t.Errorf("fromStat() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestListProcsSeesSelf(t *testing.T) {
	self := os.Getpid()
	for _, p := range listProcs() {
		if p.pid == self {
			if p.ppid != os.Getppid() || p.pgrp != unix.Getpgrp() {
				t.Fatalf("unexpected entry for self %+v", p)
			}
			return
		}
	}
	t.Fatalf("pid %d not listed", self)
}

func TestDeadlineHit(t *testing.T) {
	wall := 100 * time.Millisecond
	tests := []struct {
		name    string
		fired   bool
		elapsed time.Duration
		wall    time.Duration
		want    bool
	}{
		{"timer fired", true, 100 * time.Millisecond, wall, true},
		{"exited before limit", false, 99 * time.Millisecond, wall, false},
		{"exited at limit before timer", false, 100 * time.Millisecond, wall, true},
		{"exited after limit before timer", false, 104 * time.Millisecond, wall, true},
		{"no limit", false, time.Hour, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deadlineHit(tt.fired, tt.elapsed, tt.wall); got != tt.want {
				t.Errorf("deadlineHit() = %v, want %v", got, tt.want)
			}
		})
	}
}

// livePIDsWithArgs returns running processes whose argv equals args.
func livePIDsWithArgs(args ...string) []int {
	want := strings.Join(args, "\x00") + "\x00"
	var pids []int
	for _, p := range listProcs() {
		if p.state == 'Z' {
			continue
		}
		data, err := os.ReadFile("/proc/" + strconv.Itoa(p.pid) + "/cmdline")
		if err == nil && string(data) == want {
			pids = append(pids, p.pid)
		}
	}
	return pids
}

func requireSetsid(t *testing.T) {
	t.Helper()
	requireShell(t)
	if _, err := exec.LookPath("setsid"); err != nil {
		t.Skip("setsid not available")
	}
}

func TestLinuxEngineKillsEscapedDescendants(t *testing.T) {
	requireSetsid(t)

	cases := []struct {
		name     string
		script   string
		marker   string
		wantKind outcome.Kind
	}{
		{
			name:     "after_deadline",
			script:   "setsid sleep 4242 & while :; do :; done",
			marker:   "4242",
			wantKind: outcome.KindTimedOut,
		},
		{
			name:     "after_clean_exit",
			script:   "setsid sleep 4343 & sleep 0.2; exit 0",
			marker:   "4343",
			wantKind: outcome.KindClean,
		},
	}

	eng := newTestEngine(t, Config{})
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := eng.Run(context.Background(), shellSpec(t, tc.script, 1000))
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}
			if res.Process.Kind() != tc.wantKind {
				t.Fatalf("expected kind %s, got %+v", tc.wantKind, res.Process)
			}
			if pids := livePIDsWithArgs("sleep", tc.marker); len(pids) > 0 {
				t.Fatalf("descendant still running after run returned: pids %v", pids)
			}
		})
	}
}

func TestLinuxEngineBoundaryExitIsConsistent(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	eng := newTestEngine(t, Config{})
	wall := 100 * time.Millisecond

	for i := 0; i < 40; i++ {
		spec := shellSpec(t, "", wall.Milliseconds())
		spec.Cmd = []string{"sleep", "0.097"}
		res, err := eng.Run(context.Background(), spec)
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
		if res.Process.Kind() == outcome.KindClean && res.Elapsed >= wall {
			t.Fatalf("run %d took %s but was reported clean", i, res.Elapsed)
		}
		if res.Process.Kind() != outcome.KindClean && res.Process.Kind() != outcome.KindTimedOut {
			t.Fatalf("run %d: unexpected kind %s", i, res.Process.Kind())
		}
	}
}
