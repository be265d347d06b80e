//go:build linux

package engine

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"time"

	"coderunner/pkg/utils/logger"

	"github.com/prometheus/procfs"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	sweepBudget   = 2 * time.Second
	sweepInterval = 5 * time.Millisecond
)

// The subreaper attribute belongs to the whole process, so every engine shares
// one reaper. Descendants that leave their process group through setsid or
// setpgid re-parent to this process once their parent dies.
var reaper = &orphanReaper{leaders: make(map[int]struct{})}

type orphanReaper struct {
	once    sync.Once
	enabled bool

	mu      sync.Mutex
	leaders map[int]struct{}
}

func (r *orphanReaper) enable() bool {
	r.once.Do(func() {
		if err := unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0); err != nil {
			logger.Warn(context.Background(), "set child subreaper failed, escaped descendants are not reaped", zap.Error(err))
			return
		}
		r.enabled = true
	})
	return r.enabled
}

// start launches cmd and registers its leader under the lock, so a concurrent
// sweep never sees the fresh child unregistered.
func (r *orphanReaper) start(cmd *exec.Cmd) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := cmd.Start(); err != nil {
		return err
	}
	r.leaders[cmd.Process.Pid] = struct{}{}
	return nil
}

func (r *orphanReaper) forget(pid int) {
	r.mu.Lock()
	delete(r.leaders, pid)
	r.mu.Unlock()
}

// sweep kills what the run led by pid left behind: the rest of its process
// group and every orphan that does not belong to another live run. The leader
// must still be unreaped so its group id cannot be recycled.
func (r *orphanReaper) sweep(pid int) {
	deadline := time.Now().Add(sweepBudget)
	for {
		_ = unix.Kill(-pid, unix.SIGKILL)
		found, groupAlive := r.killOrphans(pid)
		if found == 0 && !groupAlive {
			return
		}
		if time.Now().After(deadline) {
			logger.Warn(context.Background(), "descendants survived the sweep", zap.Int("pid", pid), zap.Int("orphans", found))
			return
		}
		time.Sleep(sweepInterval)
	}
}

// reapOrphans collects orphans not owned by a live run. It is called after the
// leader is reaped, when its zombie children re-parent here.
func (r *orphanReaper) reapOrphans() {
	r.killOrphans(0)
}

func (r *orphanReaper) killOrphans(leader int) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	self := os.Getpid()
	found := 0
	groupAlive := false
	for _, p := range listProcs() {
		if leader > 0 && p.pgrp == leader && p.pid != leader && p.state != 'Z' {
			groupAlive = true
		}
		if p.ppid != self || p.pid == leader {
			continue
		}
		if _, live := r.leaders[p.pid]; live {
			continue
		}
		if _, live := r.leaders[p.pgrp]; live && p.pgrp != leader {
			continue
		}
		found++
		_ = unix.Kill(p.pid, unix.SIGKILL)
		var status unix.WaitStatus
		_, _ = unix.Wait4(p.pid, &status, unix.WNOHANG, nil)
	}
	return found, groupAlive
}

// waitExited blocks until pid has exited without reaping it.
func waitExited(pid int) error {
	for {
		var info unix.Siginfo
		err := unix.Waitid(unix.P_PID, pid, &info, unix.WEXITED|unix.WNOWAIT, nil)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}

type procEntry struct {
	pid   int
	ppid  int
	pgrp  int
	state byte
}

func listProcs() []procEntry {
	fs, err := procfs.NewFS(procfs.DefaultMountPoint)
	if err != nil {
		return nil
	}
	all, err := fs.AllProcs()
	if err != nil {
		return nil
	}
	procs := make([]procEntry, 0, len(all))
	for _, p := range all {
		// A process may exit between listing and reading its stat.
		st, err := p.Stat()
		if err != nil {
			continue
		}
		procs = append(procs, fromStat(st))
	}
	return procs
}

func fromStat(st procfs.ProcStat) procEntry {
	e := procEntry{pid: st.PID, ppid: st.PPID, pgrp: st.PGRP}
	if st.State != "" {
		e.state = st.State[0]
	}
	return e
}

// deadlineHit reports whether a run hit its wall limit. A leader that exits at
// or after the limit counts as timed out even when the timer lost the race.
func deadlineHit(timerFired bool, elapsed, wall time.Duration) bool {
	return timerFired || (wall > 0 && elapsed >= wall)
}
