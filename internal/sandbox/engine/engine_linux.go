//go:build linux

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"coderunner/internal/sandbox/outcome"
	"coderunner/internal/sandbox/spec"
	appErr "coderunner/pkg/errors"
	"coderunner/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const defaultPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

type linuxEngine struct {
	cfg Config
}

// NewEngine creates a Linux process engine. When the configured helper cannot be
// found the engine falls back to running commands directly.
func NewEngine(cfg Config) (Engine, error) {
	cfg.applyDefaults()
	if cfg.HelperPath != "" {
		path, err := exec.LookPath(cfg.HelperPath)
		if err != nil {
			logger.Warn(context.Background(), "sandbox helper not found, running stages without it",
				zap.String("helper", cfg.HelperPath), zap.Error(err))
			cfg.HelperPath = ""
		} else {
			cfg.HelperPath = path
		}
	}
	if cfg.EnableSeccomp && cfg.HelperPath == "" {
		return nil, fmt.Errorf("seccomp requires the sandbox helper")
	}
	if cfg.EnableCgroup && cfg.CgroupRoot == "" {
		return nil, fmt.Errorf("cgroup root is required")
	}
	reaper.enable()
	return &linuxEngine{cfg: cfg}, nil
}

func (e *linuxEngine) Run(ctx context.Context, runSpec spec.RunSpec) (RunResult, error) {
	if err := validateRunSpec(runSpec); err != nil {
		return RunResult{}, err
	}
	if ctx.Err() != nil {
		return RunResult{Process: outcome.Classify(outcome.RawStatus{Canceled: true})}, nil
	}

	cmdPath, err := resolveCommand(runSpec)
	if err != nil {
		return RunResult{Process: outcome.Classify(outcome.RawStatus{StartErr: err})}, nil
	}

	env := buildEnv(runSpec.Env)
	cmd, err := e.buildCommand(runSpec, cmdPath, env)
	if err != nil {
		return RunResult{}, err
	}
	capture := newLimitedBuffer(e.cfg.OutputLimitBytes)
	cmd.Stdout = capture
	cmd.Stderr = capture
	cmd.WaitDelay = e.cfg.WaitDelay

	cgroupPath := ""
	if e.cfg.EnableCgroup {
		var cleanup func()
		cgroupPath, cleanup, err = createRunCgroup(e.cfg.CgroupRoot, runSpec)
		if err != nil {
			return RunResult{Process: outcome.Classify(outcome.RawStatus{StartErr: fmt.Errorf("create cgroup: %w", err)})}, nil
		}
		defer cleanup()
		if err := applyCgroupLimits(cgroupPath, runSpec.Limits); err != nil {
			return RunResult{Process: outcome.Classify(outcome.RawStatus{StartErr: fmt.Errorf("apply cgroup limits: %w", err)})}, nil
		}
	}

	wall := durationFromMs(runSpec.Limits.WallTimeMs)
	start := time.Now()
	if err := reaper.start(cmd); err != nil {
		return RunResult{Process: outcome.Classify(outcome.RawStatus{StartErr: err}), Elapsed: time.Since(start)}, nil
	}
	pid := cmd.Process.Pid
	defer reaper.reapOrphans()
	defer reaper.forget(pid)

	if cgroupPath != "" {
		if err := addProcessToCgroup(cgroupPath, pid); err != nil {
			logger.Warn(ctx, "add process to cgroup failed", zap.String("cgroup", cgroupPath), zap.Error(err))
		}
	}

	// Only the watcher writes the flags, and they are read after it returns.
	var timedOut, canceled atomic.Bool
	exited := make(chan struct{})
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		var wallTimer <-chan time.Time
		if wall > 0 {
			timer := time.NewTimer(time.Until(start.Add(wall)))
			defer timer.Stop()
			wallTimer = timer.C
		}
		select {
		case <-ctx.Done():
			canceled.Store(true)
			e.kill(pid, cgroupPath)
		case <-wallTimer:
			timedOut.Store(true)
			e.kill(pid, cgroupPath)
		case <-exited:
		}
	}()

	if err := waitExited(pid); err != nil {
		logger.Debug(ctx, "wait for leader exit failed", zap.Int("pid", pid), zap.Error(err))
	}
	elapsed := time.Since(start)
	close(exited)
	<-watcherDone

	// The leader is a zombie here, so its group id still names this run.
	if cgroupPath != "" {
		_ = killCgroup(cgroupPath)
	}
	reaper.sweep(pid)
	waitErr := cmd.Wait()

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		logger.Debug(ctx, "wait returned", zap.String("run_id", runSpec.RunID), zap.Error(waitErr))
	}

	raw := outcome.RawStatus{
		DeadlineHit: deadlineHit(timedOut.Load(), elapsed, wall),
		Canceled:    canceled.Load(),
	}
	if state := cmd.ProcessState; state != nil {
		if status, ok := state.Sys().(syscall.WaitStatus); ok {
			switch {
			case status.Exited():
				raw.Exited = true
				raw.ExitCode = status.ExitStatus()
			case status.Signaled():
				raw.Signaled = true
				raw.Signal = int(status.Signal())
			}
		}
	}

	output := capture.Bytes()
	if e.cfg.HelperPath != "" && raw.Exited && raw.ExitCode == spec.HelperExitCode &&
		bytes.HasPrefix(output, []byte(spec.HelperPrefix)) {
		raw.StartErr = errors.New(strings.TrimSpace(string(output)))
		output = nil
	}

	res := RunResult{
		Process:   outcome.Classify(raw),
		Output:    output,
		Truncated: capture.Truncated(),
		Elapsed:   elapsed,
		OomKilled: wasOomKilled(cgroupPath),
	}
	if res.OomKilled {
		logger.Warn(ctx, "stage was oom killed", zap.String("run_id", runSpec.RunID), zap.String("stage", string(runSpec.Stage)))
	}
	return res, nil
}

func (e *linuxEngine) buildCommand(runSpec spec.RunSpec, cmdPath string, env []string) (*exec.Cmd, error) {
	var cmd *exec.Cmd
	if e.cfg.HelperPath == "" {
		cmd = exec.Command(cmdPath, runSpec.Cmd[1:]...)
	} else {
		resolved := runSpec
		resolved.Cmd = append([]string{cmdPath}, runSpec.Cmd[1:]...)
		resolved.Env = env
		req := spec.InitRequest{RunSpec: resolved}
		if e.cfg.EnableSeccomp {
			req.SeccompProfile = e.cfg.SeccompProfile
		}
		payload, err := json.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("encode init request: %w", err)
		}
		cmd = exec.Command(e.cfg.HelperPath)
		cmd.Stdin = bytes.NewReader(payload)
	}
	cmd.Dir = runSpec.WorkDir
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	return cmd, nil
}

func (e *linuxEngine) kill(pid int, cgroupPath string) {
	killProcessGroup(pid)
	if cgroupPath != "" {
		_ = killCgroup(cgroupPath)
	}
}

func killProcessGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = unix.Kill(-pid, unix.SIGKILL)
}

func validateRunSpec(runSpec spec.RunSpec) error {
	if runSpec.WorkDir == "" {
		return appErr.New(appErr.InvalidRunSpec).WithMessage("work dir is required")
	}
	if len(runSpec.Cmd) == 0 || runSpec.Cmd[0] == "" {
		return appErr.New(appErr.InvalidRunSpec).WithMessage("command is required")
	}
	return nil
}

// resolveCommand finds the executable before launch so a missing compiler or
// artifact is reported as a start failure in both direct and helper mode.
func resolveCommand(runSpec spec.RunSpec) (string, error) {
	name := runSpec.Cmd[0]
	if !strings.Contains(name, "/") {
		path, err := exec.LookPath(name)
		if err != nil {
			return "", fmt.Errorf("resolve command: %w", err)
		}
		return path, nil
	}
	if !filepath.IsAbs(name) {
		name = filepath.Join(runSpec.WorkDir, name)
	}
	info, err := os.Stat(name)
	if err != nil {
		return "", fmt.Errorf("resolve command: %w", err)
	}
	if info.IsDir() || info.Mode().Perm()&0111 == 0 {
		return "", fmt.Errorf("resolve command: %s is not executable", name)
	}
	return name, nil
}

func buildEnv(env []string) []string {
	if len(env) > 0 {
		return env
	}
	path := os.Getenv("PATH")
	if path == "" {
		path = defaultPath
	}
	return []string{"PATH=" + path}
}
