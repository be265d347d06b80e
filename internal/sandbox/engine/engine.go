// Package engine launches stage subprocesses in their own process group, enforces the
// wall-clock deadline and captures combined output.
package engine

import (
	"context"
	"time"

	"coderunner/internal/sandbox/outcome"
	"coderunner/internal/sandbox/spec"
)

// Engine executes a RunSpec as an isolated subprocess.
//
// Run returns an error only when the RunSpec itself is invalid. Every way the
// subprocess can end, including failing to start, is reported in RunResult.Process.
type Engine interface {
	Run(ctx context.Context, runSpec spec.RunSpec) (RunResult, error)
}

// RunResult captures raw execution data of one subprocess.
type RunResult struct {
	Process   outcome.ProcessOutcome
	Output    []byte
	Truncated bool
	Elapsed   time.Duration
	OomKilled bool
}

func durationFromMs(ms int64) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
