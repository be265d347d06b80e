// Package result assembles stage outcomes into the four-field execution record
// and serializes it.
package result

import (
	"strconv"
	"time"

	"coderunner/internal/sandbox/outcome"
)

// Status is the overall verdict of one request.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// ExecutionResult is the record returned for every request.
// Status is success only when both build and execution were clean; on failure
// Stdout is empty and Stderr carries the diagnostic.
type ExecutionResult struct {
	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
	ExecutionTime string `json:"executionTime"`
	Status        Status `json:"status"`
}

// Succeeded reports whether the program compiled and ran cleanly.
func (r ExecutionResult) Succeeded() bool {
	return r.Status == StatusSuccess
}

// FormatElapsed renders d as seconds with millisecond precision, e.g. "0.153s".
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64) + "s"
}

// Assemble applies the build-first decision table. exec is nil when execution
// was skipped because the build was not clean.
func Assemble(build outcome.StageOutcome, exec *outcome.StageOutcome, elapsed time.Duration) ExecutionResult {
	res := ExecutionResult{ExecutionTime: FormatElapsed(elapsed), Status: StatusFailure}

	if !build.Clean() {
		res.Stderr = buildDiagnostic(build)
		return res
	}
	if exec == nil {
		res.Stderr = outcome.MsgExecStart
		return res
	}
	if exec.Clean() {
		res.Status = StatusSuccess
		res.Stdout = captured(*exec)
		return res
	}
	res.Stderr = execDiagnostic(*exec)
	return res
}

// FileCreationFailure is the record emitted when the submission could not be
// written to the workspace.
func FileCreationFailure(elapsed time.Duration) ExecutionResult {
	return ExecutionResult{
		Stderr:        outcome.MsgFileCreation,
		ExecutionTime: FormatElapsed(elapsed),
		Status:        StatusFailure,
	}
}

func buildDiagnostic(o outcome.StageOutcome) string {
	switch o.Kind {
	case outcome.KindNonzero:
		if o.Output == "" {
			return outcome.MsgBuildFailed
		}
		return captured(o)
	case outcome.KindTimedOut:
		return outcome.MsgBuildTimeout
	default:
		return outcome.MsgBuildStart
	}
}

func execDiagnostic(o outcome.StageOutcome) string {
	switch o.Kind {
	case outcome.KindNonzero:
		if o.Output == "" {
			return outcome.MsgRuntime
		}
		return captured(o)
	case outcome.KindTimedOut:
		return outcome.MsgTimeout
	default:
		return outcome.MsgExecStart
	}
}

func captured(o outcome.StageOutcome) string {
	if o.Truncated {
		return o.Output + outcome.TruncationSuffix
	}
	return o.Output
}
