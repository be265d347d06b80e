// Package outcome models how a stage subprocess ended and how that maps to a result.
package outcome

import "time"

// State is the lifecycle position of one stage subprocess.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateCompleted
	StateKilled
	StateFailedToStart
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateKilled:
		return "killed"
	case StateFailedToStart:
		return "failed-to-start"
	default:
		return "unknown"
	}
}

// KillReason says why a subprocess was terminated by a signal.
type KillReason string

const (
	KillDeadline KillReason = "deadline"
	KillCanceled KillReason = "canceled"
	KillSignal   KillReason = "signal"
)

// ProcessOutcome is the terminal state of one subprocess.
// Exactly one of the terminal states (Completed, Killed, FailedToStart) is set.
type ProcessOutcome struct {
	State    State
	ExitCode int
	Signal   int
	Reason   KillReason
	Err      error
}

// RawStatus is the platform view of how a subprocess ended, collected by the engine.
type RawStatus struct {
	StartErr    error
	Exited      bool
	ExitCode    int
	Signaled    bool
	Signal      int
	DeadlineHit bool
	Canceled    bool
}

// Classify maps a raw platform status to a ProcessOutcome.
//
// DeadlineHit wins over a clean exit: the engine records the deadline before it
// kills, so a program finishing at the exact boundary is reported as killed by
// the deadline.
func Classify(raw RawStatus) ProcessOutcome {
	switch {
	case raw.StartErr != nil:
		return ProcessOutcome{State: StateFailedToStart, ExitCode: -1, Err: raw.StartErr}
	case raw.DeadlineHit:
		return ProcessOutcome{State: StateKilled, ExitCode: -1, Signal: raw.Signal, Reason: KillDeadline}
	case raw.Canceled:
		return ProcessOutcome{State: StateKilled, ExitCode: -1, Signal: raw.Signal, Reason: KillCanceled}
	case raw.Signaled:
		return ProcessOutcome{State: StateKilled, ExitCode: -1, Signal: raw.Signal, Reason: KillSignal}
	case raw.Exited:
		return ProcessOutcome{State: StateCompleted, ExitCode: raw.ExitCode}
	default:
		// Wait returned without an exit or signal report.
		return ProcessOutcome{State: StateKilled, ExitCode: -1, Reason: KillSignal}
	}
}

// Kind returns the stage classification for this process outcome.
func (p ProcessOutcome) Kind() Kind {
	switch p.State {
	case StateCompleted:
		if p.ExitCode == 0 {
			return KindClean
		}
		return KindNonzero
	case StateKilled:
		if p.Reason == KillDeadline || p.Reason == KillCanceled {
			return KindTimedOut
		}
		return KindNonzero
	default:
		return KindFailedToStart
	}
}

// Kind is the exit classification of one stage.
type Kind string

const (
	KindClean         Kind = "clean"
	KindNonzero       Kind = "nonzero"
	KindTimedOut      Kind = "timed-out"
	KindFailedToStart Kind = "failed-to-start"
)

// StageOutcome is the transient result of running one stage subprocess.
type StageOutcome struct {
	Kind      Kind
	Output    string
	ExitCode  int
	Signal    int
	Truncated bool
	Elapsed   time.Duration
}

// Clean reports whether the stage exited with status zero.
func (s StageOutcome) Clean() bool {
	return s.Kind == KindClean
}
