package outcome

import (
	"errors"
	"testing"
)

func TestClassify(t *testing.T) {
	startErr := errors.New("exec: \"g++\": executable file not found in $PATH")
	cases := []struct {
		name      string
		raw       RawStatus
		wantState State
		wantKind  Kind
		wantCode  int
	}{
		{name: "clean exit", raw: RawStatus{Exited: true}, wantState: StateCompleted, wantKind: KindClean},
		{name: "nonzero exit", raw: RawStatus{Exited: true, ExitCode: 3}, wantState: StateCompleted, wantKind: KindNonzero, wantCode: 3},
		{name: "signaled", raw: RawStatus{Signaled: true, Signal: 11}, wantState: StateKilled, wantKind: KindNonzero, wantCode: -1},
		{name: "deadline", raw: RawStatus{DeadlineHit: true, Signaled: true, Signal: 9}, wantState: StateKilled, wantKind: KindTimedOut, wantCode: -1},
		{name: "deadline tie with clean exit", raw: RawStatus{DeadlineHit: true, Exited: true}, wantState: StateKilled, wantKind: KindTimedOut, wantCode: -1},
		{name: "canceled", raw: RawStatus{Canceled: true, Signaled: true, Signal: 9}, wantState: StateKilled, wantKind: KindTimedOut, wantCode: -1},
		{name: "start failure", raw: RawStatus{StartErr: startErr}, wantState: StateFailedToStart, wantKind: KindFailedToStart, wantCode: -1},
		{name: "start failure beats deadline", raw: RawStatus{StartErr: startErr, DeadlineHit: true}, wantState: StateFailedToStart, wantKind: KindFailedToStart, wantCode: -1},
		{name: "no report", raw: RawStatus{}, wantState: StateKilled, wantKind: KindNonzero, wantCode: -1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.raw)
			if got.State != tc.wantState {
				t.Fatalf("expected state %s, got %s", tc.wantState, got.State)
			}
			if got.Kind() != tc.wantKind {
				t.Fatalf("expected kind %s, got %s", tc.wantKind, got.Kind())
			}
			if got.ExitCode != tc.wantCode {
				t.Fatalf("expected exit code %d, got %d", tc.wantCode, got.ExitCode)
			}
		})
	}
}

func TestClassifyKeepsSignalAndError(t *testing.T) {
	got := Classify(RawStatus{Signaled: true, Signal: 6})
	if got.Signal != 6 || got.Reason != KillSignal {
		t.Fatalf("unexpected outcome: %+v", got)
	}

	startErr := errors.New("permission denied")
	got = Classify(RawStatus{StartErr: startErr})
	if !errors.Is(got.Err, startErr) {
		t.Fatalf("expected start error to be kept, got %v", got.Err)
	}
}

func TestNotStartedIsNotClean(t *testing.T) {
	if (ProcessOutcome{}).Kind() != KindFailedToStart {
		t.Fatalf("zero outcome must not classify as clean")
	}
	if (ProcessOutcome{State: StateRunning}).Kind() != KindFailedToStart {
		t.Fatalf("running outcome must not classify as clean")
	}
}
