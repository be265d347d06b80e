package pipeline

import (
	"context"
	"sync"
	"testing"

	"coderunner/internal/sandbox/outcome"
	"coderunner/internal/sandbox/result"
	"coderunner/internal/sandbox/spec"
	"coderunner/internal/sandbox/workspace"
	"coderunner/pkg/errors"
)

type fakeWorkspaces struct {
	acquireErr     error
	materializeErr error
	acquired       int
	released       int
	source         []byte
}

func (f *fakeWorkspaces) Acquire(ctx context.Context) (*workspace.Workspace, error) {
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	f.acquired++
	return &workspace.Workspace{ID: "ws", Dir: "/tmp/ws", SourcePath: "/tmp/ws/main.cpp", BinaryPath: "/tmp/ws/main"}, nil
}

func (f *fakeWorkspaces) Materialize(ctx context.Context, ws *workspace.Workspace, src []byte) error {
	f.source = src
	return f.materializeErr
}

func (f *fakeWorkspaces) Release(ctx context.Context, ws *workspace.Workspace) {
	f.released++
}

type fakeBuilder struct {
	out   outcome.StageOutcome
	calls int
}

func (f *fakeBuilder) Build(ctx context.Context, ws *workspace.Workspace) outcome.StageOutcome {
	f.calls++
	return f.out
}

type fakeExecutor struct {
	out   outcome.StageOutcome
	calls int
}

func (f *fakeExecutor) Execute(ctx context.Context, ws *workspace.Workspace) outcome.StageOutcome {
	f.calls++
	return f.out
}

type recordingObserver struct {
	mu      sync.Mutex
	stages  []spec.Stage
	results []result.ExecutionResult
}

func (r *recordingObserver) ObserveStage(ctx context.Context, stage spec.Stage, out outcome.StageOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
}

func (r *recordingObserver) ObserveResult(ctx context.Context, res result.ExecutionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func TestPipelineSuccess(t *testing.T) {
	ws := &fakeWorkspaces{}
	b := &fakeBuilder{out: outcome.StageOutcome{Kind: outcome.KindClean}}
	e := &fakeExecutor{out: outcome.StageOutcome{Kind: outcome.KindClean, Output: "Hello\n"}}
	obs := &recordingObserver{}

	res, err := New(ws, b, e, WithRecorder(obs)).Run(context.Background(), []byte("src"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Succeeded() || res.Stdout != "Hello\n" || res.Stderr != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if string(ws.source) != "src" {
		t.Fatalf("source not materialized: %q", ws.source)
	}
	if ws.released != 1 {
		t.Fatalf("expected exactly one release, got %d", ws.released)
	}
	if len(obs.stages) != 2 || obs.stages[0] != spec.StageBuild || obs.stages[1] != spec.StageExecute {
		t.Fatalf("unexpected observed stages: %v", obs.stages)
	}
	if len(obs.results) != 1 {
		t.Fatalf("expected one observed result, got %d", len(obs.results))
	}
}

func TestPipelineBuildFailureSkipsExecution(t *testing.T) {
	for _, kind := range []outcome.Kind{outcome.KindNonzero, outcome.KindFailedToStart, outcome.KindTimedOut} {
		t.Run(string(kind), func(t *testing.T) {
			ws := &fakeWorkspaces{}
			b := &fakeBuilder{out: outcome.StageOutcome{Kind: kind, Output: "diag"}}
			e := &fakeExecutor{}

			res, err := New(ws, b, e).Run(context.Background(), []byte("src"))
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if e.calls != 0 {
				t.Fatalf("execution must be skipped after a failed build")
			}
			if res.Status != result.StatusFailure || res.Stdout != "" || res.Stderr == "" {
				t.Fatalf("unexpected result: %+v", res)
			}
			if ws.released != 1 {
				t.Fatalf("expected exactly one release, got %d", ws.released)
			}
		})
	}
}

func TestPipelineRuntimeFailureReleases(t *testing.T) {
	ws := &fakeWorkspaces{}
	b := &fakeBuilder{out: outcome.StageOutcome{Kind: outcome.KindClean}}
	e := &fakeExecutor{out: outcome.StageOutcome{Kind: outcome.KindTimedOut, Output: outcome.MsgTimeout}}

	res, err := New(ws, b, e).Run(context.Background(), []byte("src"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Stderr != outcome.MsgTimeout || res.Status != result.StatusFailure {
		t.Fatalf("unexpected result: %+v", res)
	}
	if ws.released != 1 {
		t.Fatalf("expected exactly one release, got %d", ws.released)
	}
}

func TestPipelineMaterializeFailure(t *testing.T) {
	ws := &fakeWorkspaces{materializeErr: errors.New(errors.FileCreationError)}
	b := &fakeBuilder{}
	e := &fakeExecutor{}

	res, err := New(ws, b, e).Run(context.Background(), []byte("src"))
	if !errors.Is(err, errors.FileCreationError) {
		t.Fatalf("expected FileCreationError, got %v", err)
	}
	if res.Stderr != outcome.MsgFileCreation || res.Status != result.StatusFailure {
		t.Fatalf("unexpected result: %+v", res)
	}
	if b.calls != 0 || e.calls != 0 {
		t.Fatalf("stages must not run after materialize failure")
	}
	if ws.released != 1 {
		t.Fatalf("expected exactly one release, got %d", ws.released)
	}
}

func TestPipelineAcquireFailure(t *testing.T) {
	ws := &fakeWorkspaces{acquireErr: errors.New(errors.WorkspaceAcquireFail)}
	b := &fakeBuilder{}

	res, err := New(ws, b, &fakeExecutor{}).Run(context.Background(), nil)
	if !errors.Is(err, errors.WorkspaceAcquireFail) {
		t.Fatalf("expected WorkspaceAcquireFail, got %v", err)
	}
	if res.Stderr != outcome.MsgFileCreation {
		t.Fatalf("unexpected result: %+v", res)
	}
	if b.calls != 0 || ws.released != 0 {
		t.Fatalf("nothing acquired, nothing to run or release")
	}
}

func TestPipelineWithoutBuildStage(t *testing.T) {
	ws := &fakeWorkspaces{}
	e := &fakeExecutor{out: outcome.StageOutcome{Kind: outcome.KindClean, Output: "42\n"}}
	obs := &recordingObserver{}

	res, err := New(ws, nil, e, WithRecorder(obs)).Run(context.Background(), []byte("print(42)"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Succeeded() || res.Stdout != "42\n" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if e.calls != 1 || ws.released != 1 {
		t.Fatalf("expected one execution and one release, got %d and %d", e.calls, ws.released)
	}
	if len(obs.stages) != 1 || obs.stages[0] != spec.StageExecute {
		t.Fatalf("expected only the execute stage to be observed, got %v", obs.stages)
	}
}
