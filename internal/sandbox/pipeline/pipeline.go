// Package pipeline sequences one request through workspace, build, execution
// and result assembly.
package pipeline

import (
	"context"
	"time"

	"coderunner/internal/sandbox/observer"
	"coderunner/internal/sandbox/outcome"
	"coderunner/internal/sandbox/result"
	"coderunner/internal/sandbox/spec"
	"coderunner/internal/sandbox/workspace"
	"coderunner/pkg/utils/contextkey"
	"coderunner/pkg/utils/logger"

	"go.uber.org/zap"
)

// WorkspaceManager allocates and cleans up the per-request filesystem scope.
type WorkspaceManager interface {
	Acquire(ctx context.Context) (*workspace.Workspace, error)
	Materialize(ctx context.Context, ws *workspace.Workspace, src []byte) error
	Release(ctx context.Context, ws *workspace.Workspace)
}

// BuildStage compiles the workspace source. A pipeline without one runs the
// source directly.
type BuildStage interface {
	Build(ctx context.Context, ws *workspace.Workspace) outcome.StageOutcome
}

// ExecStage runs the compiled artifact.
type ExecStage interface {
	Execute(ctx context.Context, ws *workspace.Workspace) outcome.StageOutcome
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithRecorder sets the metrics recorder.
func WithRecorder(r observer.MetricsRecorder) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.recorder = r
		}
	}
}

// Pipeline runs the compile-execute-capture sequence. It holds no per-request
// state and is safe for concurrent use when its collaborators are.
type Pipeline struct {
	workspaces WorkspaceManager
	builder    BuildStage
	executor   ExecStage
	recorder   observer.MetricsRecorder
}

func New(ws WorkspaceManager, b BuildStage, e ExecStage, opts ...Option) *Pipeline {
	p := &Pipeline{
		workspaces: ws,
		builder:    b,
		executor:   e,
		recorder:   observer.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run compiles and executes src. Stage failures are reported in the returned
// record; the error is non-nil only when the workspace could not be set up, in
// which case the record is the degenerate file-creation failure.
//
// The workspace is released exactly once on every path.
func (p *Pipeline) Run(ctx context.Context, src []byte) (result.ExecutionResult, error) {
	start := time.Now()
	ws, err := p.workspaces.Acquire(ctx)
	if err != nil {
		logger.Error(ctx, "acquire workspace failed", zap.Error(err))
		res := result.FileCreationFailure(time.Since(start))
		p.recorder.ObserveResult(ctx, res)
		return res, err
	}
	ctx = context.WithValue(ctx, contextkey.WorkspaceID, ws.ID)
	defer p.workspaces.Release(ctx, ws)

	start = time.Now()
	if err := p.workspaces.Materialize(ctx, ws, src); err != nil {
		logger.Error(ctx, "materialize source failed", zap.Error(err))
		res := result.FileCreationFailure(time.Since(start))
		p.recorder.ObserveResult(ctx, res)
		return res, err
	}

	build := outcome.StageOutcome{Kind: outcome.KindClean}
	if p.builder != nil {
		build = p.builder.Build(ctx, ws)
		p.recorder.ObserveStage(ctx, spec.StageBuild, build)
	}

	var exec *outcome.StageOutcome
	if build.Clean() {
		out := p.executor.Execute(ctx, ws)
		p.recorder.ObserveStage(ctx, spec.StageExecute, out)
		exec = &out
	}

	res := result.Assemble(build, exec, time.Since(start))
	p.recorder.ObserveResult(ctx, res)
	return res, nil
}
