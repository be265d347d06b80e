// Package stage runs the compile and execute steps of the pipeline and turns
// raw process outcomes into stage outcomes with their diagnostics.
package stage

import (
	"context"
	"time"

	"coderunner/internal/sandbox/engine"
	"coderunner/internal/sandbox/outcome"
	"coderunner/internal/sandbox/spec"
	"coderunner/internal/sandbox/workspace"
	"coderunner/pkg/utils/logger"

	"go.uber.org/zap"
)

const DefaultBuildTemplate = "g++ -o {bin} {src}"

// BuildConfig describes how sources are compiled.
type BuildConfig struct {
	CommandTemplate string             `yaml:"commandTemplate"`
	Env             []string           `yaml:"env"`
	Timeout         time.Duration      `yaml:"timeout"` // zero waits for the compiler indefinitely
	Limits          spec.ResourceLimit `yaml:"limits"`
}

// Builder invokes the compiler against a workspace source.
type Builder struct {
	engine engine.Engine
	cfg    BuildConfig
	cmd    commandTemplate
}

func NewBuilder(eng engine.Engine, cfg BuildConfig) (*Builder, error) {
	if cfg.CommandTemplate == "" {
		cfg.CommandTemplate = DefaultBuildTemplate
	}
	cmd, err := parseTemplate(cfg.CommandTemplate)
	if err != nil {
		return nil, err
	}
	return &Builder{engine: eng, cfg: cfg, cmd: cmd}, nil
}

// Build compiles ws.SourcePath into ws.BinaryPath. Compiler stdout and stderr
// share one captured stream.
func (b *Builder) Build(ctx context.Context, ws *workspace.Workspace) outcome.StageOutcome {
	limits := b.cfg.Limits
	limits.WallTimeMs = b.cfg.Timeout.Milliseconds()
	runSpec := spec.RunSpec{
		RunID:   ws.ID,
		Stage:   spec.StageBuild,
		WorkDir: ws.Dir,
		Cmd:     b.cmd.expand(ws),
		Env:     b.cfg.Env,
		Limits:  limits,
	}

	res, err := b.engine.Run(ctx, runSpec)
	if err != nil {
		logger.Error(ctx, "build run rejected", zap.Error(err))
		return outcome.StageOutcome{Kind: outcome.KindFailedToStart, Output: outcome.MsgBuildStart, ExitCode: -1}
	}

	out := outcome.StageOutcome{
		Kind:     res.Process.Kind(),
		ExitCode: res.Process.ExitCode,
		Signal:   res.Process.Signal,
		Elapsed:  res.Elapsed,
	}
	switch out.Kind {
	case outcome.KindClean:
		out.Output = string(res.Output)
		out.Truncated = res.Truncated
	case outcome.KindNonzero:
		if len(res.Output) == 0 {
			out.Output = outcome.MsgBuildFailed
		} else {
			out.Output = string(res.Output)
			out.Truncated = res.Truncated
		}
	case outcome.KindTimedOut:
		out.Output = outcome.MsgBuildTimeout
	default:
		logger.Warn(ctx, "compiler failed to start", zap.Strings("cmd", runSpec.Cmd), zap.Error(res.Process.Err))
		out.Output = outcome.MsgBuildStart
	}

	logger.Debug(ctx, "build finished",
		zap.String("kind", string(out.Kind)),
		zap.Int("exit_code", out.ExitCode),
		zap.Duration("elapsed", out.Elapsed),
	)
	return out
}
