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

const (
	DefaultRunTemplate = "{bin}"
	DefaultDeadline    = 5 * time.Second
)

// ExecConfig describes how the compiled artifact is run.
type ExecConfig struct {
	CommandTemplate string             `yaml:"commandTemplate"`
	Deadline        time.Duration      `yaml:"deadline"`
	Env             []string           `yaml:"env"`
	Limits          spec.ResourceLimit `yaml:"limits"`
}

// Executor runs the compiled artifact under the wall-clock deadline.
type Executor struct {
	engine engine.Engine
	cfg    ExecConfig
	cmd    commandTemplate
}

func NewExecutor(eng engine.Engine, cfg ExecConfig) (*Executor, error) {
	if cfg.CommandTemplate == "" {
		cfg.CommandTemplate = DefaultRunTemplate
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	cmd, err := parseTemplate(cfg.CommandTemplate)
	if err != nil {
		return nil, err
	}
	return &Executor{engine: eng, cfg: cfg, cmd: cmd}, nil
}

// Deadline returns the wall-clock budget of one run.
func (e *Executor) Deadline() time.Duration {
	return e.cfg.Deadline
}

// Execute runs ws.BinaryPath with stdin closed. On timeout the captured output
// is replaced by a static message.
func (e *Executor) Execute(ctx context.Context, ws *workspace.Workspace) outcome.StageOutcome {
	limits := e.cfg.Limits
	limits.WallTimeMs = e.cfg.Deadline.Milliseconds()
	runSpec := spec.RunSpec{
		RunID:   ws.ID,
		Stage:   spec.StageExecute,
		WorkDir: ws.Dir,
		Cmd:     e.cmd.expand(ws),
		Env:     e.cfg.Env,
		Limits:  limits,
	}

	res, err := e.engine.Run(ctx, runSpec)
	if err != nil {
		logger.Error(ctx, "execute run rejected", zap.Error(err))
		return outcome.StageOutcome{Kind: outcome.KindFailedToStart, Output: outcome.MsgExecStart, ExitCode: -1}
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
	case outcome.KindTimedOut:
		out.Output = outcome.MsgTimeout
	case outcome.KindNonzero:
		if len(res.Output) == 0 {
			out.Output = outcome.MsgRuntime
		} else {
			out.Output = string(res.Output)
			out.Truncated = res.Truncated
		}
	default:
		logger.Warn(ctx, "program failed to start", zap.Strings("cmd", runSpec.Cmd), zap.Error(res.Process.Err))
		out.Output = outcome.MsgExecStart
	}

	logger.Debug(ctx, "execution finished",
		zap.String("kind", string(out.Kind)),
		zap.Int("exit_code", out.ExitCode),
		zap.Int("signal", out.Signal),
		zap.Duration("elapsed", out.Elapsed),
	)
	return out
}
