// Package observer defines logging and metrics hooks for sandbox execution.
package observer

import (
	"context"

	"coderunner/internal/sandbox/outcome"
	"coderunner/internal/sandbox/result"
	"coderunner/internal/sandbox/spec"
	appErr "coderunner/pkg/errors"
	"coderunner/pkg/utils/logger"

	"go.uber.org/zap"
)

// MetricsRecorder records sandbox metrics.
type MetricsRecorder interface {
	ObserveStage(ctx context.Context, stage spec.Stage, out outcome.StageOutcome)
	ObserveResult(ctx context.Context, res result.ExecutionResult)
}

// NoopRecorder drops every observation.
type NoopRecorder struct{}

func (NoopRecorder) ObserveStage(context.Context, spec.Stage, outcome.StageOutcome) {}

func (NoopRecorder) ObserveResult(context.Context, result.ExecutionResult) {}

// LogRecorder writes one structured log line per observation.
type LogRecorder struct{}

func (LogRecorder) ObserveStage(ctx context.Context, stage spec.Stage, out outcome.StageOutcome) {
	fields := []zap.Field{
		zap.String("stage", string(stage)),
		zap.String("kind", string(out.Kind)),
		zap.Int("exit_code", out.ExitCode),
		zap.Bool("truncated", out.Truncated),
		zap.Duration("elapsed", out.Elapsed),
	}
	if code := FailureCode(stage, out); code != appErr.Success {
		fields = append(fields, zap.Int("error_code", int(code)))
	}
	logger.Info(ctx, "stage finished", fields...)
}

// FailureCode maps a stage outcome to its error code, or Success when the
// stage was clean.
func FailureCode(stage spec.Stage, out outcome.StageOutcome) appErr.ErrorCode {
	if out.Clean() {
		return appErr.Success
	}
	if stage == spec.StageBuild {
		if out.Kind == outcome.KindNonzero || out.Kind == outcome.KindTimedOut {
			return appErr.CompilerDiagnosticError
		}
		return appErr.CompilerLaunchError
	}
	switch out.Kind {
	case outcome.KindTimedOut:
		return appErr.ExecutionTimeout
	case outcome.KindNonzero:
		return appErr.ExecutionRuntimeError
	default:
		return appErr.ExecutionLaunchError
	}
}

func (LogRecorder) ObserveResult(ctx context.Context, res result.ExecutionResult) {
	logger.Info(ctx, "request finished",
		zap.String("status", string(res.Status)),
		zap.String("execution_time", res.ExecutionTime),
		zap.Int("stdout_bytes", len(res.Stdout)),
		zap.Int("stderr_bytes", len(res.Stderr)),
	)
}
