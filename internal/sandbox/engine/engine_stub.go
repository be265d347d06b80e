//go:build !linux

package engine

import (
	"context"

	"coderunner/internal/sandbox/spec"
	appErr "coderunner/pkg/errors"
)

type stubEngine struct{}

func NewEngine(cfg Config) (Engine, error) {
	return &stubEngine{}, nil
}

func (s *stubEngine) Run(ctx context.Context, runSpec spec.RunSpec) (RunResult, error) {
	return RunResult{}, appErr.New(appErr.SandboxError).WithMessage("sandbox engine is only supported on linux")
}
