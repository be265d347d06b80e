// Command runner reads one submission from stdin, compiles and runs it, and
// writes a single JSON record line to stdout. C++ is the default language.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coderunner/internal/sandbox/result"
	"coderunner/internal/sandbox/setup"
	"coderunner/pkg/utils/logger"

	"go.uber.org/zap"
)

func main() {
	os.Exit(run(os.Stdin, os.Stdout))
}

func run(stdin io.Reader, stdout io.Writer) int {
	configPath := flag.String("config", "", "Path to optional config file")
	workDir := flag.String("workdir", "", "Workspace root (overrides config)")
	timeout := flag.Duration("timeout", 0, "Execution deadline (overrides config)")
	language := flag.String("language", "", "Language profile to run (default: the config's default)")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath, *workDir, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return 1
	}
	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return execute(ctx, appCfg.Sandbox, *language, stdin, stdout)
}

// execute runs one submission. The exit status is 1 only when the submission
// could not be written to the workspace.
func execute(ctx context.Context, cfg setup.Config, language string, stdin io.Reader, stdout io.Writer) int {
	pipes, err := setup.NewPipelines(cfg)
	if err != nil {
		logger.Error(ctx, "init pipeline failed", zap.Error(err))
		_ = result.Encode(stdout, result.FileCreationFailure(0))
		return 1
	}
	pipe, ok := pipes.Get(language)
	if !ok {
		logger.Error(ctx, "unsupported language", zap.String("language", language), zap.Strings("supported", pipes.Languages()))
		_ = result.Encode(stdout, result.FileCreationFailure(0))
		return 1
	}

	start := time.Now()
	src, err := io.ReadAll(stdin)
	if err != nil {
		logger.Error(ctx, "read submission failed", zap.Error(err))
		_ = result.Encode(stdout, result.FileCreationFailure(time.Since(start)))
		return 1
	}

	res, runErr := pipe.Run(ctx, src)
	if err := result.Encode(stdout, res); err != nil {
		logger.Error(ctx, "write result failed", zap.Error(err))
		return 1
	}
	if runErr != nil {
		return 1
	}
	return 0
}
