package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"coderunner/internal/common/mq"
	"coderunner/internal/sandbox/result"
	appErr "coderunner/pkg/errors"
	"coderunner/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultPoolSize       = 4
	defaultMaxSourceBytes = 64 << 10
	defaultLanguage       = "cpp"
)

// Runner turns one submission into an execution record. The local pipeline
// and the container dispatcher both satisfy it.
type Runner interface {
	Run(ctx context.Context, src []byte) (result.ExecutionResult, error)
}

// ExecuteConfig holds execute service settings.
type ExecuteConfig struct {
	PoolSize        int           `yaml:"poolSize"`
	MaxSourceBytes  int           `yaml:"maxSourceBytes"`
	QueueTimeout    time.Duration `yaml:"queueTimeout"`
	DefaultLanguage string        `yaml:"defaultLanguage"`
}

// ExecuteOption customizes an ExecuteService.
type ExecuteOption func(*ExecuteService)

// WithRunner serves language with runner in addition to the default runner.
func WithRunner(language string, runner Runner) ExecuteOption {
	return func(s *ExecuteService) {
		if runner != nil {
			s.runners[normalizeLanguage(language)] = runner
		}
	}
}

// ExecuteService routes submissions to the runner of their language and
// bounds how many run at once.
type ExecuteService struct {
	runners         map[string]Runner
	defaultLanguage string
	slots           *mq.TokenLimiter
	maxSourceBytes  int
	queueTimeout    time.Duration
}

// NewExecuteService creates a new execute service. runner serves the default language.
func NewExecuteService(runner Runner, cfg ExecuteConfig, opts ...ExecuteOption) (*ExecuteService, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}
	if cfg.MaxSourceBytes <= 0 {
		cfg.MaxSourceBytes = defaultMaxSourceBytes
	}
	lang := normalizeLanguage(cfg.DefaultLanguage)
	if lang == "" {
		lang = defaultLanguage
	}
	s := &ExecuteService{
		runners:         map[string]Runner{lang: runner},
		defaultLanguage: lang,
		slots:           mq.NewTokenLimiter(cfg.PoolSize),
		maxSourceBytes:  cfg.MaxSourceBytes,
		queueTimeout:    cfg.QueueTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Languages returns the served language names in sorted order.
func (s *ExecuteService) Languages() []string {
	names := make([]string, 0, len(s.runners))
	for name := range s.runners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckLanguage resolves language to a served name. Empty selects the default.
func (s *ExecuteService) CheckLanguage(language string) (string, error) {
	lang := normalizeLanguage(language)
	if lang == "" {
		return s.defaultLanguage, nil
	}
	if _, ok := s.runners[lang]; !ok {
		return "", appErr.Newf(appErr.UnsupportedLanguage, "language %q is not supported", language).
			WithDetail("supported", s.Languages())
	}
	return lang, nil
}

func normalizeLanguage(language string) string {
	return strings.ToLower(strings.TrimSpace(language))
}

// MaxSourceBytes returns the accepted submission size.
func (s *ExecuteService) MaxSourceBytes() int {
	return s.maxSourceBytes
}

// CheckSize rejects submissions over the configured cap.
func (s *ExecuteService) CheckSize(size int) error {
	if size > s.maxSourceBytes {
		return appErr.Newf(appErr.SourceTooLarge, "source is %d bytes, limit is %d", size, s.maxSourceBytes).
			WithDetail("size", size).
			WithDetail("limit", s.maxSourceBytes)
	}
	return nil
}

// Execute waits for a free slot and runs src with the runner of language. A
// non-nil error with a zero record means the submission was rejected before it
// reached the runner.
func (s *ExecuteService) Execute(ctx context.Context, language string, src []byte) (result.ExecutionResult, error) {
	lang, err := s.CheckLanguage(language)
	if err != nil {
		return result.ExecutionResult{}, err
	}
	if err := s.CheckSize(len(src)); err != nil {
		return result.ExecutionResult{}, err
	}
	if err := s.acquireSlot(ctx); err != nil {
		return result.ExecutionResult{}, err
	}
	defer s.slots.Release()

	res, err := s.runners[lang].Run(ctx, src)
	if err != nil {
		logger.Error(ctx, "execution setup failed", zap.String("language", lang), zap.Error(err))
		return res, err
	}
	logger.Info(ctx, "execution finished",
		zap.String("language", lang),
		zap.String("status", string(res.Status)),
		zap.String("execution_time", res.ExecutionTime),
		zap.Int("source_bytes", len(src)),
	)
	return res, nil
}

func (s *ExecuteService) acquireSlot(ctx context.Context) error {
	waitCtx := ctx
	if s.queueTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.queueTimeout)
		defer cancel()
	}
	if err := s.slots.Acquire(waitCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return appErr.Wrap(err, appErr.ExecutorBusy)
		}
		return err
	}
	return nil
}
