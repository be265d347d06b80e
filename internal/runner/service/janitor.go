package service

import (
	"context"
	"fmt"
	"time"

	"coderunner/pkg/utils/logger"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const defaultSweepSchedule = "@every 10m"

// Sweeper removes stale per-request workspaces.
type Sweeper interface {
	Sweep(ctx context.Context, olderThan time.Duration) (int, error)
}

// JanitorConfig holds sweep settings.
type JanitorConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Schedule  string        `yaml:"schedule"`
	OlderThan time.Duration `yaml:"olderThan"`
}

// Janitor periodically sweeps workspaces left behind by crashed runs.
type Janitor struct {
	sweeper   Sweeper
	olderThan time.Duration
	cron      *cron.Cron
}

// NewJanitor schedules sweeps on cfg.Schedule. Call Start to begin.
func NewJanitor(sweeper Sweeper, cfg JanitorConfig) (*Janitor, error) {
	if sweeper == nil {
		return nil, fmt.Errorf("sweeper is required")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = defaultSweepSchedule
	}
	if cfg.OlderThan <= 0 {
		cfg.OlderThan = time.Hour
	}
	j := &Janitor{
		sweeper:   sweeper,
		olderThan: cfg.OlderThan,
		cron:      cron.New(),
	}
	if _, err := j.cron.AddFunc(cfg.Schedule, func() { j.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", cfg.Schedule, err)
	}
	return j, nil
}

// RunOnce performs a single sweep and returns the number of removed workspaces.
func (j *Janitor) RunOnce(ctx context.Context) int {
	removed, err := j.sweeper.Sweep(ctx, j.olderThan)
	if err != nil {
		logger.Warn(ctx, "workspace sweep failed", zap.Error(err))
	}
	if removed > 0 {
		logger.Info(ctx, "stale workspaces removed", zap.Int("count", removed))
	}
	return removed
}

// Start begins the schedule in the background.
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}
