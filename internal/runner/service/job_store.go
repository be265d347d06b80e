package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"coderunner/internal/common/cache"
	"coderunner/internal/sandbox/result"
	appErr "coderunner/pkg/errors"
)

const jobKeyPrefix = "coderunner:job:"

// JobState is the lifecycle position of an asynchronous submission.
type JobState string

const (
	JobQueued JobState = "queued"
	JobDone   JobState = "done"
	JobFailed JobState = "failed"
)

// Job is the stored view of one asynchronous submission.
type Job struct {
	ID         string                  `json:"id"`
	State      JobState                `json:"state"`
	Result     *result.ExecutionResult `json:"result,omitempty"`
	Error      string                  `json:"error,omitempty"`
	CreatedAt  int64                   `json:"createdAt"`
	FinishedAt int64                   `json:"finishedAt,omitempty"`
}

// JobRepository persists job state in the cache.
type JobRepository struct {
	cache   cache.BasicOps
	ttl     time.Duration
	timeout time.Duration
}

// NewJobRepository creates a new repository.
func NewJobRepository(cacheClient cache.BasicOps, ttl, timeout time.Duration) *JobRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JobRepository{cache: cacheClient, ttl: ttl, timeout: timeout}
}

// Get returns a job by id.
func (r *JobRepository) Get(ctx context.Context, id string) (Job, error) {
	if id == "" {
		return Job{}, appErr.New(appErr.InvalidParams).WithMessage("job id is required")
	}
	if r.cache == nil {
		return Job{}, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	val, err := r.cache.Get(ctx, jobKeyPrefix+id)
	if err != nil {
		return Job{}, appErr.Wrapf(err, appErr.CacheError, "load job failed")
	}
	if val == "" {
		return Job{}, appErr.New(appErr.NotFound).WithMessage("job not found")
	}
	var job Job
	if err := json.Unmarshal([]byte(val), &job); err != nil {
		return Job{}, appErr.Wrapf(err, appErr.CacheError, "decode job failed")
	}
	return job, nil
}

// Save persists a job.
func (r *JobRepository) Save(ctx context.Context, job Job) error {
	if job.ID == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("job id is required")
	}
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job failed: %w", err)
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.cache.Set(ctx, jobKeyPrefix+job.ID, string(data), cache.JitterTTL(r.ttl)); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store job failed")
	}
	return nil
}

func (r *JobRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}
