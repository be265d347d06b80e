package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"coderunner/internal/common/mq"
	"coderunner/internal/sandbox/result"
	appErr "coderunner/pkg/errors"
	"coderunner/pkg/utils/contextkey"
	"coderunner/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// traceHeader carries the submitting request's trace id to the consumer.
const traceHeader = "trace_id"

// JobRequest is the payload published to the request topic.
type JobRequest struct {
	ID       string `json:"id"`
	Language string `json:"language,omitempty"`
	Code     string `json:"code"`
}

// JobResult is the payload published to the result topic.
type JobResult struct {
	ID     string                 `json:"id"`
	Result result.ExecutionResult `json:"result"`
}

// JobService accepts submissions for asynchronous execution.
type JobService struct {
	producer     mq.Producer
	jobs         *JobRepository
	requestTopic string
	exec         *ExecuteService
}

// NewJobService creates a new job service. exec, when set, vets submissions
// before they are queued.
func NewJobService(producer mq.Producer, jobs *JobRepository, requestTopic string, exec *ExecuteService) (*JobService, error) {
	if producer == nil {
		return nil, fmt.Errorf("producer is required")
	}
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if requestTopic == "" {
		return nil, fmt.Errorf("request topic is required")
	}
	return &JobService{producer: producer, jobs: jobs, requestTopic: requestTopic, exec: exec}, nil
}

// Submit records a queued job and publishes it. It returns the job id.
func (s *JobService) Submit(ctx context.Context, language string, code []byte) (string, error) {
	if s.exec != nil {
		lang, err := s.exec.CheckLanguage(language)
		if err != nil {
			return "", err
		}
		if err := s.exec.CheckSize(len(code)); err != nil {
			return "", err
		}
		language = lang
	}
	id := uuid.NewString()
	if err := s.jobs.Save(ctx, Job{ID: id, State: JobQueued, CreatedAt: time.Now().Unix()}); err != nil {
		return "", err
	}

	payload, err := json.Marshal(JobRequest{ID: id, Language: language, Code: string(code)})
	if err != nil {
		return "", fmt.Errorf("marshal job request failed: %w", err)
	}
	msg := mq.NewMessage(payload)
	msg.ID = id
	if traceID, ok := ctx.Value(contextkey.TraceID).(string); ok && traceID != "" {
		msg.SetHeader(traceHeader, traceID)
	}
	if err := s.producer.Publish(ctx, s.requestTopic, msg); err != nil {
		logger.Error(ctx, "publish job failed", zap.String("job_id", id), zap.Error(err))
		return "", appErr.Wrapf(err, appErr.QueuePublishFailed, "publish job failed")
	}
	return id, nil
}

// Get returns the stored state of a job.
func (s *JobService) Get(ctx context.Context, id string) (Job, error) {
	return s.jobs.Get(ctx, id)
}
