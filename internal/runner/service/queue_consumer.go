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

	"go.uber.org/zap"
)

// QueueConsumer runs submissions delivered through the message queue.
type QueueConsumer struct {
	exec        *ExecuteService
	jobs        *JobRepository
	producer    mq.Producer
	resultTopic string
}

// NewQueueConsumer creates a consumer. producer and resultTopic are optional;
// without them results are only stored.
func NewQueueConsumer(exec *ExecuteService, jobs *JobRepository, producer mq.Producer, resultTopic string) (*QueueConsumer, error) {
	if exec == nil {
		return nil, fmt.Errorf("execute service is required")
	}
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	return &QueueConsumer{exec: exec, jobs: jobs, producer: producer, resultTopic: resultTopic}, nil
}

// Subscribe registers the consumer on topic. At most opts.Concurrency messages
// are fetched ahead of the execute service.
func (c *QueueConsumer) Subscribe(ctx context.Context, consumer mq.Consumer, topic string, opts mq.SubscribeOptions) error {
	if consumer == nil {
		return fmt.Errorf("consumer is required")
	}
	return consumer.Subscribe(ctx, topic, c.HandleMessage, &opts, mq.NewTokenLimiter(opts.Concurrency))
}

// HandleMessage executes one job request. Malformed messages are dropped. A
// busy executor returns the error so the message is retried; on the last
// attempt the job is marked failed first.
func (c *QueueConsumer) HandleMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return nil
	}
	if traceID, ok := msg.GetHeader(traceHeader); ok {
		ctx = context.WithValue(ctx, contextkey.TraceID, traceID)
	}
	var req JobRequest
	if err := json.Unmarshal(msg.Body, &req); err != nil || req.ID == "" {
		logger.Warn(ctx, "drop malformed job message",
			zap.String("message_id", msg.ID),
			zap.Error(appErr.New(appErr.QueueMessageBad)),
		)
		return nil
	}

	job, err := c.jobs.Get(ctx, req.ID)
	if err != nil {
		job = Job{ID: req.ID, CreatedAt: msg.Timestamp.Unix()}
	}
	if job.State == JobDone {
		return nil
	}

	res, err := c.exec.Execute(ctx, req.Language, []byte(req.Code))
	job.FinishedAt = time.Now().Unix()
	switch {
	case err == nil:
		job.State = JobDone
		job.Result = &res
	case appErr.Is(err, appErr.ExecutorBusy):
		if msg.RetryCount < msg.MaxRetries {
			return err
		}
		job.State = JobFailed
		job.Error = err.Error()
		c.save(ctx, job)
		return err
	case res.Status != "":
		job.State = JobFailed
		job.Result = &res
		job.Error = err.Error()
	default:
		job.State = JobFailed
		job.Error = err.Error()
	}

	c.save(ctx, job)
	if job.Result != nil {
		c.publishResult(ctx, job.ID, *job.Result)
	}
	return nil
}

func (c *QueueConsumer) save(ctx context.Context, job Job) {
	if err := c.jobs.Save(ctx, job); err != nil {
		logger.Warn(ctx, "save job failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (c *QueueConsumer) publishResult(ctx context.Context, id string, res result.ExecutionResult) {
	if c.producer == nil || c.resultTopic == "" {
		return
	}
	payload, err := json.Marshal(JobResult{ID: id, Result: res})
	if err != nil {
		logger.Warn(ctx, "marshal job result failed", zap.String("job_id", id), zap.Error(err))
		return
	}
	msg := mq.NewMessage(payload)
	msg.ID = id
	if err := c.producer.Publish(ctx, c.resultTopic, msg); err != nil {
		logger.Warn(ctx, "publish job result failed", zap.String("job_id", id), zap.Error(err))
	}
}
