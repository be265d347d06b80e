package controller

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"coderunner/internal/runner/service"
	"coderunner/internal/sandbox/result"
	appErr "coderunner/pkg/errors"
	"coderunner/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// jsonEscapeFactor bounds how much JSON string escaping can grow a source: a
// control byte becomes \u00XX.
const jsonEscapeFactor = 6

// Executor runs one submission under the service's concurrency gate.
type Executor interface {
	Execute(ctx context.Context, language string, src []byte) (result.ExecutionResult, error)
	MaxSourceBytes() int
}

// JobQueue accepts asynchronous submissions.
type JobQueue interface {
	Submit(ctx context.Context, language string, code []byte) (string, error)
	Get(ctx context.Context, id string) (service.Job, error)
}

type codeRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// submission is a decoded request body.
type submission struct {
	language string
	code     []byte
}

// ExecuteController handles execution requests.
type ExecuteController struct {
	exec Executor
	jobs JobQueue
}

// NewExecuteController creates a controller. jobs may be nil when the queue is disabled.
func NewExecuteController(exec Executor, jobs JobQueue) *ExecuteController {
	return &ExecuteController{exec: exec, jobs: jobs}
}

// Execute compiles and runs the submitted source and returns the record.
func (h *ExecuteController) Execute(c *gin.Context) {
	sub, err := h.readSubmission(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	res, err := h.exec.Execute(c.Request.Context(), sub.language, sub.code)
	if err != nil {
		if res.Status != "" {
			response.Record(c, http.StatusInternalServerError, result.Marshal(res))
			return
		}
		response.Error(c, err)
		return
	}
	response.Record(c, http.StatusOK, result.Marshal(res))
}

// SubmitJob queues the submitted source and returns the job id.
func (h *ExecuteController) SubmitJob(c *gin.Context) {
	if h.jobs == nil {
		response.ErrorWithCode(c, appErr.ServiceUnavailable, "job queue is disabled")
		return
	}
	sub, err := h.readSubmission(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	id, err := h.jobs.Submit(c.Request.Context(), sub.language, sub.code)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"id": id})
}

// GetJob returns the state of one queued submission.
func (h *ExecuteController) GetJob(c *gin.Context) {
	if h.jobs == nil {
		response.ErrorWithCode(c, appErr.ServiceUnavailable, "job queue is disabled")
		return
	}
	id := c.Param("id")
	if id == "" {
		response.ErrorWithCode(c, appErr.RequiredFieldEmpty, "job id is required")
		return
	}
	job, err := h.jobs.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, job)
}

// readSubmission accepts either a raw body, with the language in the
// ?language= query, or a JSON object {"language": "...", "code": "..."}.
func (h *ExecuteController) readSubmission(c *gin.Context) (submission, error) {
	limit := int64(h.exec.MaxSourceBytes())
	isJSON := strings.HasPrefix(c.ContentType(), "application/json")
	readCap := limit + 1
	if isJSON {
		readCap = jsonEscapeFactor*limit + 1024
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, readCap))
	if err != nil {
		return submission{}, appErr.Wrapf(err, appErr.InvalidParams, "read request body failed")
	}

	sub := submission{language: c.Query("language"), code: body}
	if isJSON {
		var req codeRequest
		if err := json.Unmarshal(body, &req); err != nil {
			if int64(len(body)) == readCap {
				return submission{}, appErr.Newf(appErr.SourceTooLarge, "source exceeds %d bytes", limit)
			}
			return submission{}, appErr.Wrapf(err, appErr.InvalidFormat, "decode request body failed")
		}
		sub.code = []byte(req.Code)
		if req.Language != "" {
			sub.language = req.Language
		}
	}
	if int64(len(sub.code)) > limit {
		return submission{}, appErr.Newf(appErr.SourceTooLarge, "source exceeds %d bytes", limit)
	}
	return sub, nil
}
