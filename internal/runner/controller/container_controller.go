package controller

import (
	"context"

	"coderunner/internal/runner/dispatch"
	appErr "coderunner/pkg/errors"
	"coderunner/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// ContainerManager controls the per-language runner containers.
type ContainerManager interface {
	ListContainers(ctx context.Context) ([]dispatch.ContainerStatus, error)
	StartContainer(ctx context.Context, language string) (dispatch.ContainerStatus, error)
	StopContainer(ctx context.Context, id string) error
}

type startContainerRequest struct {
	Language string `json:"language"`
}

type stopContainerRequest struct {
	ContainerID string `json:"containerId"`
}

// ContainerController serves the container admin routes.
type ContainerController struct {
	containers ContainerManager
}

func NewContainerController(containers ContainerManager) *ContainerController {
	return &ContainerController{containers: containers}
}

// List reports every language's container.
func (h *ContainerController) List(c *gin.Context) {
	list, err := h.containers.ListContainers(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, list)
}

// Start runs the container of the requested language.
func (h *ContainerController) Start(c *gin.Context) {
	var req startContainerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErr.Wrapf(err, appErr.InvalidFormat, "decode request body failed"))
		return
	}
	status, err := h.containers.StartContainer(c.Request.Context(), req.Language)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, status)
}

// Stop stops a container by id or name.
func (h *ContainerController) Stop(c *gin.Context) {
	var req stopContainerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErr.Wrapf(err, appErr.InvalidFormat, "decode request body failed"))
		return
	}
	if err := h.containers.StopContainer(c.Request.Context(), req.ContainerID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"containerId": req.ContainerID, "status": dispatch.StateStopped})
}
