package dispatch

import (
	"context"
	"strings"

	appErr "coderunner/pkg/errors"
	"coderunner/pkg/utils/logger"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"
)

// shortIDLen is the length of the ids the docker CLI prints.
const shortIDLen = 12

// Container states reported by ListContainers.
const (
	StateRunning = "running"
	StateStopped = "stopped"
	StateMissing = "missing"
)

// dockerAPI is the part of the Docker client the dispatcher uses.
type dockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ContainerExecCreate(ctx context.Context, container string, options container.ExecOptions) (types.IDResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecStartOptions) (types.HijackedResponse, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
}

// ContainerStatus describes the runner container of one language.
type ContainerStatus struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Image    string `json:"image"`
	State    string `json:"status"`
	Uptime   string `json:"uptime"`
}

// ListContainers reports every configured language's container, including
// ones that do not exist yet.
func (d *Dispatcher) ListContainers(ctx context.Context) ([]ContainerStatus, error) {
	existing, err := d.existing(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ContainerStatus, 0, len(d.profiles))
	for _, lang := range d.Languages() {
		p := d.profiles[lang]
		status := ContainerStatus{Name: p.container, Language: lang, Image: p.image, State: StateMissing}
		if c, ok := existing[p.container]; ok {
			status.ID = c.ID
			status.Uptime = c.Status
			status.State = StateStopped
			if c.State == StateRunning {
				status.State = StateRunning
			}
		}
		out = append(out, status)
	}
	return out, nil
}

// StartContainer makes language's runner container run, creating it from its
// image when missing.
func (d *Dispatcher) StartContainer(ctx context.Context, language string) (ContainerStatus, error) {
	lang := normalize(language)
	if lang == "" {
		return ContainerStatus{}, appErr.New(appErr.RequiredFieldEmpty).WithMessage("language is required")
	}
	p, ok := d.profiles[lang]
	if !ok {
		return ContainerStatus{}, appErr.Newf(appErr.UnsupportedLanguage, "language %q is not supported", language)
	}
	existing, err := d.existing(ctx)
	if err != nil {
		return ContainerStatus{}, err
	}

	status := ContainerStatus{Name: p.container, Language: lang, Image: p.image, State: StateRunning}
	c, found := existing[p.container]
	switch {
	case found && c.State == StateRunning:
		status.ID = c.ID
		return status, nil
	case found:
		status.ID = c.ID
	default:
		created, err := d.cli.ContainerCreate(ctx, &container.Config{
			Image:     p.image,
			Tty:       true,
			OpenStdin: true,
		}, nil, nil, nil, p.container)
		if err != nil {
			return ContainerStatus{}, appErr.Wrapf(err, appErr.ContainerError, "create container %s failed", p.container)
		}
		status.ID = created.ID
	}
	if err := d.cli.ContainerStart(ctx, status.ID, container.StartOptions{}); err != nil {
		return ContainerStatus{}, appErr.Wrapf(err, appErr.ContainerError, "start container %s failed", p.container)
	}
	logger.Info(ctx, "runner container started", zap.String("container", p.container), zap.String("language", lang))
	return status, nil
}

// StopContainer stops a runner container by id. Containers the dispatcher
// does not manage are reported as not found.
func (d *Dispatcher) StopContainer(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return appErr.New(appErr.RequiredFieldEmpty).WithMessage("container id is required")
	}
	existing, err := d.existing(ctx)
	if err != nil {
		return err
	}
	for name, c := range existing {
		if c.ID != id && name != id && !(len(id) >= shortIDLen && strings.HasPrefix(c.ID, id)) {
			continue
		}
		if err := d.cli.ContainerStop(ctx, c.ID, container.StopOptions{}); err != nil {
			return appErr.Wrapf(err, appErr.ContainerError, "stop container %s failed", name)
		}
		logger.Info(ctx, "runner container stopped", zap.String("container", name))
		return nil
	}
	return appErr.New(appErr.NotFound).WithMessage("container not found")
}

// existing returns the managed containers that exist, keyed by name.
func (d *Dispatcher) existing(ctx context.Context) (map[string]types.Container, error) {
	list, err := d.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ContainerError, "list containers failed")
	}
	managed := make(map[string]struct{}, len(d.profiles))
	for _, p := range d.profiles {
		managed[p.container] = struct{}{}
	}
	out := make(map[string]types.Container)
	for _, c := range list {
		for _, name := range c.Names {
			name = strings.TrimPrefix(name, "/")
			if _, ok := managed[name]; ok {
				out[name] = c
			}
		}
	}
	return out, nil
}
