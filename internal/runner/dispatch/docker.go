// Package dispatch forwards submissions to long-running runner containers, one
// per language, instead of executing them in-process.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"coderunner/internal/sandbox/result"
	appErr "coderunner/pkg/errors"
	"coderunner/pkg/utils/logger"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

const (
	defaultRunnerCommand = "/usr/local/bin/runner"
	defaultLanguage      = "cpp"
	defaultPrefix        = "code-runner-"
)

// DockerConfig holds container dispatch settings. Container and Command
// describe the default language; Languages adds more.
type DockerConfig struct {
	Host      string        `yaml:"host"`
	Language  string        `yaml:"language"`
	Container string        `yaml:"container"`
	Image     string        `yaml:"image"`
	Command   []string      `yaml:"command"`
	Timeout   time.Duration `yaml:"timeout"`

	// Prefix names containers and images that a profile leaves unset:
	// prefix + language. Default "code-runner-".
	Prefix    string                    `yaml:"prefix"`
	Languages map[string]DockerLanguage `yaml:"languages"`
}

// DockerLanguage is the runner container of one language.
type DockerLanguage struct {
	Container string   `yaml:"container"`
	Image     string   `yaml:"image"`
	Command   []string `yaml:"command"`
}

// profile is a resolved DockerLanguage.
type profile struct {
	language  string
	container string
	image     string
	command   []string
}

// Dispatcher owns the daemon connection and the runner of every language.
type Dispatcher struct {
	cli      dockerAPI
	closer   func() error
	defaults string
	profiles map[string]profile
	timeout  time.Duration
}

// NewDispatcher connects to the Docker daemon from the environment, or Host when set.
func NewDispatcher(cfg DockerConfig) (*Dispatcher, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	d, err := newDispatcher(cli, cfg)
	if err != nil {
		_ = cli.Close()
		return nil, err
	}
	d.closer = cli.Close
	return d, nil
}

func newDispatcher(cli dockerAPI, cfg DockerConfig) (*Dispatcher, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	lang := normalize(cfg.Language)
	if lang == "" {
		lang = defaultLanguage
	}
	d := &Dispatcher{
		cli:      cli,
		closer:   func() error { return nil },
		defaults: lang,
		profiles: make(map[string]profile),
		timeout:  cfg.Timeout,
	}
	d.profiles[lang] = resolve(cfg.Prefix, lang, DockerLanguage{Container: cfg.Container, Image: cfg.Image, Command: cfg.Command})
	for name, l := range cfg.Languages {
		name = normalize(name)
		if name == "" {
			return nil, fmt.Errorf("language name is required")
		}
		if _, dup := d.profiles[name]; dup {
			return nil, fmt.Errorf("language %q is configured twice", name)
		}
		d.profiles[name] = resolve(cfg.Prefix, name, l)
	}
	return d, nil
}

func resolve(prefix, language string, l DockerLanguage) profile {
	p := profile{language: language, container: l.Container, image: l.Image, command: l.Command}
	if p.container == "" {
		p.container = prefix + language
	}
	if p.image == "" {
		p.image = prefix + language
	}
	if len(p.command) == 0 {
		p.command = []string{defaultRunnerCommand}
	}
	return p
}

func normalize(language string) string {
	return strings.ToLower(strings.TrimSpace(language))
}

// DefaultLanguage returns the language of the top-level profile.
func (d *Dispatcher) DefaultLanguage() string {
	return d.defaults
}

// Languages returns the configured languages in sorted order.
func (d *Dispatcher) Languages() []string {
	names := make([]string, 0, len(d.profiles))
	for name := range d.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Runner returns the runner of language.
func (d *Dispatcher) Runner(language string) (*DockerRunner, bool) {
	p, ok := d.profiles[normalize(language)]
	if !ok {
		return nil, false
	}
	return &DockerRunner{cli: d.cli, profile: p, timeout: d.timeout}, true
}

// Ping checks the daemon connection.
func (d *Dispatcher) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	return err
}

// Close releases the daemon connection.
func (d *Dispatcher) Close() error {
	return d.closer()
}

// DockerRunner runs each submission through `docker exec` in its language's
// container. The container entrypoint reads the source on stdin and prints one
// record line.
type DockerRunner struct {
	cli     dockerAPI
	profile profile
	timeout time.Duration
}

// Run sends src to the runner container and decodes the record it prints.
func (d *DockerRunner) Run(ctx context.Context, src []byte) (result.ExecutionResult, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	name := d.profile.container

	created, err := d.cli.ContainerExecCreate(ctx, name, container.ExecOptions{
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          d.profile.command,
	})
	if err != nil {
		return result.ExecutionResult{}, appErr.Wrapf(err, appErr.DispatchFailed, "create exec in %s failed", name)
	}

	attach, err := d.cli.ContainerExecAttach(ctx, created.ID, container.ExecStartOptions{})
	if err != nil {
		return result.ExecutionResult{}, appErr.Wrapf(err, appErr.DispatchFailed, "attach exec failed")
	}
	defer attach.Close()

	if _, err := attach.Conn.Write(src); err != nil {
		return result.ExecutionResult{}, appErr.Wrapf(err, appErr.DispatchFailed, "send source failed")
	}
	if err := attach.CloseWrite(); err != nil {
		return result.ExecutionResult{}, appErr.Wrapf(err, appErr.DispatchFailed, "close exec stdin failed")
	}

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	if _, err := stdcopy.StdCopy(stdout, stderr, attach.Reader); err != nil {
		logger.Warn(ctx, "read exec output failed", zap.String("container", name), zap.Error(err))
	}
	return decodeRecord(stdout.Bytes(), stderr.Bytes())
}

// decodeRecord extracts the record from the runner's stdout. The runner logs
// to stderr, which is only used to explain a missing record.
func decodeRecord(stdout, stderr []byte) (result.ExecutionResult, error) {
	line := bytes.TrimSpace(stdout)
	if i := bytes.LastIndexByte(line, '\n'); i >= 0 {
		line = line[i+1:]
	}
	if len(line) == 0 {
		return result.ExecutionResult{}, appErr.New(appErr.DispatchFailed).
			WithMessagef("runner produced no record: %s", tail(stderr, 512))
	}
	res, err := result.Unmarshal(line)
	if err != nil {
		return result.ExecutionResult{}, appErr.Wrapf(err, appErr.DispatchFailed, "decode runner record failed")
	}
	if res.Stderr == result.FileCreationFailure(0).Stderr && res.Status == result.StatusFailure {
		return res, appErr.New(appErr.FileCreationError)
	}
	return res, nil
}

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return s
}
