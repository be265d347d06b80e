// Package workspace owns the filesystem scope of one request: a private
// directory holding the submitted source and the compiled artifact.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"coderunner/pkg/errors"
	"coderunner/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultSourceFile = "main.cpp"
	defaultBinaryFile = "main"
	defaultDirMode    = 0700
	sourceFileMode    = 0644
)

// Config controls where workspaces live and how their artifacts are named.
type Config struct {
	Root       string      `yaml:"root"`
	SourceFile string      `yaml:"sourceFile"`
	BinaryFile string      `yaml:"binaryFile"`
	Shared     bool        `yaml:"shared"`
	DirMode    os.FileMode `yaml:"dirMode"`
}

// Workspace is the exclusively owned working area of one request.
type Workspace struct {
	ID         string
	Dir        string
	SourcePath string
	BinaryPath string

	released atomic.Bool
}

// Manager allocates, fills and removes workspaces.
type Manager struct {
	cfg Config
	// slot serializes requests when every request uses the same directory.
	slot chan struct{}
}

// NewManager validates cfg and prepares the root directory.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Root == "" {
		cfg.Root = filepath.Join(os.TempDir(), "coderunner")
	}
	if cfg.SourceFile == "" {
		cfg.SourceFile = defaultSourceFile
	}
	if cfg.BinaryFile == "" {
		cfg.BinaryFile = defaultBinaryFile
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = defaultDirMode
	}
	if cfg.SourceFile == cfg.BinaryFile {
		return nil, fmt.Errorf("source and binary file names must differ")
	}
	if filepath.Base(cfg.SourceFile) != cfg.SourceFile || filepath.Base(cfg.BinaryFile) != cfg.BinaryFile {
		return nil, fmt.Errorf("artifact names must be plain file names")
	}
	if err := os.MkdirAll(cfg.Root, 0755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	m := &Manager{cfg: cfg}
	if cfg.Shared {
		m.slot = make(chan struct{}, 1)
	}
	return m, nil
}

// Root returns the directory under which workspaces are created.
func (m *Manager) Root() string {
	return m.cfg.Root
}

// Acquire creates a fresh workspace. In shared mode it waits until the single
// fixed directory is free.
func (m *Manager) Acquire(ctx context.Context) (*Workspace, error) {
	id := uuid.NewString()
	if m.cfg.Shared {
		select {
		case m.slot <- struct{}{}:
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), errors.WorkspaceAcquireFail, "wait for shared workspace: %v", ctx.Err())
		}
		return m.handles(id, m.cfg.Root), nil
	}

	dir := filepath.Join(m.cfg.Root, id)
	if err := os.Mkdir(dir, m.cfg.DirMode); err != nil {
		return nil, errors.Wrapf(err, errors.WorkspaceAcquireFail, "create workspace: %v", err)
	}
	logger.Debug(ctx, "workspace acquired", zap.String("workspace_id", id), zap.String("dir", dir))
	return m.handles(id, dir), nil
}

func (m *Manager) handles(id, dir string) *Workspace {
	return &Workspace{
		ID:         id,
		Dir:        dir,
		SourcePath: filepath.Join(dir, m.cfg.SourceFile),
		BinaryPath: filepath.Join(dir, m.cfg.BinaryFile),
	}
}

// Materialize writes the submission to the workspace source path.
func (m *Manager) Materialize(ctx context.Context, ws *Workspace, src []byte) error {
	if ws == nil {
		return errors.New(errors.FileCreationError)
	}
	if err := os.WriteFile(ws.SourcePath, src, sourceFileMode); err != nil {
		return errors.Wrapf(err, errors.FileCreationError, "%s: %v", errors.FileCreationError.Message(), err)
	}
	return nil
}

// Release removes the workspace artifacts. Removal errors are logged and dropped.
// Calling Release more than once is a no-op.
func (m *Manager) Release(ctx context.Context, ws *Workspace) {
	if ws == nil || !ws.released.CompareAndSwap(false, true) {
		return
	}
	for _, path := range []string{ws.SourcePath, ws.BinaryPath} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn(ctx, "remove workspace artifact failed", zap.String("path", path), zap.Error(err))
		}
	}
	if m.cfg.Shared {
		<-m.slot
		return
	}
	if err := os.RemoveAll(ws.Dir); err != nil {
		logger.Warn(ctx, "remove workspace failed", zap.String("dir", ws.Dir), zap.Error(err))
	}
}

// Sweep removes per-request directories older than olderThan that a crashed
// process left behind. Only directories named like workspace ids are touched.
func (m *Manager) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	if m.cfg.Shared {
		return 0, nil
	}
	entries, err := os.ReadDir(m.cfg.Root)
	if err != nil {
		return 0, fmt.Errorf("read workspace root: %w", err)
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := uuid.Parse(entry.Name()); err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		dir := filepath.Join(m.cfg.Root, entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn(ctx, "sweep workspace failed", zap.String("dir", dir), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}
