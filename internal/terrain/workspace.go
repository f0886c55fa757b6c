package terrain

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Workspace is a scoped temporary directory for the intermediate files of one
// run. Close removes it; callers defer Close right after creation so it goes
// on failure paths too.
type Workspace struct {
	dir    string
	logger *zap.Logger
}

func NewWorkspace(prefix string, logger *zap.Logger) (*Workspace, error) {
	dir, err := os.MkdirTemp("", prefix+"-*")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	logger = logger.Named("workspace")
	logger.Debug("workspace created", zap.String("dir", dir))
	return &Workspace{dir: dir, logger: logger}, nil
}

func (w *Workspace) Dir() string {
	return w.dir
}

// Path returns name joined onto the workspace directory.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, name)
}

// Subdir creates and returns a directory inside the workspace.
func (w *Workspace) Subdir(name string) (string, error) {
	p := w.Path(name)
	if err := os.MkdirAll(p, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", p, err)
	}
	return p, nil
}

// Close removes the workspace. It is safe to call more than once.
func (w *Workspace) Close() error {
	if w.dir == "" {
		return nil
	}
	err := os.RemoveAll(w.dir)
	w.logger.Debug("workspace removed", zap.String("dir", w.dir), zap.Error(err))
	w.dir = ""
	if err != nil {
		return fmt.Errorf("remove workspace: %w", err)
	}
	return nil
}
