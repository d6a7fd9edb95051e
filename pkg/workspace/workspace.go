// Package workspace provides safe access to a hand's working directory: path
// resolution that cannot escape the root, first-iteration context assembly,
// and the run status marker.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/suryarastogi/helping-hands-sub000/pkg/logx"
)

// Workspace is the root directory a run operates in. All relative paths from
// directives resolve against it and may not escape it.
type Workspace struct {
	logger *logx.Logger
	root   string
}

// New creates a Workspace rooted at dir. The directory must exist.
func New(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace directory not accessible: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace path is not a directory: %s", abs)
	}

	return &Workspace{
		logger: logx.NewLogger("workspace"),
		root:   abs,
	}, nil
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string {
	return w.root
}

// Resolve maps a relative path from a directive to an absolute path inside
// the workspace. Absolute paths and paths that traverse outside the root are
// rejected.
func (w *Workspace) Resolve(rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute path not allowed: %s", rel)
	}

	joined := filepath.Join(w.root, rel)
	back, err := filepath.Rel(w.root, joined)
	if err != nil || back == ".." || strings.HasPrefix(back, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", rel)
	}

	return joined, nil
}

// ReadFile reads a workspace-relative file.
func (w *Workspace) ReadFile(rel string) ([]byte, error) {
	path, err := w.Resolve(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rel, err)
	}
	return data, nil
}

// WriteFile writes a workspace-relative file, creating parent directories as
// needed.
func (w *Workspace) WriteFile(rel string, data []byte) error {
	path, err := w.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", rel, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	w.logger.Debug("wrote %s (%d bytes)", rel, len(data))
	return nil
}

// FileExists reports whether a workspace-relative file exists.
func (w *Workspace) FileExists(rel string) bool {
	path, err := w.Resolve(rel)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}
