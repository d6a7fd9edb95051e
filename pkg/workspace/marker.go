package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MarkerFilename is the status marker written under the data directory at the
// start of each run. End-to-end validation flows read it to confirm a run
// actually happened.
const MarkerFilename = "last-run"

// EnsureDataDir creates the engine's data directory inside the workspace and
// drops a self-ignoring .gitignore into it, so run records and transcripts
// never show up in the workspace diff.
func (w *Workspace) EnsureDataDir(dataDir string) (string, error) {
	dir, err := w.Resolve(dataDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	ignore := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(ignore); os.IsNotExist(err) {
		if err := os.WriteFile(ignore, []byte("*\n"), 0644); err != nil {
			return "", fmt.Errorf("failed to write data directory .gitignore: %w", err)
		}
	}
	return dir, nil
}

// WriteRunMarker rewrites the status marker with the current UTC time and the
// originating prompt. The file is replaced, never appended, so re-runs refresh
// rather than accumulate.
func (w *Workspace) WriteRunMarker(dataDir, prompt string) error {
	dir, err := w.EnsureDataDir(dataDir)
	if err != nil {
		return err
	}

	content := fmt.Sprintf("run: %s\nprompt: %s\n",
		time.Now().UTC().Format(time.RFC3339),
		strings.TrimSpace(prompt))

	if err := os.WriteFile(filepath.Join(dir, MarkerFilename), []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write run marker: %w", err)
	}
	return nil
}

// ReadRunMarker returns the marker contents, or an empty string when no run
// has been recorded yet.
func (w *Workspace) ReadRunMarker(dataDir string) string {
	data, err := w.ReadFile(filepath.Join(dataDir, MarkerFilename))
	if err != nil {
		return ""
	}
	return string(data)
}
