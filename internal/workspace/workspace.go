// Package workspace manages the working directory of a single pipeline run:
// created before the first stage, removed after the post-run hook on every
// exit path.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Manager owns one run's workspace directory.
type Manager struct {
	baseDir string
	dir     string
}

// New creates a manager that places workspaces under baseDir. An empty
// baseDir falls back to the system temp directory.
func New(baseDir string) *Manager {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	return &Manager{baseDir: baseDir}
}

// Create makes the workspace directory for a run. The name carries a
// timestamp plus a run-id fragment so concurrent runs never collide.
func (m *Manager) Create(runID string) (string, error) {
	if len(runID) > 8 {
		runID = runID[:8]
	}
	dir := filepath.Join(m.baseDir, fmt.Sprintf("stagehand-%s-%s", time.Now().Format("20060102-150405"), runID))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create workspace directory: %w", err)
	}
	m.dir = dir
	slog.Debug("created workspace", "path", dir)
	return dir, nil
}

// Path returns the workspace directory, or "" before Create.
func (m *Manager) Path() string {
	return m.dir
}

// Cleanup removes the workspace directory. Removing a workspace that was
// never created or is already gone is a no-op, so Cleanup is safe to call
// more than once.
func (m *Manager) Cleanup() error {
	if m.dir == "" {
		return nil
	}
	if err := os.RemoveAll(m.dir); err != nil {
		return fmt.Errorf("remove workspace %s: %w", m.dir, err)
	}
	slog.Debug("removed workspace", "path", m.dir)
	return nil
}
