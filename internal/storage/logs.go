// Package storage persists per-step output logs for a run.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"stagehand/pkg/utils"
)

// LogStore hands out per-run log directories under a base directory.
type LogStore struct {
	baseDir string
}

// NewLogStore creates a log store rooted at baseDir.
func NewLogStore(baseDir string) *LogStore {
	return &LogStore{baseDir: baseDir}
}

// ForRun creates (or reuses) the log directory of a run.
func (s *LogStore) ForRun(runID string) (*RunLogs, error) {
	dir := filepath.Join(s.baseDir, runID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &RunLogs{dir: dir}, nil
}

// Concat returns a run's step logs joined in execution order, each preceded
// by a header naming the log file. Runs that kept no logs yield an error.
func (s *LogStore) Concat(runID string) ([]byte, error) {
	dir := filepath.Join(s.baseDir, runID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read log directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var buf strings.Builder
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read step log: %w", err)
		}
		fmt.Fprintf(&buf, "--- %s ---\n", name)
		buf.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	return []byte(buf.String()), nil
}

// RunLogs writes sequentially numbered step logs for one run.
type RunLogs struct {
	dir string
	seq int
}

// Dir returns the run's log directory.
func (l *RunLogs) Dir() string { return l.dir }

// Save writes one step's combined output. File names carry the execution
// sequence so the directory listing reads in run order.
func (l *RunLogs) Save(stage, step string, output []byte) (string, error) {
	l.seq++
	name := fmt.Sprintf("%02d-%s-%s.log", l.seq, slug(stage), slug(step))
	path := filepath.Join(l.dir, name)
	if err := os.WriteFile(path, output, 0o640); err != nil {
		return "", fmt.Errorf("save step log: %w", err)
	}
	return path, nil
}

// Digest fingerprints the run's logs: the sha256 of each file, in name
// order, folded into one hash. History records store this value so a
// mutated log is detectable.
func (l *RunLogs) Digest() (string, error) {
	return DigestDir(l.dir)
}

// DigestDir computes the log digest of any run log directory.
func DigestDir(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read log directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	hashes := make([]string, 0, len(names))
	for _, name := range names {
		h, err := utils.HashFile(filepath.Join(dir, name))
		if err != nil {
			return "", err
		}
		hashes = append(hashes, name+":"+h)
	}
	return utils.HashStrings(hashes), nil
}

// slug normalizes a stage/step label into a file-name fragment.
func slug(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
		if b.Len() >= 40 {
			break
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
