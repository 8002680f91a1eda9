// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

package eventlog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/fleetd/internal/logging"
	"github.com/tomtom215/fleetd/internal/metrics"
)

// FileSink appends entries to an NDJSON file and rotates it by size.
// One process owns a given path; the mutex orders appends within it.
type FileSink struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewFileSink creates a sink writing to path. The file and its directory are
// created on first append.
func NewFileSink(path string) *FileSink {
	return &FileSink{
		path: path,
		now:  time.Now,
	}
}

// Path returns the active log file path.
func (f *FileSink) Path() string {
	return f.path
}

// Append writes e as one line, rotating first when the file has reached
// maxBytes. A non-positive maxBytes disables rotation.
func (f *FileSink) Append(e Entry, maxBytes int64) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry %s: %w", e.ID, err)
	}
	line = append(line, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o750); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	if maxBytes > 0 {
		if rotated, err := f.rotateLocked(maxBytes); err != nil {
			logging.Error().Err(err).Str("path", f.path).Msg("Event log rotation failed")
		} else if rotated != "" {
			metrics.LogRotations.Inc()
			logging.Info().Str("path", f.path).Str("backup", rotated).Msg("Event log rotated")
		}
	}

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	if _, err := file.Write(line); err != nil {
		_ = file.Close()
		return fmt.Errorf("append event log: %w", err)
	}
	return file.Close()
}

// rotate moves the active file aside unconditionally and returns the backup
// path, or "" when there was nothing to rotate.
func (f *FileSink) rotate() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rotateLocked(1)
}

func (f *FileSink) rotateLocked(maxBytes int64) (string, error) {
	info, err := os.Stat(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("stat event log: %w", err)
	}
	if info.Size() < maxBytes {
		return "", nil
	}

	backup := f.backupPathLocked()
	if err := os.Rename(f.path, backup); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("rename event log: %w", err)
	}
	if err := os.WriteFile(f.path, nil, 0o640); err != nil {
		return backup, fmt.Errorf("recreate event log: %w", err)
	}
	return backup, nil
}

// backupPathLocked picks an unused backup name. Two rotations in the same
// millisecond get a numeric suffix instead of overwriting each other.
func (f *FileSink) backupPathLocked() string {
	base := BackupName(f.path, f.now())
	candidate := base
	for i := 1; ; i++ {
		if _, err := os.Stat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate
		}
		candidate = strings.TrimSuffix(base, ".bak") + fmt.Sprintf("-%d.bak", i)
	}
}

// BackupName returns the rotation target for path at time t:
// <path>.<UTC ISO-8601 with ':' and '.' replaced by '-'>.bak
func BackupName(path string, t time.Time) string {
	stamp := t.UTC().Format("2006-01-02T15:04:05.000Z")
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	return path + "." + stamp + ".bak"
}

// ProcessLogPath returns the per-process variant of path for a worker slot:
// logs/transactions.log becomes logs/transactions.worker-3.log.
func ProcessLogPath(path string, slot int) string {
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s.worker-%d%s", strings.TrimSuffix(path, ext), slot, ext)
}
