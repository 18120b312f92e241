// Package sink implements the two best-effort event outputs (spec
// §4.5): an append-only JSON-lines file and an HTTP collector with
// backpressure (a bounded, rate-limited queue). The collector makes one
// delivery attempt per event and does not retry a failed POST. Both
// satisfy event.Sink so a Builder can fan out to either or both.
package sink

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nextlevelbuilder/sentryflect/event"
)

// FileSink appends one JSON object per line to Path, UTF-8, creating
// the parent directory if needed. On a write failure it retries once
// against a fallback path; a subsequent failure is logged and dropped
// (spec §4.5 File sink).
type FileSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// NewFileSink opens (or creates) path for appending.
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sink: create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sink: open log file: %w", err)
	}
	return &FileSink{path: path, f: f}, nil
}

// Accept serializes ev as one JSON line and appends it. Failures are
// swallowed after the fallback attempt per the spec's best-effort
// contract; callers never see an error.
func (s *FileSink) Accept(ev event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(ev)
	if err != nil {
		slog.Error("sink: marshal event failed", "error", err, "name", ev.EventType)
		return
	}
	line = append(line, '\n')

	if s.f != nil {
		if _, err := s.f.Write(line); err == nil {
			return
		}
		slog.Warn("sink: primary file write failed, retrying to fallback", "path", s.path)
	}

	if err := s.writeFallback(line); err != nil {
		slog.Error("sink: fallback file write failed, dropping event", "error", err, "name", ev.EventType)
	}
}

// writeFallback is the retry path: ~/cylestio_monitor_fallback_YYYYMMDD_<pid>.json.
// The PID suffix (a supplement over the bare date-stamped name in spec.md
// §4.5) prevents concurrently running instrumented processes on the same
// host from clobbering each other's fallback file.
func (s *FileSink) writeFallback(line []byte) error {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	name := fmt.Sprintf("cylestio_monitor_fallback_%s_%d.json", time.Now().UTC().Format("20060102"), os.Getpid())
	path := filepath.Join(home, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(line)
	return err
}

// Close releases the underlying file handle.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	return s.f.Close()
}

// DefaultLogFileName builds the `{agent_id}_monitoring_{YYYYMMDD_HHMMSS}.json`
// name required when monitoring.log_file is a directory (spec §6).
func DefaultLogFileName(agentID string, now time.Time) string {
	return fmt.Sprintf("%s_monitoring_%s.json", agentID, now.UTC().Format("20060102_150405"))
}

// ResolveLogFilePath applies spec §6's rules: if configured is a
// directory, generate the default name inside it; if it lacks an
// extension, append .json.
func ResolveLogFilePath(configured, agentID string, now time.Time) (string, error) {
	if configured == "" {
		return filepath.Join(".", DefaultLogFileName(agentID, now)), nil
	}
	info, err := os.Stat(configured)
	if err == nil && info.IsDir() {
		return filepath.Join(configured, DefaultLogFileName(agentID, now)), nil
	}
	if filepath.Ext(configured) == "" {
		return configured + ".json", nil
	}
	return configured, nil
}
