// Package eventlog appends run events to daily-rotated JSONL files.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"conductor/pkg/logx"
	"conductor/pkg/proto"
)

// Event is a single JSONL record.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Message   *proto.Message `json:"message,omitempty"`
	RunID     string         `json:"run_id"`
	Type      string         `json:"type"`
	State     string         `json:"state,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// Event types.
const (
	TypeMessage = "message"
	TypeState   = "state"
)

// Writer appends events to a JSONL file, rotating at local midnight.
type Writer struct {
	file   *os.File
	logger *logx.Logger
	dir    string
	day    string
	mu     sync.Mutex
}

// NewWriter creates the log directory and opens today's file.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory: %w", err)
	}
	w := &Writer{
		dir:    dir,
		logger: logx.NewLogger("eventlog"),
	}
	if err := w.rotate(time.Now()); err != nil {
		return nil, err
	}
	return w, nil
}

// Append writes one event. The timestamp is filled in when zero.
func (w *Writer) Append(event Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	if event.Timestamp.IsZero() {
		event.Timestamp = now.UTC()
	}
	if day := now.Format("2006-01-02"); day != w.day {
		if err := w.rotate(now); err != nil {
			return err
		}
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := w.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// Close flushes and closes the current file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close event log: %w", err)
	}
	w.file = nil
	return nil
}

// rotate must be called with the mutex held (or before concurrent use).
func (w *Writer) rotate(now time.Time) error {
	if w.file != nil {
		_ = w.file.Close()
	}
	day := now.Format("2006-01-02")
	path := filepath.Join(w.dir, fmt.Sprintf("events-%s.jsonl", day))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open event log %s: %w", path, err)
	}
	w.file = file
	w.day = day
	w.logger.Debug("event log rotated to %s", path)
	return nil
}
