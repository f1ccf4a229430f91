// Package logging provides leveled logging and sweep event tracing.
// It offers two complementary outputs:
//   - A leveled slog.Logger for stderr (operational output)
//   - An EventLogger for JSONL sweep events (<results>/sweep-events.jsonl)
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// EventsFile is the name of the event log inside a results root.
const EventsFile = "sweep-events.jsonl"

// LevelTrace is a custom slog level below Debug. At this level every engine
// invocation and its arguments are logged.
const LevelTrace = slog.LevelDebug - 4

// ParseLevel maps a string level name to a slog.Level.
// Supported values: "info", "debug", "trace" (case-insensitive).
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// ValidLevel reports whether s names a supported level.
func ValidLevel(s string) bool {
	switch strings.ToLower(s) {
	case "info", "debug", "trace":
		return true
	}
	return false
}

// NewLogger creates a leveled text logger writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// EventLogger appends sweep events to a JSONL file, one object per line.
// It is safe for concurrent use, and a nil *EventLogger ignores every call.
type EventLogger struct {
	mu   sync.Mutex
	file *os.File
	now  func() time.Time
}

// NewEventLogger opens dir/sweep-events.jsonl for append. At "info" level it
// returns nil and creates nothing.
func NewEventLogger(dir string, level string) (*EventLogger, error) {
	if ParseLevel(level) == slog.LevelInfo {
		return nil, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating event log dir: %w", err)
	}

	path := filepath.Join(dir, EventsFile)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}

	return &EventLogger{file: f, now: time.Now}, nil
}

// Log writes one event. The "event" and "time" keys are set by the logger;
// fields is not modified.
func (el *EventLogger) Log(event string, fields map[string]any) {
	if el == nil {
		return
	}

	entry := make(map[string]any, len(fields)+2)
	maps.Copy(entry, fields)
	entry["event"] = event

	el.mu.Lock()
	defer el.mu.Unlock()
	if el.file == nil {
		return
	}
	entry["time"] = el.now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')
	_, _ = el.file.Write(data)
}

// Close closes the underlying file. Safe to call on a nil receiver.
func (el *EventLogger) Close() error {
	if el == nil {
		return nil
	}

	el.mu.Lock()
	defer el.mu.Unlock()
	if el.file == nil {
		return nil
	}
	err := el.file.Close()
	el.file = nil
	return err
}
