package uttlog

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// TextTimeLayout is the timestamp format of [TextLog] lines.
const TextTimeLayout = "2006-01-02 15:04:05"

// TextLog appends one line per utterance:
//
//	[2026-03-01 14:05:09] Finalized: turn left at the fountain
type TextLog struct {
	mu sync.Mutex
	w  io.Writer
	c  io.Closer
}

// OpenTextLog opens (creating if needed) the log file at path for
// appending. Missing parent directories are created.
func OpenTextLog(path string) (*TextLog, error) {
	f, err := openAppend(path)
	if err != nil {
		return nil, fmt.Errorf("uttlog: open text log: %w", err)
	}
	return &TextLog{w: f, c: f}, nil
}

// NewTextLog writes to w. Close does not close w.
func NewTextLog(w io.Writer) *TextLog {
	return &TextLog{w: w}
}

// Record implements [Recorder]. Line breaks inside the text are folded to
// spaces so every utterance stays on one line.
func (l *TextLog) Record(_ context.Context, e Entry) error {
	text := strings.Join(strings.Fields(e.Text), " ")
	line := fmt.Sprintf("[%s] Finalized: %s\n", e.Timestamp.Format(TextTimeLayout), text)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := io.WriteString(l.w, line); err != nil {
		return fmt.Errorf("uttlog: write text log: %w", err)
	}
	return nil
}

// Close implements [Recorder].
func (l *TextLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.c == nil {
		return nil
	}
	err := l.c.Close()
	l.c = nil
	return err
}

func openAppend(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

var _ Recorder = (*TextLog)(nil)
