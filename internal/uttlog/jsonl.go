package uttlog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// jsonRecord is the on-disk shape of a [JSONLog] line.
type jsonRecord struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	EndReason  string    `json:"end_reason"`
	DurationMs int64     `json:"duration_ms"`
}

// JSONLog writes one JSON object per line.
type JSONLog struct {
	mu  sync.Mutex
	enc *json.Encoder
	c   io.Closer
}

// OpenJSONLog opens (creating if needed) the log file at path for
// appending.
func OpenJSONLog(path string) (*JSONLog, error) {
	f, err := openAppend(path)
	if err != nil {
		return nil, fmt.Errorf("uttlog: open json log: %w", err)
	}
	return &JSONLog{enc: json.NewEncoder(f), c: f}, nil
}

// NewJSONLog writes to w. Close does not close w.
func NewJSONLog(w io.Writer) *JSONLog {
	return &JSONLog{enc: json.NewEncoder(w)}
}

// Record implements [Recorder].
func (l *JSONLog) Record(_ context.Context, e Entry) error {
	rec := jsonRecord{
		ID:         e.ID,
		Timestamp:  e.Timestamp,
		Text:       e.Text,
		Confidence: e.Confidence,
		EndReason:  string(e.EndReason),
		DurationMs: e.Duration.Milliseconds(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enc.Encode(rec); err != nil {
		return fmt.Errorf("uttlog: write json log: %w", err)
	}
	return nil
}

// Close implements [Recorder].
func (l *JSONLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.c == nil {
		return nil
	}
	err := l.c.Close()
	l.c = nil
	return err
}

var _ Recorder = (*JSONLog)(nil)
