package uttlog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MrWong99/parley/pkg/audio"
)

// WAVDump writes the audio of every utterance to <dir>/<timestamp>_<id>.wav.
type WAVDump struct {
	dir string
}

// NewWAVDump creates dir if needed.
func NewWAVDump(dir string) (*WAVDump, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("uttlog: create dump dir: %w", err)
	}
	return &WAVDump{dir: dir}, nil
}

// Record implements [Recorder]. Entries without audio are skipped.
func (d *WAVDump) Record(_ context.Context, e Entry) error {
	if len(e.PCM) == 0 || e.SampleRate <= 0 {
		return nil
	}
	name := fmt.Sprintf("%s_%s.wav", e.Timestamp.UTC().Format("20060102T150405.000"), e.ID)
	path := filepath.Join(d.dir, name)
	if err := os.WriteFile(path, audio.EncodeWAV(e.PCM, e.SampleRate), 0o644); err != nil {
		return fmt.Errorf("uttlog: dump %s: %w", name, err)
	}
	return nil
}

// Close implements [Recorder].
func (d *WAVDump) Close() error { return nil }

var _ Recorder = (*WAVDump)(nil)
