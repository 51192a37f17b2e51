package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

// errEmptyWaveform counts an empty synthesis as a backend failure so the
// next backend gets a chance.
var errEmptyWaveform = errors.New("empty waveform")

var errNoLister = errors.New("no provider can list voices")

// TTSFallback is a [tts.Provider] that synthesizes with the first healthy
// backend.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var (
	_ tts.Provider    = (*TTSFallback)(nil)
	_ tts.VoiceLister = (*TTSFallback)(nil)
)

// NewTTSFallback returns a TTSFallback preferring primary.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	if cfg.Kind == "" {
		cfg.Kind = "tts"
	}
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) {
	f.group.AddFallback(name, p)
}

// Providers returns the backend names in failover order.
func (f *TTSFallback) Providers() []string { return f.group.Names() }

// Synthesize implements [tts.Provider].
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (tts.Waveform, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (tts.Waveform, error) {
		w, err := p.Synthesize(ctx, text, voice)
		if err == nil && w.Empty() {
			err = errEmptyWaveform
		}
		return w, err
	})
}

// ListVoices returns the voices of the first healthy backend that can list
// them. Backends without a voice listing are skipped without touching their
// breaker.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	lastErr := errNoLister
	for i := range f.group.entries {
		e := &f.group.entries[i]
		vl, ok := e.value.(tts.VoiceLister)
		if !ok {
			continue
		}
		var voices []tts.VoiceProfile
		err := e.breaker.Execute(func() error {
			var err error
			voices, err = vl.ListVoices(ctx)
			return err
		})
		if err == nil {
			return voices, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
