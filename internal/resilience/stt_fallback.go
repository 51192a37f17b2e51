package resilience

import (
	"context"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

// STTFallback is an [stt.Provider] that opens recognizers on the first
// healthy backend. Only opening is covered: once a recognizer is handed out,
// its failures are handled by the transcription adapter, which reopens
// through this provider again.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback returns an STTFallback preferring primary.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	if cfg.Kind == "" {
		cfg.Kind = "stt"
	}
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *STTFallback) AddFallback(name string, p stt.Provider) {
	f.group.AddFallback(name, p)
}

// Providers returns the backend names in failover order.
func (f *STTFallback) Providers() []string { return f.group.Names() }

// NewRecognizer implements [stt.Provider].
func (f *STTFallback) NewRecognizer(ctx context.Context, cfg stt.StreamConfig) (stt.Recognizer, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.Recognizer, error) {
		return p.NewRecognizer(ctx, cfg)
	})
}
