// Package silent provides a tts.Provider that produces silence instead of
// speech. It stands in for a real synthesizer when none is configured so the
// playback queue keeps its timing: every word yields a fixed stretch of
// silence.
package silent

import (
	"context"
	"errors"
	"strings"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

const (
	// DefaultPerWord is the silence emitted per word at natural speed.
	DefaultPerWord = 0.3

	defaultSampleRate = 16000
)

var _ tts.Provider = (*Provider)(nil)

// Provider synthesizes silence proportional to the word count.
type Provider struct {
	perWord    float64
	sampleRate int
}

// Option configures a Provider.
type Option func(*Provider)

// WithPerWord sets the seconds of silence per word.
func WithPerWord(seconds float64) Option {
	return func(p *Provider) { p.perWord = seconds }
}

// WithSampleRate sets the output sample rate.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// New returns a silent Provider.
func New(opts ...Option) *Provider {
	p := &Provider{perWord: DefaultPerWord, sampleRate: defaultSampleRate}
	for _, o := range opts {
		o(p)
	}
	if p.perWord <= 0 {
		p.perWord = DefaultPerWord
	}
	if p.sampleRate <= 0 {
		p.sampleRate = defaultSampleRate
	}
	return p
}

// Synthesize returns perWord seconds of silence per word, divided by the
// voice's speed.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (tts.Waveform, error) {
	if err := ctx.Err(); err != nil {
		return tts.Waveform{}, err
	}
	words := len(strings.Fields(text))
	if words == 0 {
		return tts.Waveform{}, errors.New("silent: text must not be empty")
	}
	seconds := float64(words) * p.perWord / voice.EffectiveSpeed()
	return tts.Waveform{Samples: audio.Silence(seconds, p.sampleRate), SampleRate: p.sampleRate}, nil
}
