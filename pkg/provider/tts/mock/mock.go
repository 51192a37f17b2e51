// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return controlled waveforms to the playback queue, to inject
// failures for selected texts and to verify the text and VoiceProfile each
// request was synthesized with.
//
// Example:
//
//	p := &mock.Provider{
//	    Waveform: tts.Waveform{Samples: make([]float32, 160), SampleRate: 16000},
//	    FailTexts: map[string]error{"boom": errors.New("backend down")},
//	}
//	wf, _ := p.Synthesize(ctx, "hello", voice)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the VoiceProfile passed to Synthesize.
	Voice tts.VoiceProfile
}

// Provider is a mock implementation of tts.Provider and tts.VoiceLister.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Waveform is returned by Synthesize. A zero Waveform yields 10 ms of
	// silence at 16 kHz.
	Waveform tts.Waveform

	// SynthesizeErr, if non-nil, is returned by every Synthesize call.
	SynthesizeErr error

	// FailTexts maps texts to errors returned for them.
	FailTexts map[string]error

	// Delay is slept (honouring ctx) before returning.
	Delay time.Duration

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns the configured waveform or error.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (tts.Waveform, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice})
	delay := p.Delay
	err := p.SynthesizeErr
	if e, ok := p.FailTexts[text]; ok {
		err = e
	}
	wf := p.Waveform
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return tts.Waveform{}, ctx.Err()
		}
	}
	if err != nil {
		return tts.Waveform{}, err
	}
	if wf.SampleRate == 0 {
		return tts.Waveform{Samples: make([]float32, 160), SampleRate: 16000}, nil
	}
	samples := make([]float32, len(wf.Samples))
	copy(samples, wf.Samples)
	return tts.Waveform{Samples: samples, SampleRate: wf.SampleRate}, nil
}

// ListVoices returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ListVoicesResult, p.ListVoicesErr
}

// Texts returns the texts passed to Synthesize in call order. Thread-safe.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.SynthesizeCalls))
	for i, c := range p.SynthesizeCalls {
		out[i] = c.Text
	}
	return out
}

// Calls returns a copy of the recorded calls. Thread-safe.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.SynthesizeCalls))
	copy(out, p.SynthesizeCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
}

// Compile-time interface assertions.
var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)
