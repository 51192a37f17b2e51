// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller opens recognizers with the expected
// StreamConfig and to script open failures. Use Recognizer to script partial
// and final hypotheses and inspect which audio was delivered.
//
// Example:
//
//	rec := &mock.Recognizer{
//	    PartialFn: func(frames int) string { return "hello" },
//	    FinalResult: stt.Result{Text: "hello world", Confidence: 0.9},
//	}
//	p := &mock.Provider{Recognizer: rec}
//	r, _ := p.NewRecognizer(ctx, cfg)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

// NewRecognizerCall records a single invocation of Provider.NewRecognizer.
type NewRecognizerCall struct {
	// Cfg is the StreamConfig passed to NewRecognizer.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Recognizer is returned by NewRecognizer. If nil, a fresh default
	// Recognizer is returned on every call.
	Recognizer *Recognizer

	// OpenErrs is consumed front to back: each NewRecognizer call pops one
	// entry and returns it if non-nil. Once empty, calls succeed.
	OpenErrs []error

	// NewRecognizerErr, if non-nil, is returned by every call after OpenErrs
	// is exhausted.
	NewRecognizerErr error

	// NewRecognizerCalls records every call to NewRecognizer.
	NewRecognizerCalls []NewRecognizerCall
}

// NewRecognizer records the call and returns the configured recognizer or
// error.
func (p *Provider) NewRecognizer(_ context.Context, cfg stt.StreamConfig) (stt.Recognizer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.NewRecognizerCalls = append(p.NewRecognizerCalls, NewRecognizerCall{Cfg: cfg})
	if len(p.OpenErrs) > 0 {
		err := p.OpenErrs[0]
		p.OpenErrs = p.OpenErrs[1:]
		if err != nil {
			return nil, err
		}
	} else if p.NewRecognizerErr != nil {
		return nil, p.NewRecognizerErr
	}
	if p.Recognizer != nil {
		p.Recognizer.reopen()
		return p.Recognizer, nil
	}
	return &Recognizer{}, nil
}

// Calls returns the number of NewRecognizer calls. Thread-safe.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.NewRecognizerCalls)
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// Recognizer is a mock implementation of stt.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// PartialFn computes the partial hypothesis from the number of frames
	// accepted since the last Reset. Nil yields an empty partial.
	PartialFn func(frames int) string

	// FinalResult is returned by Final when at least one frame was accepted
	// since the last Reset.
	FinalResult stt.Result

	// AcceptErr, if non-nil, is returned by Accept.
	AcceptErr error

	// FinalErr, if non-nil, is returned by Final.
	FinalErr error

	// BoundaryEvery makes Accept report a segment boundary every n frames.
	BoundaryEvery int

	// --- Call records ---

	frames     int
	total      int
	ResetCalls int
	FinalCalls int
	CloseCalls int
	closed     bool
}

// Accept records the frame.
func (r *Recognizer) Accept(_ context.Context, _ []byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false, stt.ErrClosed
	}
	if r.AcceptErr != nil {
		return false, r.AcceptErr
	}
	r.frames++
	r.total++
	return r.BoundaryEvery > 0 && r.frames%r.BoundaryEvery == 0, nil
}

// Partial returns PartialFn(frames).
func (r *Recognizer) Partial(_ context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.PartialFn == nil || r.frames == 0 {
		return "", nil
	}
	return r.PartialFn(r.frames), nil
}

// Final returns FinalResult, or an empty result when nothing was fed.
func (r *Recognizer) Final(_ context.Context) (stt.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FinalCalls++
	if r.FinalErr != nil {
		return stt.Result{}, r.FinalErr
	}
	if r.frames == 0 {
		return stt.Result{}, nil
	}
	return r.FinalResult, nil
}

// Reset clears the per-utterance frame count.
func (r *Recognizer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ResetCalls++
	r.frames = 0
}

// Close marks the recognizer closed.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CloseCalls++
	r.closed = true
	return nil
}

// Frames returns the number of frames accepted since the last Reset.
func (r *Recognizer) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// TotalFrames returns the number of frames accepted since creation.
func (r *Recognizer) TotalFrames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// SetAcceptErr changes AcceptErr. Thread-safe.
func (r *Recognizer) SetAcceptErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.AcceptErr = err
}

// reopen makes a closed recognizer usable again when the Provider hands it
// out a second time.
func (r *Recognizer) reopen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = false
	r.frames = 0
}

// Ensure Recognizer implements stt.Recognizer at compile time.
var _ stt.Recognizer = (*Recognizer)(nil)
