// Package transcribe wraps a speech-to-text provider for the endpointing
// loop.
//
// The [Adapter] owns one [stt.Recognizer] at a time and hides its lifecycle:
// it opens the recognizer with a bounded, fixed-delay retry, feeds it frames,
// polls partial hypotheses, finalizes utterances and resets it between them.
// Transient failures are reported through the retry callback; only an
// exhausted retry budget surfaces as an error wrapping
// [types.ErrStreamInterrupted].
//
// An Adapter is not safe for concurrent use. It belongs to the endpointing
// goroutine.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/types"
)

const (
	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 3
	// DefaultRetryDelay is the fixed pause between attempts.
	DefaultRetryDelay = 2 * time.Second
)

// ErrNotOpen is returned when the adapter is used before Open succeeded.
var ErrNotOpen = errors.New("transcribe: recognizer not open")

// Config controls how recognizers are opened.
type Config struct {
	// SampleRate of the frames that will be fed.
	SampleRate int

	// Language hint passed to the provider. Empty lets it detect.
	Language string

	// MaxRetries bounds the retries after the first failed attempt.
	// Negative disables retrying.
	MaxRetries int

	// RetryDelay is the constant wait between attempts.
	RetryDelay time.Duration
}

// RetryFunc is told about every failed attempt that will be retried.
// attempt counts from 1. err wraps [types.ErrStreamInterrupted].
type RetryFunc func(op string, attempt int, err error)

// Option configures an [Adapter].
type Option func(*Adapter)

// WithRetryHandler sets the callback for failed attempts that will be
// retried.
func WithRetryHandler(fn RetryFunc) Option {
	return func(a *Adapter) { a.onRetry = fn }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.log = l }
}

// Adapter is the endpointing loop's handle on the transcription engine.
type Adapter struct {
	provider stt.Provider
	cfg      Config
	onRetry  RetryFunc
	log      *slog.Logger

	rec   stt.Recognizer
	dirty bool
}

// New returns an Adapter for p. Call Open before feeding frames.
func New(p stt.Provider, cfg Config, opts ...Option) *Adapter {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	a := &Adapter{provider: p, cfg: cfg, log: slog.Default()}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Open establishes the recognizer, retrying failed attempts.
func (a *Adapter) Open(ctx context.Context) error {
	if a.rec != nil {
		return nil
	}
	return a.Retry(ctx, "open recognizer", func(ctx context.Context) error {
		rec, err := a.provider.NewRecognizer(ctx, stt.StreamConfig{
			SampleRate: a.cfg.SampleRate,
			Language:   a.cfg.Language,
		})
		if err != nil {
			return err
		}
		a.rec = rec
		a.dirty = false
		return nil
	})
}

// Reopen drops the current recognizer and opens a new one. Any utterance in
// progress is lost.
func (a *Adapter) Reopen(ctx context.Context) error {
	a.closeRecognizer()
	return a.Open(ctx)
}

// Retry runs fn until it succeeds, ctx ends, or the retry budget is spent.
// Every failure that will be retried is reported to the retry handler. The
// returned error wraps [types.ErrStreamInterrupted] and the last failure.
func (a *Adapter) Retry(ctx context.Context, op string, fn func(context.Context) error) error {
	retries := max(a.cfg.MaxRetries, 0)
	backoff := retry.WithMaxRetries(uint64(retries), retry.NewConstant(a.cfg.RetryDelay))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		wrapped := fmt.Errorf("transcribe: %s (attempt %d): %w: %w", op, attempt, types.ErrStreamInterrupted, err)
		if attempt <= retries {
			a.log.Warn("transcription stream failed, retrying",
				"op", op, "attempt", attempt, "max_retries", a.cfg.MaxRetries, "delay", a.cfg.RetryDelay, "err", err)
			if a.onRetry != nil {
				a.onRetry(op, attempt, wrapped)
			}
		}
		return retry.RetryableError(wrapped)
	})
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, types.ErrStreamInterrupted) {
		return ctxErr
	}
	if !errors.Is(err, types.ErrStreamInterrupted) {
		err = fmt.Errorf("transcribe: %s: %w: %w", op, types.ErrStreamInterrupted, err)
	}
	return fmt.Errorf("%w (gave up after %d attempts)", err, attempt)
}

// Feed passes one frame to the recognizer. boundary reports that the engine
// closed an internal segment. Errors wrap [types.ErrStreamInterrupted].
func (a *Adapter) Feed(ctx context.Context, f audio.Frame) (boundary bool, err error) {
	if a.rec == nil {
		return false, ErrNotOpen
	}
	a.dirty = true
	boundary, err = a.rec.Accept(ctx, f.Data)
	if err != nil {
		return false, fmt.Errorf("transcribe: feed: %w: %w", types.ErrStreamInterrupted, err)
	}
	return boundary, nil
}

// PollPartial returns the current partial hypothesis, which may be empty.
func (a *Adapter) PollPartial(ctx context.Context) (string, error) {
	if a.rec == nil {
		return "", ErrNotOpen
	}
	if !a.dirty {
		return "", nil
	}
	text, err := a.rec.Partial(ctx)
	if err != nil {
		return "", fmt.Errorf("transcribe: partial: %w: %w", types.ErrStreamInterrupted, err)
	}
	return text, nil
}

// Finalize returns the final transcription of the audio fed since the last
// Reset. It does not reset the recognizer.
func (a *Adapter) Finalize(ctx context.Context) (stt.Result, error) {
	if a.rec == nil {
		return stt.Result{}, ErrNotOpen
	}
	if !a.dirty {
		return stt.Result{}, nil
	}
	res, err := a.rec.Final(ctx)
	if err != nil {
		return stt.Result{}, fmt.Errorf("transcribe: finalize: %w: %w", types.ErrStreamInterrupted, err)
	}
	res.Confidence = min(max(res.Confidence, 0), 1)
	return res, nil
}

// Reset discards the recognizer's per-utterance state. Calling it again
// without feeding in between does nothing.
func (a *Adapter) Reset() {
	if a.rec == nil || !a.dirty {
		return
	}
	a.rec.Reset()
	a.dirty = false
}

// Close releases the recognizer. Safe to call more than once.
func (a *Adapter) Close() error {
	if a.rec == nil {
		return nil
	}
	err := a.rec.Close()
	a.rec = nil
	a.dirty = false
	return err
}

func (a *Adapter) closeRecognizer() {
	if err := a.Close(); err != nil {
		a.log.Debug("closing recognizer", "err", err)
	}
}
