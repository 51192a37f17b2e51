// Package playback serializes text-to-speech synthesis and playback.
//
// A [Queue] accepts requests from any goroutine and hands them to a single
// worker that synthesizes and plays one request at a time, in enqueue order,
// with a configurable silence gap between utterances. Playback never
// overlaps and never reorders. A request that fails to synthesize is logged
// and skipped; it does not stop the queue.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/voice"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/types"
)

const (
	// DefaultCapacity is the number of requests that may wait for the worker.
	DefaultCapacity = 32
	// DefaultGap is the silence between consecutive utterances.
	DefaultGap = 300 * time.Millisecond
	// DefaultPeak is the absolute peak waveforms are normalized to.
	DefaultPeak = 0.9
)

var (
	// ErrQueueFull is returned by Enqueue when Capacity requests are waiting.
	ErrQueueFull = errors.New("playback: queue full")
	// ErrClosed is returned by Enqueue after Shutdown.
	ErrClosed = errors.New("playback: queue closed")
)

// Request is one unit of speech. Requests are consumed exactly once.
type Request struct {
	ID         string
	Text       string
	Voice      tts.VoiceProfile
	EnqueuedAt time.Time
}

// Option configures a [Queue].
type Option func(*Queue)

// WithCapacity bounds the number of waiting requests.
func WithCapacity(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// WithGap sets the silence inserted after each utterance. Zero disables it.
func WithGap(d time.Duration) Option {
	return func(q *Queue) { q.gap = max(d, 0) }
}

// WithSpeed sets the global speed multiplier applied on top of each voice's
// own speed.
func WithSpeed(factor float64) Option {
	return func(q *Queue) {
		if factor > 0 {
			q.speed = factor
		}
	}
}

// WithCatalogue sets the personality catalogue used by [Queue.Speak].
func WithCatalogue(c *voice.Catalogue) Option {
	return func(q *Queue) { q.catalogue = c }
}

// WithCompletionHandler registers fn to be called by the worker after every
// request. err is nil on success and wraps [types.ErrSynthesisFailure] when
// synthesis failed. fn must not block.
func WithCompletionHandler(fn func(Request, error)) Option {
	return func(q *Queue) { q.onDone = fn }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.log = l }
}

// Queue is the speech playback queue. All exported methods are safe for
// concurrent use.
type Queue struct {
	synth     tts.Provider
	player    audio.Player
	catalogue *voice.Catalogue
	capacity  int
	gap       time.Duration
	speed     float64
	onDone    func(Request, error)
	metrics   *observe.Metrics
	log       *slog.Logger

	// requests carries pending requests; a nil entry tells the worker to
	// exit. One slot beyond capacity is reserved for it.
	requests chan *Request

	mu      sync.Mutex
	closed  bool
	pending int
	idle    chan struct{} // closed whenever pending drops to zero

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New starts a Queue that synthesizes with synth and plays through player.
func New(synth tts.Provider, player audio.Player, opts ...Option) *Queue {
	q := &Queue{
		synth:     synth,
		player:    player,
		catalogue: voice.Default(),
		capacity:  DefaultCapacity,
		gap:       DefaultGap,
		speed:     1,
		log:       slog.Default(),
		done:      make(chan struct{}),
		idle:      make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	if q.metrics == nil {
		q.metrics = observe.DefaultMetrics()
	}
	close(q.idle)
	q.requests = make(chan *Request, q.capacity+1)
	q.ctx, q.cancel = context.WithCancel(context.Background())
	go q.run()
	return q
}

// Enqueue schedules text to be spoken with v and returns the request ID.
// It never blocks.
func (q *Queue) Enqueue(text string, v tts.VoiceProfile) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", ErrClosed
	}
	if q.pending >= q.capacity {
		return "", ErrQueueFull
	}
	req := &Request{ID: uuid.NewString(), Text: text, Voice: v, EnqueuedAt: time.Now()}
	q.requests <- req
	if q.pending == 0 {
		q.idle = make(chan struct{})
	}
	q.pending++
	q.metrics.PlaybackQueueDepth.Add(q.ctx, 1)
	return req.ID, nil
}

// Speak enqueues text in the voice of the named personality. Unknown names
// are rejected with [voice.ErrUnknownPersonality].
func (q *Queue) Speak(text, personality string) (string, error) {
	v, err := q.catalogue.Lookup(personality)
	if err != nil {
		q.log.Warn("speak request for unknown personality", "personality", personality, "known", q.catalogue.Names())
		return "", err
	}
	return q.Enqueue(text, v)
}

// Pending returns the number of requests waiting or playing.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// WaitForCompletion blocks until every enqueued request has been played or
// skipped, or ctx ends.
func (q *Queue) WaitForCompletion(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting requests, lets the worker finish what is already
// queued and waits for it. When ctx ends first the current playback is
// aborted, the remaining requests are dropped and ctx.Err() is returned.
// Safe to call more than once.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.requests <- nil
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		q.cancel()
		<-q.done
		return ctx.Err()
	}
}

func (q *Queue) run() {
	defer close(q.done)
	defer q.cancel()

	gapTimer := time.NewTimer(0)
	if !gapTimer.Stop() {
		<-gapTimer.C
	}
	defer gapTimer.Stop()

	for req := range q.requests {
		if req == nil {
			return
		}
		if q.ctx.Err() != nil {
			q.finish(*req, q.ctx.Err())
			continue
		}

		err := q.speak(*req)
		q.finish(*req, err)

		if q.gap > 0 {
			gapTimer.Reset(q.gap)
			select {
			case <-gapTimer.C:
			case <-q.ctx.Done():
				if !gapTimer.Stop() {
					<-gapTimer.C
				}
			}
		}
	}
}

// speak synthesizes and plays one request.
func (q *Queue) speak(req Request) error {
	ctx, span := observe.StartSpan(q.ctx, "playback.speak",
		trace.WithAttributes(
			attribute.String("request_id", req.ID),
			attribute.String("voice", req.Voice.Name),
		),
	)
	defer span.End()
	log := observe.Logger(ctx, q.log).With("request_id", req.ID, "voice", req.Voice.Name)

	start := time.Now()
	wave, err := q.synth.Synthesize(ctx, req.Text, req.Voice)
	q.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds())
	if err == nil && wave.Empty() {
		err = errors.New("empty waveform")
	}
	if err != nil {
		err = fmt.Errorf("playback: synthesize %s: %w: %w", req.ID, types.ErrSynthesisFailure, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		log.Warn("skipping request, synthesis failed", "err", err)
		q.metrics.RecordPlaybackFailure(ctx, "synthesis")
		return err
	}

	samples := audio.TapeShift(slices.Clone(wave.Samples), q.speed, 0)
	audio.Normalize(samples, DefaultPeak)

	log.Debug("playing", "samples", len(samples), "rate", wave.SampleRate, "queued_for", time.Since(req.EnqueuedAt))
	playStart := time.Now()
	if err := q.player.Play(ctx, samples, wave.SampleRate); err != nil {
		err = fmt.Errorf("playback: play %s: %w", req.ID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "playback failed")
		log.Warn("playback failed", "err", err)
		q.metrics.RecordPlaybackFailure(ctx, "playback")
		return err
	}
	q.metrics.PlaybackDuration.Record(ctx, time.Since(playStart).Seconds())
	return nil
}

func (q *Queue) finish(req Request, err error) {
	if q.onDone != nil {
		q.onDone(req, err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending--
	q.metrics.PlaybackQueueDepth.Add(context.Background(), -1)
	if q.pending == 0 {
		close(q.idle)
	}
}
