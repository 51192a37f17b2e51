// Package pipeline runs the endpointing loop: it pulls frames from the
// capture queue, classifies them, drives the endpointing state machine, feeds
// the transcription adapter and emits Partial, Final and Error results on an
// ordered [Sink].
//
// A Pipeline owns its classifier, state machine and adapter. Everything
// except [Pipeline.Results] runs on the goroutine that called
// [Pipeline.Run].
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/parley/internal/endpoint"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/transcribe"
	"github.com/MrWong99/parley/internal/uttlog"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/vad"
	"github.com/MrWong99/parley/pkg/types"
)

const (
	// DefaultPollInterval bounds how long the loop waits for a frame before
	// re-evaluating the endpoint timers.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultShutdownTimeout bounds the final transcription on shutdown.
	DefaultShutdownTimeout = 5 * time.Second
	// DefaultResultBuffer is the result stream capacity.
	DefaultResultBuffer = 64
)

// Config controls a [Pipeline].
type Config struct {
	Endpoint      endpoint.Config
	Classifier    endpoint.ClassifierConfig
	Transcription transcribe.Config

	// Calibration is how long Run samples the room before listening. Zero
	// skips calibration and starts from Ambient.
	Calibration time.Duration

	// Ambient is the starting ambient energy when calibration is skipped or
	// sees no frames.
	Ambient float64

	PollInterval time.Duration

	// MinConfidence suppresses Final results whose confidence is below it.
	// Empty transcriptions are always suppressed.
	MinConfidence float64

	// FinalizeOnShutdown finalizes an utterance in progress when Run is
	// cancelled. Otherwise it is abandoned.
	FinalizeOnShutdown bool

	// ShutdownTimeout bounds the shutdown finalization and the delivery of
	// the last results.
	ShutdownTimeout time.Duration

	// ResultBuffer is the capacity of the result stream.
	ResultBuffer int
}

// WithDefaults returns c with zero fields replaced by package defaults.
func (c Config) WithDefaults() Config {
	c.Endpoint = c.Endpoint.WithDefaults()
	c.Classifier = c.Classifier.WithDefaults()
	if c.Ambient <= 0 {
		c.Ambient = endpoint.DefaultAmbient
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.ResultBuffer == 0 {
		c.ResultBuffer = DefaultResultBuffer
	}
	return c
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	errs := []error{c.Endpoint.Validate(), c.Classifier.Validate()}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("pipeline: min confidence must be in [0, 1], got %v", c.MinConfidence))
	}
	if c.Calibration < 0 {
		errs = append(errs, fmt.Errorf("pipeline: calibration must not be negative, got %v", c.Calibration))
	}
	if c.ResultBuffer < 0 {
		errs = append(errs, fmt.Errorf("pipeline: result buffer must not be negative, got %d", c.ResultBuffer))
	}
	return errors.Join(errs...)
}

// CaptureFunc opens a capture stream that delivers into the pipeline's frame
// queue. Errors should wrap [types.ErrDeviceUnavailable].
type CaptureFunc func(ctx context.Context) (audio.CaptureStream, error)

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithCapture makes Run open the capture stream itself and reopen it, with
// the transcription retry policy, when it stops unexpectedly.
func WithCapture(fn CaptureFunc) Option {
	return func(p *Pipeline) { p.capture = fn }
}

// WithRecorder sets where accepted utterances are persisted.
func WithRecorder(r uttlog.Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithClock replaces time.Now. The loop reads the clock once per iteration.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline is the endpointing loop. Create one with [New] and call Run once.
type Pipeline struct {
	cfg      Config
	queue    *audio.FrameQueue
	vad      vad.SessionHandle
	adapter  *transcribe.Adapter
	sink     *Sink
	capture  CaptureFunc
	recorder uttlog.Recorder
	metrics  *observe.Metrics
	log      *slog.Logger
	now      func() time.Time

	// runCtx is the context of the active Run, used by the callbacks that
	// the classifier and adapter invoke synchronously from the loop.
	runCtx context.Context

	stream      audio.CaptureStream
	classifier  *endpoint.Classifier
	machine     *endpoint.Machine
	uttID       string
	lastPartial string
}

// New returns a Pipeline reading from q, classifying with sess and
// transcribing with p.
func New(q *audio.FrameQueue, sess vad.SessionHandle, p stt.Provider, cfg Config, opts ...Option) (*Pipeline, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pl := &Pipeline{
		cfg:     cfg,
		queue:   q,
		vad:     sess,
		sink:    NewSink(cfg.ResultBuffer),
		log:     slog.Default(),
		now:     time.Now,
		machine: endpoint.NewMachine(cfg.Endpoint),
		runCtx:  context.Background(),
	}
	for _, o := range opts {
		o(pl)
	}
	if pl.metrics == nil {
		pl.metrics = observe.DefaultMetrics()
	}
	pl.adapter = transcribe.New(p, cfg.Transcription,
		transcribe.WithLogger(pl.log),
		transcribe.WithRetryHandler(pl.onRetry),
	)
	return pl, nil
}

// Results returns the ordered result stream. It is closed when Run returns.
func (p *Pipeline) Results() <-chan types.RecognitionResult { return p.sink.Results() }

// State returns the endpointing state. Only meaningful from the Run
// goroutine or after Run returned.
func (p *Pipeline) State() endpoint.State { return p.machine.State() }

// Run executes the loop until ctx is cancelled, the frame queue is closed
// and drained, or an unrecoverable error occurs. Cancellation and a closed
// queue return nil. Unrecoverable errors (device unavailable, exhausted
// transcription retries) are emitted as a non-recoverable Error result and
// returned.
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.sink.Close()
	p.runCtx = ctx

	if p.capture != nil {
		stream, err := p.capture(ctx)
		if err != nil {
			return p.fatal(ctx, fmt.Errorf("pipeline: open capture: %w", err))
		}
		p.stream = stream
		defer p.closeStream()
	}

	ambient := p.cfg.Ambient
	if p.cfg.Calibration > 0 {
		p.log.Info("calibrating ambient noise, stay quiet", "duration", p.cfg.Calibration)
		ambient = endpoint.Calibrate(ctx, p.queue, p.cfg.Calibration, p.cfg.Ambient)
	}
	p.classifier = endpoint.NewClassifier(p.vad, ambient, p.cfg.Classifier,
		endpoint.WithFaultHandler(p.onClassifierFault),
		endpoint.WithClassifierLogger(p.log),
	)
	p.log.Info("listening", "ambient", ambient, "threshold", p.classifier.Threshold())

	if err := p.adapter.Open(ctx); err != nil {
		return p.fatal(ctx, err)
	}
	defer func() {
		if err := p.adapter.Close(); err != nil {
			p.log.Debug("closing transcription adapter", "err", err)
		}
	}()

	for {
		if ctx.Err() != nil {
			return p.shutdown(ctx)
		}
		if err := p.checkCapture(ctx); err != nil {
			return p.fatal(ctx, err)
		}

		f, ok, err := p.queue.Pop(ctx, p.cfg.PollInterval)
		now := p.now()
		switch {
		case errors.Is(err, audio.ErrQueueClosed):
			p.log.Info("frame queue closed, stopping")
			return p.shutdown(ctx)
		case err != nil:
			continue
		case ok:
			if err := p.handleFrame(ctx, f, now); err != nil {
				return p.fatal(ctx, err)
			}
		default:
			p.machine.Idle(now)
		}

		if err := p.evaluate(ctx, now); err != nil {
			return p.fatal(ctx, err)
		}
	}
}

func (p *Pipeline) handleFrame(ctx context.Context, f audio.Frame, now time.Time) error {
	cf := p.classifier.Classify(f)
	step := p.machine.Observe(cf, now)
	if step.Started {
		p.uttID = uuid.NewString()
		p.lastPartial = ""
		p.log.Debug("speech started", "utterance_id", p.uttID, "energy", cf.Energy, "preroll", len(step.Feed)-1)
	}
	if len(step.Feed) == 0 {
		return nil
	}
	for _, fr := range step.Feed {
		boundary, err := p.adapter.Feed(ctx, fr)
		if err != nil {
			return p.recover(ctx, err)
		}
		if boundary {
			p.log.Debug("engine segment boundary", "utterance_id", p.uttID, "frame_ts", fr.Timestamp)
		}
	}

	text, err := p.adapter.PollPartial(ctx)
	if err != nil {
		return p.recover(ctx, err)
	}
	text = strings.TrimSpace(text)
	if text == "" || text == p.lastPartial {
		return nil
	}
	p.lastPartial = text
	p.metrics.Partials.Add(ctx, 1)
	p.emit(ctx, types.RecognitionResult{
		ID:        p.uttID,
		Kind:      types.KindPartial,
		Text:      text,
		Timestamp: now,
	})
	return nil
}

func (p *Pipeline) evaluate(ctx context.Context, now time.Time) error {
	d := p.machine.Evaluate(now)
	switch d.Action {
	case endpoint.Finalize:
		if err := p.finalize(ctx, d.Reason, now); err != nil {
			return p.recover(ctx, err)
		}
	case endpoint.Abort:
		p.log.Debug("utterance rejected", "utterance_id", p.uttID, "reason", d.Reason)
		p.metrics.RecordUtterance(ctx, string(d.Reason), "aborted")
		p.endUtterance()
	}
	return nil
}

// finalize fetches the final transcription, filters it and emits it. Only
// adapter failures are returned; the utterance is closed in every other case.
func (p *Pipeline) finalize(ctx context.Context, reason types.EndReason, now time.Time) error {
	buf := p.machine.Buffer()
	id := p.uttID

	ctx, span := observe.StartSpan(ctx, "pipeline.finalize",
		trace.WithAttributes(
			attribute.String("utterance_id", id),
			attribute.String("end_reason", string(reason)),
		),
	)
	defer span.End()
	log := observe.Logger(ctx, p.log)

	start := time.Now()
	res, err := p.adapter.Finalize(ctx)
	p.metrics.FinalizeDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "finalize failed")
		return err
	}

	text := strings.TrimSpace(res.Text)
	if text == "" || res.Confidence < p.cfg.MinConfidence {
		discard := fmt.Errorf("pipeline: utterance %s: %w", id, types.ErrLowConfidenceDiscard)
		log.Debug("discarding utterance", "err", discard, "confidence", res.Confidence, "text_len", len(text))
		p.metrics.RecordUtterance(ctx, string(reason), "discarded")
		p.endUtterance()
		return nil
	}

	result := types.RecognitionResult{
		ID:         id,
		Kind:       types.KindFinal,
		Text:       text,
		Confidence: res.Confidence,
		Timestamp:  now,
		EndReason:  reason,
		Duration:   buf.Duration(),
	}
	if p.recorder != nil {
		entry := uttlog.EntryFromResult(result, buf.PCM(), buf.SampleRate())
		if err := p.recorder.Record(ctx, entry); err != nil {
			log.Warn("failed to record utterance", "utterance_id", id, "err", err)
		}
	}
	log.Info("utterance finalized", "utterance_id", id, "reason", reason, "confidence", res.Confidence, "duration", result.Duration)
	p.metrics.RecordUtterance(ctx, string(reason), "final")
	p.endUtterance()
	p.emit(ctx, result)
	return nil
}

// recover handles a mid-stream engine failure: the utterance is abandoned,
// a recoverable Error is emitted and the recognizer is reopened. Only an
// exhausted reopen is returned.
func (p *Pipeline) recover(ctx context.Context, cause error) error {
	p.log.Warn("transcription failed, abandoning utterance", "utterance_id", p.uttID, "err", cause)
	p.metrics.RecordUtterance(ctx, "stream_interrupted", "abandoned")
	p.emitError(ctx, cause, true)
	p.endUtterance()
	if err := p.adapter.Reopen(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	return nil
}

// checkCapture reopens the capture stream when it stopped on its own.
func (p *Pipeline) checkCapture(ctx context.Context) error {
	if p.stream == nil {
		return nil
	}
	select {
	case <-p.stream.Done():
	default:
		return nil
	}

	cause := p.stream.Err()
	if cause == nil {
		cause = errors.New("capture stopped")
	}
	p.closeStream()
	interrupted := fmt.Errorf("pipeline: capture: %w: %w", types.ErrStreamInterrupted, cause)
	p.log.Warn("capture stream stopped, reopening", "utterance_id", p.uttID, "err", cause)
	p.emitError(ctx, interrupted, true)
	if p.machine.State() == endpoint.StateSpeaking {
		p.metrics.RecordUtterance(ctx, "stream_interrupted", "abandoned")
		p.endUtterance()
	}

	err := p.adapter.Retry(ctx, "reopen capture", func(ctx context.Context) error {
		s, err := p.capture(ctx)
		if err != nil {
			return err
		}
		p.stream = s
		return nil
	})
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func (p *Pipeline) closeStream() {
	if p.stream == nil {
		return
	}
	if err := p.stream.Close(); err != nil {
		p.log.Debug("closing capture stream", "err", err)
	}
	p.stream = nil
}

// shutdown finalizes or abandons the utterance in progress. It runs after
// ctx may have been cancelled, so it works on a detached, bounded context.
func (p *Pipeline) shutdown(ctx context.Context) error {
	if p.machine.State() != endpoint.StateSpeaking {
		return nil
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.ShutdownTimeout)
	defer cancel()

	if !p.cfg.FinalizeOnShutdown {
		p.log.Info("abandoning utterance in progress", "utterance_id", p.uttID)
		p.metrics.RecordUtterance(sctx, string(types.EndShutdown), "abandoned")
		p.endUtterance()
		return nil
	}
	if err := p.finalize(sctx, types.EndShutdown, p.now()); err != nil {
		p.log.Warn("final transcription on shutdown failed", "err", err)
		p.emitError(sctx, err, true)
		p.endUtterance()
	}
	return nil
}

// fatal emits err as the last, non-recoverable result and returns it. When
// err merely reflects cancellation the pipeline shuts down normally instead.
func (p *Pipeline) fatal(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return p.shutdown(ctx)
	}
	p.log.Error("pipeline stopped", "err", err, "kind", types.ErrorKindOf(err))
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.ShutdownTimeout)
	defer cancel()
	p.emitError(sctx, err, false)
	return err
}

func (p *Pipeline) endUtterance() {
	p.adapter.Reset()
	p.machine.Reset()
	p.classifier.Reset()
	p.uttID = ""
	p.lastPartial = ""
}

func (p *Pipeline) emitError(ctx context.Context, err error, recoverable bool) {
	p.emit(ctx, types.RecognitionResult{
		ID:          p.uttID,
		Kind:        types.KindError,
		Text:        err.Error(),
		Timestamp:   time.Now(),
		Recoverable: recoverable,
		Err:         err,
	})
}

func (p *Pipeline) emit(ctx context.Context, r types.RecognitionResult) {
	if err := p.sink.Emit(ctx, r); err != nil {
		p.log.Debug("result dropped", "kind", r.Kind, "err", err)
	}
}

func (p *Pipeline) onRetry(op string, attempt int, err error) {
	p.metrics.RecordRetry(p.runCtx, op)
	p.emitError(p.runCtx, err, true)
}

func (p *Pipeline) onClassifierFault(error) {
	p.metrics.ClassifierFaults.Add(p.runCtx, 1)
}
