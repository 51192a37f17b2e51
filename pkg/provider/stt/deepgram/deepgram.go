// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
//
// Deepgram streams interim hypotheses and commits is_final segments on its
// own. The recognizer keeps the committed segments of the current utterance
// plus the latest interim hypothesis; Final asks the server to flush with a
// Finalize control message and waits for the flushed result.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

const (
	deepgramEndpoint    = "wss://api.deepgram.com/v1/listen"
	defaultModel        = "nova-3"
	defaultLanguage     = "en"
	defaultSampleRate   = 16000
	defaultFinalizeWait = 3 * time.Second
	keepAliveInterval   = 5 * time.Second
	msgFinalize         = `{"type":"Finalize"}`
	msgKeepAlive        = `{"type":"KeepAlive"}`
	msgCloseStream      = `{"type":"CloseStream"}`
)

// Compile-time interface assertions.
var (
	_ stt.Provider   = (*Provider)(nil)
	_ stt.Recognizer = (*recognizer)(nil)
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the language code for recognition (e.g., "en", "de").
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithEndpoint overrides the streaming endpoint URL.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithFinalizeWait bounds how long Final waits for the server to flush.
func WithFinalizeWait(d time.Duration) Option {
	return func(p *Provider) { p.finalizeWait = d }
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey       string
	model        string
	language     string
	endpoint     string
	finalizeWait time.Duration
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		language:     defaultLanguage,
		endpoint:     deepgramEndpoint,
		finalizeWait: defaultFinalizeWait,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// NewRecognizer dials Deepgram and returns a live recognizer.
func (p *Provider) NewRecognizer(ctx context.Context, cfg stt.StreamConfig) (stt.Recognizer, error) {
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	wsURL, err := p.buildURL(cfg.Language, sr)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r := &recognizer{
		conn:         conn,
		sampleRate:   sr,
		finalizeWait: p.finalizeWait,
		flushed:      make(chan struct{}, 1),
		cancel:       cancel,
	}
	r.wg.Add(2)
	go r.readLoop(loopCtx)
	go r.keepAlive(loopCtx)
	return r, nil
}

// buildURL constructs the Deepgram streaming endpoint URL.
func (p *Provider) buildURL(lang string, sampleRate int) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	if lang == "" {
		lang = p.language
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("encoding", "linear16")
	q.Set("channels", "1")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- recognizer ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type         string  `json:"type"`
	IsFinal      bool    `json:"is_final"`
	FromFinalize bool    `json:"from_finalize"`
	Start        float64 `json:"start"`
	Duration     float64 `json:"duration"`
	Channel      struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// segment is one committed (is_final) piece of the current utterance.
type segment struct {
	text       string
	confidence float64
}

type recognizer struct {
	conn         *websocket.Conn
	sampleRate   int
	finalizeWait time.Duration
	flushed      chan struct{}
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	writeMu      sync.Mutex

	mu          sync.Mutex
	committed   []segment
	interim     string
	sentSamples int64   // total samples written to the socket
	resetAt     float64 // stream time (s) of the last Reset
	utterAudio  bool    // audio fed since the last Reset
	boundaries  int     // committed segments not yet reported by Accept
	readErr     error
	closed      bool
}

// Accept implements stt.Recognizer.
func (r *recognizer) Accept(ctx context.Context, frame []byte) (bool, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false, stt.ErrClosed
	}
	if r.readErr != nil {
		err := r.readErr
		r.mu.Unlock()
		return false, err
	}
	r.utterAudio = true
	r.sentSamples += int64(len(frame) / 2)
	boundary := r.boundaries > 0
	r.boundaries = 0
	r.mu.Unlock()

	if err := r.write(ctx, websocket.MessageBinary, frame); err != nil {
		return false, fmt.Errorf("deepgram: send audio: %w", err)
	}
	return boundary, nil
}

// Partial implements stt.Recognizer.
func (r *recognizer) Partial(_ context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", stt.ErrClosed
	}
	return r.textLocked(true), r.readErr
}

// Final implements stt.Recognizer. It flushes the server-side buffer and
// returns all committed text for the utterance.
func (r *recognizer) Final(ctx context.Context) (stt.Result, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return stt.Result{}, stt.ErrClosed
	}
	if r.readErr != nil {
		err := r.readErr
		r.mu.Unlock()
		return stt.Result{}, err
	}
	hadAudio := r.utterAudio
	r.mu.Unlock()

	if hadAudio {
		select {
		case <-r.flushed:
		default:
		}
		if err := r.write(ctx, websocket.MessageText, []byte(msgFinalize)); err != nil {
			return stt.Result{}, fmt.Errorf("deepgram: finalize: %w", err)
		}
		timer := time.NewTimer(r.finalizeWait)
		select {
		case <-r.flushed:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return stt.Result{}, ctx.Err()
		}
		timer.Stop()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	res := stt.Result{Text: r.textLocked(false), Confidence: 1}
	if len(r.committed) > 0 {
		var sum float64
		for _, s := range r.committed {
			sum += s.confidence
		}
		res.Confidence = sum / float64(len(r.committed))
	}
	return res, nil
}

// Reset implements stt.Recognizer. Results covering audio sent before the
// reset are ignored when they arrive late.
func (r *recognizer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = r.committed[:0]
	r.interim = ""
	r.boundaries = 0
	r.utterAudio = false
	r.resetAt = float64(r.sentSamples) / float64(r.sampleRate)
}

// Close implements stt.Recognizer.
func (r *recognizer) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	_ = r.write(ctx, websocket.MessageText, []byte(msgCloseStream))
	cancel()
	r.cancel()
	err := r.conn.Close(websocket.StatusNormalClosure, "recognizer closed")
	r.wg.Wait()
	return err
}

func (r *recognizer) write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.conn.Write(ctx, typ, data)
}

func (r *recognizer) textLocked(withInterim bool) string {
	parts := make([]string, 0, len(r.committed)+1)
	for _, s := range r.committed {
		if s.text != "" {
			parts = append(parts, s.text)
		}
	}
	if withInterim && r.interim != "" {
		parts = append(parts, r.interim)
	}
	return strings.Join(parts, " ")
}

// keepAlive stops Deepgram from closing the socket while the endpointing
// loop is idle and not sending audio.
func (r *recognizer) keepAlive(ctx context.Context) {
	defer r.wg.Done()
	t := time.NewTicker(keepAliveInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := r.write(ctx, websocket.MessageText, []byte(msgKeepAlive)); err != nil {
				return
			}
		}
	}
}

// readLoop receives JSON messages from Deepgram and folds them into the
// utterance state.
func (r *recognizer) readLoop(ctx context.Context) {
	defer r.wg.Done()
	for {
		_, msg, err := r.conn.Read(ctx)
		if err != nil {
			r.mu.Lock()
			if !r.closed {
				r.readErr = fmt.Errorf("deepgram: read: %w", err)
			}
			r.mu.Unlock()
			return
		}
		resp, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}
		r.apply(resp)
	}
}

func (r *recognizer) apply(resp deepgramResponse) {
	alt := resp.Channel.Alternatives[0]
	r.mu.Lock()
	stale := resp.Start+resp.Duration <= r.resetAt && r.resetAt > 0
	if !stale {
		if resp.IsFinal {
			r.committed = append(r.committed, segment{
				text:       strings.TrimSpace(alt.Transcript),
				confidence: alt.Confidence,
			})
			r.interim = ""
			r.boundaries++
		} else {
			r.interim = strings.TrimSpace(alt.Transcript)
		}
	}
	r.mu.Unlock()

	if resp.FromFinalize {
		select {
		case r.flushed <- struct{}{}:
		default:
		}
	}
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message. Returns false
// if the message should be ignored.
func parseDeepgramResponse(data []byte) (deepgramResponse, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return deepgramResponse{}, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return deepgramResponse{}, false
	}
	return resp, true
}
