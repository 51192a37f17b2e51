package endpoint

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/vad"
	"github.com/MrWong99/parley/pkg/types"
)

// ClassifiedFrame is a frame together with its speech decision and energy.
type ClassifiedFrame struct {
	Frame  audio.Frame
	Speech bool
	Energy float64
}

// ClassifierOption configures a [Classifier].
type ClassifierOption func(*Classifier)

// WithFaultHandler registers fn to be called for every frame the voice
// activity detector fails on. The error wraps [types.ErrClassifierFault].
func WithFaultHandler(fn func(error)) ClassifierOption {
	return func(c *Classifier) { c.onFault = fn }
}

// WithClassifierLogger sets the logger used for fault reports.
func WithClassifierLogger(l *slog.Logger) ClassifierOption {
	return func(c *Classifier) { c.log = l }
}

// Classifier makes the per-frame speech decision. A frame is speech only when
// the voice activity detector says so AND its RMS energy exceeds
// max(ambient*DynamicRatio, EnergyFloor).
//
// The ambient level follows the room: energies of non-speech frames go into a
// ring of EnergyWindow entries, and after each one the ambient level moves
// towards the mean of the quietest third of the ring by Damping.
type Classifier struct {
	vad     vad.SessionHandle
	cfg     ClassifierConfig
	ambient float64

	window  []float64
	next    int
	filled  int
	scratch []float64

	faulting bool
	faults   uint64
	onFault  func(error)
	log      *slog.Logger
}

// NewClassifier returns a Classifier seeded with the calibrated ambient
// level. cfg should already have defaults applied.
func NewClassifier(sess vad.SessionHandle, ambient float64, cfg ClassifierConfig, opts ...ClassifierOption) *Classifier {
	cfg = cfg.WithDefaults()
	c := &Classifier{
		vad:     sess,
		cfg:     cfg,
		ambient: ambient,
		window:  make([]float64, cfg.EnergyWindow),
		scratch: make([]float64, 0, cfg.EnergyWindow),
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Classify decides whether f is speech. A detector error counts as
// non-speech; it is logged once per run of consecutive faults.
func (c *Classifier) Classify(f audio.Frame) ClassifiedFrame {
	energy := audio.RMS(f.Data)
	voiced, err := c.vad.IsSpeech(f.Data)
	if err != nil {
		c.fault(f, err)
		voiced = false
	} else {
		c.faulting = false
	}

	speech := voiced && energy > c.Threshold()
	if !speech {
		c.observeAmbient(energy)
	}
	return ClassifiedFrame{Frame: f, Speech: speech, Energy: energy}
}

func (c *Classifier) fault(f audio.Frame, err error) {
	c.faults++
	wrapped := fmt.Errorf("endpoint: classify frame at %v: %w: %w", f.Timestamp, types.ErrClassifierFault, err)
	if !c.faulting {
		c.log.Warn("voice activity detector failed, treating frames as non-speech", "err", err, "frame_ts", f.Timestamp)
		c.faulting = true
	}
	if c.onFault != nil {
		c.onFault(wrapped)
	}
}

func (c *Classifier) observeAmbient(energy float64) {
	c.window[c.next] = energy
	c.next = (c.next + 1) % len(c.window)
	if c.filled < len(c.window) {
		c.filled++
	}
	c.scratch = append(c.scratch[:0], c.window[:c.filled]...)
	estimate := lowerThirdMean(c.scratch)
	c.ambient = c.ambient*(1-c.cfg.Damping) + estimate*c.cfg.Damping
}

// Threshold returns the energy a frame must exceed to count as speech.
func (c *Classifier) Threshold() float64 {
	return max(c.ambient*c.cfg.DynamicRatio, c.cfg.EnergyFloor)
}

// Ambient returns the current ambient energy estimate.
func (c *Classifier) Ambient() float64 { return c.ambient }

// Faults returns the number of frames the detector failed on.
func (c *Classifier) Faults() uint64 { return c.faults }

// Reset clears the detector's internal state. The ambient estimate is kept.
func (c *Classifier) Reset() {
	c.vad.Reset()
	c.faulting = false
}
