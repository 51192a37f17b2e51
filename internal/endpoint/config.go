// Package endpoint decides where spoken utterances begin and end.
//
// Three pieces cooperate on the endpointing goroutine:
//
//   - [Calibrate] measures ambient noise once before listening starts.
//   - [Classifier] turns each captured frame into a speech/non-speech call by
//     requiring both the voice activity detector and an adaptive energy gate
//     to agree.
//   - [Machine] tracks the Idle/Speaking state, the speech, phrase and silence
//     timers and the [UtteranceBuffer], and reports a [Decision] whenever an
//     endpoint condition fires.
//
// None of the types in this package are safe for concurrent use; they are
// owned by the single goroutine that drains the frame queue.
package endpoint

import (
	"errors"
	"fmt"
	"time"
)

// Defaults applied by [Config.WithDefaults] and [ClassifierConfig.WithDefaults].
const (
	DefaultSilenceThreshold  = 1500 * time.Millisecond
	DefaultPhraseTimeout     = 5 * time.Second
	DefaultMinSpeechDuration = 300 * time.Millisecond
	DefaultBlipSilence       = time.Second
	DefaultPadding           = 300 * time.Millisecond

	DefaultDynamicRatio = 2.0
	DefaultDamping      = 0.15
	DefaultEnergyFloor  = 60.0
	DefaultEnergyWindow = 100
	DefaultAmbient      = 100.0
)

// Config holds the endpoint timers of a [Machine].
type Config struct {
	// SilenceThreshold is the trailing silence that ends an utterance.
	SilenceThreshold time.Duration

	// PhraseTimeout caps the length of one utterance regardless of silence.
	PhraseTimeout time.Duration

	// MinSpeechDuration is the shortest speech burst that may produce a
	// Final. Shorter bursts are aborted.
	MinSpeechDuration time.Duration

	// BlipSilence is how long a too-short burst must be followed by silence
	// before it is aborted.
	BlipSilence time.Duration

	// Padding is the pre-roll kept while idle and prepended to an utterance
	// at speech onset so the first consonant is not clipped. Zero disables
	// pre-roll.
	Padding time.Duration
}

// WithDefaults returns c with zero fields replaced by package defaults.
// Padding is left alone: zero is a valid setting.
func (c Config) WithDefaults() Config {
	if c.SilenceThreshold == 0 {
		c.SilenceThreshold = DefaultSilenceThreshold
	}
	if c.PhraseTimeout == 0 {
		c.PhraseTimeout = DefaultPhraseTimeout
	}
	if c.MinSpeechDuration == 0 {
		c.MinSpeechDuration = DefaultMinSpeechDuration
	}
	if c.BlipSilence == 0 {
		c.BlipSilence = DefaultBlipSilence
	}
	return c
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error
	if c.SilenceThreshold <= 0 {
		errs = append(errs, fmt.Errorf("endpoint: silence threshold must be positive, got %v", c.SilenceThreshold))
	}
	if c.PhraseTimeout <= 0 {
		errs = append(errs, fmt.Errorf("endpoint: phrase timeout must be positive, got %v", c.PhraseTimeout))
	}
	if c.MinSpeechDuration < 0 {
		errs = append(errs, fmt.Errorf("endpoint: min speech duration must not be negative, got %v", c.MinSpeechDuration))
	}
	if c.BlipSilence <= 0 {
		errs = append(errs, fmt.Errorf("endpoint: blip silence must be positive, got %v", c.BlipSilence))
	}
	if c.Padding < 0 {
		errs = append(errs, fmt.Errorf("endpoint: padding must not be negative, got %v", c.Padding))
	}
	if c.PhraseTimeout > 0 && c.MinSpeechDuration >= c.PhraseTimeout {
		errs = append(errs, errors.New("endpoint: min speech duration must be shorter than the phrase timeout"))
	}
	return errors.Join(errs...)
}

// ClassifierConfig tunes the adaptive energy gate of a [Classifier].
type ClassifierConfig struct {
	// DynamicRatio multiplies the ambient estimate to form the threshold.
	DynamicRatio float64

	// Damping is the weight of the newest window estimate in the
	// exponential smoothing of the ambient level, in (0, 1].
	Damping float64

	// EnergyFloor is the lowest threshold ever applied, in int16 RMS units.
	// It keeps a near-silent calibration from reducing the energy gate to
	// zero. Zero selects [DefaultEnergyFloor].
	EnergyFloor float64

	// EnergyWindow is the number of recent non-speech energies the ambient
	// estimate is recomputed from.
	EnergyWindow int
}

// WithDefaults returns c with zero fields replaced by package defaults.
func (c ClassifierConfig) WithDefaults() ClassifierConfig {
	if c.DynamicRatio == 0 {
		c.DynamicRatio = DefaultDynamicRatio
	}
	if c.Damping == 0 {
		c.Damping = DefaultDamping
	}
	if c.EnergyFloor == 0 {
		c.EnergyFloor = DefaultEnergyFloor
	}
	if c.EnergyWindow == 0 {
		c.EnergyWindow = DefaultEnergyWindow
	}
	return c
}

// Validate reports every configuration problem at once.
func (c ClassifierConfig) Validate() error {
	var errs []error
	if c.DynamicRatio <= 0 {
		errs = append(errs, fmt.Errorf("endpoint: dynamic ratio must be positive, got %g", c.DynamicRatio))
	}
	if c.Damping <= 0 || c.Damping > 1 {
		errs = append(errs, fmt.Errorf("endpoint: damping must be in (0, 1], got %g", c.Damping))
	}
	if c.EnergyFloor <= 0 {
		errs = append(errs, fmt.Errorf("endpoint: energy floor must be positive, got %g", c.EnergyFloor))
	}
	if c.EnergyWindow < 3 {
		errs = append(errs, fmt.Errorf("endpoint: energy window must hold at least 3 frames, got %d", c.EnergyWindow))
	}
	return errors.Join(errs...)
}
