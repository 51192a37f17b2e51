// Package voice holds the personality catalogue: named voice profiles that
// playback requests refer to by name.
//
// The catalogue starts from five built-in personalities and can be adjusted
// or extended from configuration with [Catalogue.Apply]. Lookups are
// case-insensitive.
package voice

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

// ErrUnknownPersonality is returned by [Catalogue.Lookup] for names that are
// not in the catalogue.
var ErrUnknownPersonality = errors.New("voice: unknown personality")

// Personality is a voice profile plus the line it introduces itself with.
type Personality struct {
	Profile tts.VoiceProfile

	// Introduction is spoken when introductions are enabled. Empty skips
	// the personality.
	Introduction string

	// Pause is the silence after the introduction, in seconds.
	Pause float64
}

// Name returns the lower-case catalogue key.
func (p Personality) Name() string { return strings.ToLower(p.Profile.Name) }

// Builtin returns the default personalities in introduction order.
func Builtin() []Personality {
	return []Personality{
		{
			Profile: tts.VoiceProfile{
				Name: "oracle", SpeakerID: "male_2", Speed: 0.75, PitchShift: -4,
				Description: "Profound depth, mystical calmness. The Sage archetype.",
			},
			Introduction: "Greetings. I am Oracle, keeper of wisdom and foresight.",
			Pause:        1.5,
		},
		{
			Profile: tts.VoiceProfile{
				Name: "kira", SpeakerID: "male_1", Speed: 0.9, PitchShift: -2,
				Description: "Dominant, ruthless and controlled. The Shadow archetype.",
			},
			Introduction: "I am Kira. I will push you to your limits. Expect no mercy.",
			Pause:        1,
		},
		{
			Profile: tts.VoiceProfile{
				Name: "mika", SpeakerID: "female_1", Speed: 1.05, PitchShift: 3,
				Description: "Soft-spoken and caring. The Anima archetype.",
			},
			Introduction: "Hello! I'm Mika. I'm here to support you with all my heart.",
			Pause:        1,
		},
		{
			Profile: tts.VoiceProfile{
				Name: "byte", SpeakerID: "male_3", Speed: 1.25, PitchShift: 2,
				Description: "Anxious genius with low confidence. The Prodigy archetype.",
			},
			Introduction: "Um, hi... I'm Byte. I'll try my best to help with any questions.",
			Pause:        0.8,
		},
		{
			Profile: tts.VoiceProfile{
				Name: "quip", SpeakerID: "male_4", Speed: 1.1, PitchShift: 0,
				Description: "Effortlessly clever, sarcastic and competitive. The Persona archetype.",
			},
			Introduction: "Hey there! Quip's the name, wit's the game. Ready for some fun?",
			Pause:        1,
		},
	}
}

// Override changes selected fields of a personality. Nil fields keep the
// current value.
type Override struct {
	SpeakerID    *string
	Speed        *float64
	PitchShift   *float64
	Description  *string
	Introduction *string
	Pause        *float64
}

// Catalogue maps personality names to profiles. Safe for concurrent use.
type Catalogue struct {
	mu     sync.RWMutex
	byName map[string]Personality
	order  []string
}

// NewCatalogue returns a catalogue holding ps in order.
func NewCatalogue(ps ...Personality) *Catalogue {
	c := &Catalogue{byName: make(map[string]Personality, len(ps))}
	for _, p := range ps {
		c.set(p)
	}
	return c
}

// Default returns a catalogue of the [Builtin] personalities.
func Default() *Catalogue { return NewCatalogue(Builtin()...) }

func (c *Catalogue) set(p Personality) {
	key := p.Name()
	if _, ok := c.byName[key]; !ok {
		c.order = append(c.order, key)
	}
	p.Profile.Name = key
	c.byName[key] = p
}

// Apply overrides fields of the named personality, adding it when it does
// not exist yet. New personalities need a speaker.
func (c *Catalogue) Apply(name string, o Override) error {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return errors.New("voice: empty personality name")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	p, exists := c.byName[key]
	if !exists {
		p = Personality{Profile: tts.VoiceProfile{Name: key, Speed: 1}, Pause: 1}
	}
	if o.SpeakerID != nil {
		p.Profile.SpeakerID = *o.SpeakerID
	}
	if o.Speed != nil {
		p.Profile.Speed = *o.Speed
	}
	if o.PitchShift != nil {
		p.Profile.PitchShift = *o.PitchShift
	}
	if o.Description != nil {
		p.Profile.Description = *o.Description
	}
	if o.Introduction != nil {
		p.Introduction = *o.Introduction
	}
	if o.Pause != nil {
		p.Pause = *o.Pause
	}
	if err := validate(p); err != nil {
		return err
	}
	c.set(p)
	return nil
}

func validate(p Personality) error {
	var errs []error
	if p.Profile.SpeakerID == "" {
		errs = append(errs, fmt.Errorf("voice: %s: speaker_id is required", p.Name()))
	}
	if s := p.Profile.Speed; s <= 0 || s > 4 {
		errs = append(errs, fmt.Errorf("voice: %s: speed must be in (0, 4], got %v", p.Name(), s))
	}
	if ps := p.Profile.PitchShift; ps < -12 || ps > 12 {
		errs = append(errs, fmt.Errorf("voice: %s: pitch_shift must be in [-12, 12], got %v", p.Name(), ps))
	}
	if p.Pause < 0 {
		errs = append(errs, fmt.Errorf("voice: %s: pause must not be negative", p.Name()))
	}
	return errors.Join(errs...)
}

// Lookup returns the profile registered under name.
func (c *Catalogue) Lookup(name string) (tts.VoiceProfile, error) {
	p, err := c.Personality(name)
	if err != nil {
		return tts.VoiceProfile{}, err
	}
	return p.Profile, nil
}

// Personality returns the full entry registered under name.
func (c *Catalogue) Personality(name string) (Personality, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Personality{}, fmt.Errorf("%w %q", ErrUnknownPersonality, name)
	}
	return p, nil
}

// Names returns the catalogue keys in insertion order.
func (c *Catalogue) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.order)
}

// All returns every personality in insertion order.
func (c *Catalogue) All() []Personality {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Personality, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.byName[k])
	}
	return out
}
