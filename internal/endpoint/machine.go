package endpoint

import (
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/types"
)

// State is the endpointing state.
type State int

const (
	// StateIdle: no utterance in progress. The buffer is empty.
	StateIdle State = iota
	// StateSpeaking: an utterance is in progress.
	StateSpeaking
)

// String returns "idle" or "speaking".
func (s State) String() string {
	if s == StateSpeaking {
		return "speaking"
	}
	return "idle"
}

// Action is what the caller must do after [Machine.Evaluate].
type Action int

const (
	// Continue: no endpoint condition holds.
	Continue Action = iota
	// Finalize: the utterance ended; fetch the final transcription.
	Finalize
	// Abort: the utterance was noise; discard it without finalizing.
	Abort
)

// String returns the lower-case action name.
func (a Action) String() string {
	switch a {
	case Finalize:
		return "finalize"
	case Abort:
		return "abort"
	default:
		return "continue"
	}
}

// Decision is the outcome of one endpoint evaluation.
type Decision struct {
	Action Action
	Reason types.EndReason
}

// Step reports what one observed frame did to the machine.
type Step struct {
	// Started is true when the frame moved the machine from Idle to
	// Speaking.
	Started bool

	// Feed lists the frames the transcription engine must now receive, in
	// order. At onset it starts with the pre-roll. Empty while idle. The
	// slice is reused by the next Observe.
	Feed []audio.Frame
}

// Machine is the Idle/Speaking endpointing state machine. Time is supplied
// by the caller so the machine itself is deterministic.
type Machine struct {
	cfg   Config
	state State

	speechStart  time.Time
	phraseStart  time.Time
	silenceStart time.Time

	buf UtteranceBuffer

	preroll    []audio.Frame
	prerollDur time.Duration
	feed       []audio.Frame
}

// NewMachine returns a Machine in the Idle state. cfg should already have
// defaults applied.
func NewMachine(cfg Config) *Machine {
	return &Machine{cfg: cfg}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Buffer returns the utterance buffer. It is non-empty iff the machine is
// Speaking.
func (m *Machine) Buffer() *UtteranceBuffer { return &m.buf }

// SpeechStart returns when the current utterance began, or the zero time
// while idle.
func (m *Machine) SpeechStart() time.Time { return m.speechStart }

// Observe applies cf at time now.
//
// Idle and speech: the machine starts an utterance, seeding the buffer with
// the pre-roll. Idle and non-speech: the frame joins the pre-roll. Speaking:
// every frame is appended and fed; speech clears the silence timer and the
// first non-speech frame after speech starts it.
func (m *Machine) Observe(cf ClassifiedFrame, now time.Time) Step {
	m.feed = m.feed[:0]
	switch m.state {
	case StateIdle:
		if !cf.Speech {
			m.pushPreroll(cf.Frame)
			return Step{}
		}
		m.state = StateSpeaking
		m.speechStart = now
		m.phraseStart = now
		m.silenceStart = time.Time{}
		for _, f := range m.preroll {
			m.buf.Append(f)
			m.feed = append(m.feed, f)
		}
		m.clearPreroll()
		m.buf.Append(cf.Frame)
		m.feed = append(m.feed, cf.Frame)
		return Step{Started: true, Feed: m.feed}

	default:
		if cf.Speech {
			m.silenceStart = time.Time{}
		} else if m.silenceStart.IsZero() {
			m.silenceStart = now
		}
		m.buf.Append(cf.Frame)
		m.feed = append(m.feed, cf.Frame)
		return Step{Feed: m.feed}
	}
}

// Idle records that no frame arrived by now. While Speaking, absence of input
// counts as silence so a muted or unplugged device still ends the utterance.
func (m *Machine) Idle(now time.Time) {
	if m.state == StateSpeaking && m.silenceStart.IsZero() {
		m.silenceStart = now
	}
}

// Evaluate checks the endpoint conditions at now. They are tried in order
// and the first that holds wins:
//
//  1. trailing silence longer than SilenceThreshold: Finalize with
//     silence_threshold, or Abort with min_speech_duration when the speech
//     before the silence was shorter than MinSpeechDuration;
//  2. utterance longer than PhraseTimeout: Finalize with phrase_timeout;
//  3. speech shorter than MinSpeechDuration followed by more than
//     BlipSilence of silence: Abort with min_speech_duration.
//
// Evaluate does not change state; the caller resets the machine once it has
// acted on the decision.
func (m *Machine) Evaluate(now time.Time) Decision {
	if m.state != StateSpeaking {
		return Decision{Action: Continue}
	}
	silent := !m.silenceStart.IsZero()
	var speechSpan, silence time.Duration
	if silent {
		speechSpan = m.silenceStart.Sub(m.speechStart)
		silence = now.Sub(m.silenceStart)
	}
	tooShort := silent && speechSpan < m.cfg.MinSpeechDuration

	switch {
	case silent && silence > m.cfg.SilenceThreshold:
		if tooShort {
			return Decision{Action: Abort, Reason: types.EndMinSpeech}
		}
		return Decision{Action: Finalize, Reason: types.EndSilence}
	case now.Sub(m.phraseStart) > m.cfg.PhraseTimeout:
		return Decision{Action: Finalize, Reason: types.EndPhraseTimeout}
	case tooShort && silence > m.cfg.BlipSilence:
		return Decision{Action: Abort, Reason: types.EndMinSpeech}
	}
	return Decision{Action: Continue}
}

// Reset returns the machine to Idle and empties the buffer.
func (m *Machine) Reset() {
	m.state = StateIdle
	m.speechStart = time.Time{}
	m.phraseStart = time.Time{}
	m.silenceStart = time.Time{}
	m.buf.Reset()
	m.clearPreroll()
}

func (m *Machine) pushPreroll(f audio.Frame) {
	if m.cfg.Padding <= 0 {
		return
	}
	m.preroll = append(m.preroll, f)
	m.prerollDur += f.Duration()
	drop := 0
	for m.prerollDur > m.cfg.Padding && drop < len(m.preroll) {
		m.prerollDur -= m.preroll[drop].Duration()
		drop++
	}
	if drop > 0 {
		n := copy(m.preroll, m.preroll[drop:])
		clear(m.preroll[n:])
		m.preroll = m.preroll[:n]
	}
}

func (m *Machine) clearPreroll() {
	clear(m.preroll)
	m.preroll = m.preroll[:0]
	m.prerollDur = 0
}
