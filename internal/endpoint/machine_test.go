package endpoint

import (
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/types"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// at returns the wall-clock time of frame i.
func at(i int) time.Time { return t0.Add(time.Duration(i) * frameDur) }

func testConfig() Config {
	return Config{
		SilenceThreshold:  2 * time.Second,
		PhraseTimeout:     20 * time.Second,
		MinSpeechDuration: 300 * time.Millisecond,
		BlipSilence:       time.Second,
	}
}

// run feeds frames produced by gen for i in [from, to), evaluating after each,
// and returns the first non-Continue decision together with its frame index.
func run(m *Machine, from, to int, gen func(int) ClassifiedFrame) (Decision, int) {
	for i := from; i < to; i++ {
		m.Observe(gen(i), at(i))
		if d := m.Evaluate(at(i)); d.Action != Continue {
			return d, i
		}
	}
	return Decision{Action: Continue}, -1
}

func TestMachine_SilenceNeverLeavesIdle(t *testing.T) {
	t.Parallel()

	m := NewMachine(testConfig())
	for i := range 1000 {
		if step := m.Observe(silence(i), at(i)); step.Started || len(step.Feed) != 0 {
			t.Fatalf("frame %d: unexpected step %+v", i, step)
		}
		m.Idle(at(i))
		if d := m.Evaluate(at(i)); d.Action != Continue {
			t.Fatalf("frame %d: decision %+v while idle", i, d)
		}
	}
	if m.State() != StateIdle || m.Buffer().Len() != 0 {
		t.Errorf("state = %v, buffer = %d frames", m.State(), m.Buffer().Len())
	}
}

func TestMachine_SilenceThresholdScenario(t *testing.T) {
	t.Parallel()

	// 1.0 s of speech then 2.1 s of silence at 16 kHz, 20 ms frames.
	m := NewMachine(testConfig())
	gen := func(i int) ClassifiedFrame {
		if i < 50 {
			return speech(i)
		}
		return silence(i)
	}
	d, idx := run(m, 0, 155, gen)
	if d.Action != Finalize || d.Reason != types.EndSilence {
		t.Fatalf("decision = %+v, want Finalize silence_threshold", d)
	}
	// Silence starts at frame 50; the threshold is crossed strictly after 2 s.
	if idx != 151 {
		t.Errorf("fired at frame %d, want 151", idx)
	}
	if m.State() != StateSpeaking {
		t.Error("Evaluate must not change state")
	}
	if got := m.Buffer().Len(); got != idx+1 {
		t.Errorf("buffer = %d frames, want %d", got, idx+1)
	}
	m.Reset()
	if m.State() != StateIdle || m.Buffer().Len() != 0 {
		t.Errorf("after Reset: state = %v, buffer = %d", m.State(), m.Buffer().Len())
	}
}

func TestMachine_SilenceInterruptedBySpeechRestartsTimer(t *testing.T) {
	t.Parallel()

	m := NewMachine(testConfig())
	// speech 0-24, silence 25-99 (1.5 s), speech 100-124, silence after.
	gen := func(i int) ClassifiedFrame {
		if i < 25 || (i >= 100 && i < 125) {
			return speech(i)
		}
		return silence(i)
	}
	d, idx := run(m, 0, 400, gen)
	if d.Action != Finalize || d.Reason != types.EndSilence {
		t.Fatalf("decision = %+v, want Finalize silence_threshold", d)
	}
	if idx != 226 {
		t.Errorf("fired at frame %d, want 226", idx)
	}
}

func TestMachine_PhraseTimeout(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.PhraseTimeout = 2 * time.Second
	m := NewMachine(cfg)

	d, idx := run(m, 0, 500, speech)
	if d.Action != Finalize || d.Reason != types.EndPhraseTimeout {
		t.Fatalf("decision = %+v, want Finalize phrase_timeout", d)
	}
	if idx != 101 {
		t.Errorf("fired at frame %d, want 101", idx)
	}
	m.Reset()

	// A fresh utterance starts on the very next speech frame.
	step := m.Observe(speech(idx+1), at(idx+1))
	if !step.Started || m.State() != StateSpeaking {
		t.Errorf("next speech frame did not start a new utterance: %+v", step)
	}
	if !m.SpeechStart().Equal(at(idx + 1)) {
		t.Errorf("SpeechStart = %v, want %v", m.SpeechStart(), at(idx+1))
	}
}

func TestMachine_ShortBurstAborted(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		silence time.Duration
		wantIdx int
	}{
		// Rule 3: blip followed by more than 1 s of silence.
		{"long silence threshold", 2 * time.Second, 5 + 51},
		// Rule 1 fires first but the burst is still too short.
		{"short silence threshold", 500 * time.Millisecond, 5 + 26},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.SilenceThreshold = tt.silence
			m := NewMachine(cfg)
			gen := func(i int) ClassifiedFrame {
				if i < 5 { // 100 ms burst
					return speech(i)
				}
				return silence(i)
			}
			d, idx := run(m, 0, 300, gen)
			if d.Action != Abort || d.Reason != types.EndMinSpeech {
				t.Fatalf("decision = %+v, want Abort min_speech_duration", d)
			}
			if idx != tt.wantIdx {
				t.Errorf("fired at frame %d, want %d", idx, tt.wantIdx)
			}
		})
	}
}

func TestMachine_IdleCountsAsSilence(t *testing.T) {
	t.Parallel()

	m := NewMachine(testConfig())
	for i := range 50 {
		m.Observe(speech(i), at(i))
	}
	// The device goes quiet: no more frames, only poll timeouts.
	now := at(50)
	m.Idle(now)
	for tick := 1; tick <= 25; tick++ {
		now = now.Add(100 * time.Millisecond)
		m.Idle(now)
		d := m.Evaluate(now)
		if tick <= 20 && d.Action != Continue {
			t.Fatalf("tick %d: premature decision %+v", tick, d)
		}
		if tick == 21 {
			if d.Action != Finalize || d.Reason != types.EndSilence {
				t.Fatalf("tick %d: decision %+v, want Finalize silence_threshold", tick, d)
			}
			return
		}
	}
}

func TestMachine_FeedsEveryFrameWhileSpeaking(t *testing.T) {
	t.Parallel()

	m := NewMachine(testConfig())
	if step := m.Observe(speech(0), at(0)); !step.Started || len(step.Feed) != 1 {
		t.Fatalf("onset step = %+v", step)
	}
	for i := 1; i < 10; i++ {
		cf := speech(i)
		if i%2 == 0 {
			cf = silence(i)
		}
		step := m.Observe(cf, at(i))
		if step.Started || len(step.Feed) != 1 || step.Feed[0].Timestamp != cf.Frame.Timestamp {
			t.Fatalf("frame %d: step = %+v", i, step)
		}
	}
	if m.Buffer().Len() != 10 || m.Buffer().Duration() != 200*time.Millisecond {
		t.Errorf("buffer = %d frames / %v", m.Buffer().Len(), m.Buffer().Duration())
	}
}

func TestMachine_PrerollReplayedAtOnset(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Padding = 60 * time.Millisecond
	m := NewMachine(cfg)

	for i := range 10 {
		m.Observe(silence(i), at(i))
	}
	step := m.Observe(speech(10), at(10))
	if !step.Started {
		t.Fatal("speech did not start an utterance")
	}
	if len(step.Feed) != 4 {
		t.Fatalf("feed = %d frames, want 3 pre-roll + onset", len(step.Feed))
	}
	for j, want := range []int{7, 8, 9, 10} {
		if got := step.Feed[j].Timestamp; got != time.Duration(want)*frameDur {
			t.Errorf("feed[%d] timestamp = %v, want frame %d", j, got, want)
		}
	}
	if m.Buffer().Len() != 4 {
		t.Errorf("buffer = %d, want 4", m.Buffer().Len())
	}

	// Reset drops any pre-roll collected so far.
	m.Reset()
	m.Observe(silence(11), at(11))
	m.Reset()
	if step := m.Observe(speech(12), at(12)); len(step.Feed) != 1 {
		t.Errorf("feed after reset = %d frames, want 1", len(step.Feed))
	}
}

func TestMachine_EvaluateOrder(t *testing.T) {
	t.Parallel()

	// Silence and phrase timeout both hold: silence wins.
	cfg := testConfig()
	cfg.SilenceThreshold = 500 * time.Millisecond
	cfg.PhraseTimeout = time.Second
	m := NewMachine(cfg)
	for i := range 40 {
		m.Observe(speech(i), at(i))
	}
	m.Observe(silence(40), at(40))
	if d := m.Evaluate(at(40).Add(2 * time.Second)); d.Reason != types.EndSilence {
		t.Errorf("reason = %q, want silence_threshold", d.Reason)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	if err := (Config{}).WithDefaults().Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
	bad := Config{SilenceThreshold: -1, PhraseTimeout: time.Second, MinSpeechDuration: 2 * time.Second, BlipSilence: time.Second, Padding: -1}
	if err := bad.Validate(); err == nil {
		t.Error("expected validation error")
	}
	if err := (ClassifierConfig{}).WithDefaults().Validate(); err != nil {
		t.Errorf("classifier defaults invalid: %v", err)
	}
	if err := (ClassifierConfig{DynamicRatio: 1, Damping: 2, EnergyWindow: 1}).Validate(); err == nil {
		t.Error("expected classifier validation error")
	}
}
