package coqui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// testWAV returns a 16 kHz mono WAV holding n samples of a constant level.
func testWAV(n int) []byte {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.25
	}
	return audio.EncodeWAV(audio.Float32ToPCM16(samples), 16000)
}

// mustNew is a test helper that calls New and fails the test on error.
func mustNew(t *testing.T, serverURL string, opts ...Option) *Provider {
	t.Helper()
	p, err := New(serverURL, opts...)
	if err != nil {
		t.Fatalf("New(%q): unexpected error: %v", serverURL, err)
	}
	return p
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		p := mustNew(t, "http://localhost:5002")
		if p.language != defaultLanguage {
			t.Errorf("language = %q, want %q", p.language, defaultLanguage)
		}
		if p.httpClient.Timeout != defaultTimeout {
			t.Errorf("timeout = %v, want %v", p.httpClient.Timeout, defaultTimeout)
		}
		if p.apiMode != APIModeStandard {
			t.Errorf("apiMode = %q, want %q", p.apiMode, APIModeStandard)
		}
	})

	t.Run("trims trailing slash", func(t *testing.T) {
		p := mustNew(t, "http://localhost:5002/")
		if p.serverURL != "http://localhost:5002" {
			t.Errorf("serverURL = %q, want trailing slash stripped", p.serverURL)
		}
	})

	t.Run("options", func(t *testing.T) {
		p := mustNew(t, "http://x", WithLanguage("de"), WithTimeout(5*time.Second), WithAPIMode(APIModeXTTS), WithOutputSampleRate(48000))
		if p.language != "de" || p.httpClient.Timeout != 5*time.Second || p.apiMode != APIModeXTTS || p.outputRate != 48000 {
			t.Errorf("options not applied: %+v", p)
		}
	})

	t.Run("empty url", func(t *testing.T) {
		if _, err := New(""); err == nil {
			t.Error("expected error for empty serverURL")
		}
	})

	t.Run("unknown mode", func(t *testing.T) {
		if _, err := New("http://x", WithAPIMode("bogus")); err == nil {
			t.Error("expected error for unknown api mode")
		}
	})
}

func TestSynthesize_Standard(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		query map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != apiTTSEndpoint || r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		query = map[string]string{
			"text":        r.URL.Query().Get("text"),
			"speaker_id":  r.URL.Query().Get("speaker_id"),
			"language_id": r.URL.Query().Get("language_id"),
		}
		mu.Unlock()
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(testWAV(1600))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	wf, err := p.Synthesize(context.Background(), " Hello world. ", tts.VoiceProfile{SpeakerID: "p225"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if wf.SampleRate != 16000 || len(wf.Samples) != 1600 {
		t.Errorf("waveform = %d samples @ %d Hz, want 1600 @ 16000", len(wf.Samples), wf.SampleRate)
	}
	if wf.Duration() != 100*time.Millisecond {
		t.Errorf("Duration = %v, want 100ms", wf.Duration())
	}

	mu.Lock()
	defer mu.Unlock()
	if query["text"] != "Hello world." {
		t.Errorf("text = %q, want trimmed text", query["text"])
	}
	if query["speaker_id"] != "p225" {
		t.Errorf("speaker_id = %q, want p225", query["speaker_id"])
	}
	if query["language_id"] != defaultLanguage {
		t.Errorf("language_id = %q, want %q", query["language_id"], defaultLanguage)
	}
}

func TestSynthesize_XTTS(t *testing.T) {
	t.Parallel()

	reqs := make(chan ttsRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != ttsEndpoint || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req ttsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		reqs <- req
		_, _ = w.Write(testWAV(1600))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS), WithLanguage("de"))
	if _, err := p.Synthesize(context.Background(), "Hallo.", tts.VoiceProfile{}); err == nil {
		t.Fatal("expected error for missing speaker in XTTS mode")
	}

	wf, err := p.Synthesize(context.Background(), "Hallo.", tts.VoiceProfile{SpeakerID: "ref.wav"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	got := <-reqs
	if got.SpeakerWav != "ref.wav" || got.Language != "de" || got.Text != "Hallo." {
		t.Errorf("request = %+v", got)
	}
	if len(wf.Samples) != 1600 {
		t.Errorf("samples = %d, want 1600", len(wf.Samples))
	}
}

func TestSynthesize_SpeedPitchAndResample(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(testWAV(1600))
	}))
	defer srv.Close()

	tests := []struct {
		name  string
		opts  []Option
		voice tts.VoiceProfile
		want  int
		rate  int
	}{
		{"natural", nil, tts.VoiceProfile{}, 1600, 16000},
		{"double speed", nil, tts.VoiceProfile{Speed: 2}, 800, 16000},
		{"octave up", nil, tts.VoiceProfile{PitchShift: 12}, 800, 16000},
		{"resampled", []Option{WithOutputSampleRate(48000)}, tts.VoiceProfile{}, 4800, 48000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mustNew(t, srv.URL, tt.opts...)
			wf, err := p.Synthesize(context.Background(), "Hi.", tt.voice)
			if err != nil {
				t.Fatalf("Synthesize: %v", err)
			}
			if len(wf.Samples) != tt.want || wf.SampleRate != tt.rate {
				t.Errorf("got %d samples @ %d, want %d @ %d", len(wf.Samples), wf.SampleRate, tt.want, tt.rate)
			}
		})
	}
}

func TestSynthesize_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		text    string
	}{
		{"empty text", func(w http.ResponseWriter, r *http.Request) {}, "  "},
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}, "Hi."},
		{"not a wav", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("definitely not audio"))
		}, "Hi."},
		{"no samples", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(testWAV(0))
		}, "Hi."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			p := mustNew(t, srv.URL)
			_, err := p.Synthesize(context.Background(), tt.text, tts.VoiceProfile{})
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.HasPrefix(err.Error(), "coqui:") {
				t.Errorf("error %q missing 'coqui:' prefix", err)
			}
		})
	}
}

func TestSynthesize_ContextCancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Synthesize(ctx, "Hi.", tts.VoiceProfile{}); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}

func TestListVoices_XTTS(t *testing.T) {
	t.Parallel()

	data, _ := json.Marshal(map[string]any{
		"speaker_bob":   map[string]any{},
		"speaker_alice": map[string]any{},
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != studioSpeakersEndpoint {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 || voices[0].SpeakerID != "speaker_alice" || voices[1].SpeakerID != "speaker_bob" {
		t.Errorf("voices = %+v, want sorted alice, bob", voices)
	}
}

func TestListVoices_Standard(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		details detailsResponse
		want    []string
	}{
		{"multi-speaker", detailsResponse{ModelName: "vctk", Speakers: []string{"p227", "p225"}}, []string{"p225", "p227"}},
		{"single-speaker", detailsResponse{ModelName: "ljspeech"}, []string{"ljspeech"}},
		{"unnamed model", detailsResponse{}, []string{"default"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, _ := json.Marshal(tt.details)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != detailsEndpoint {
					http.NotFound(w, r)
					return
				}
				_, _ = w.Write(data)
			}))
			defer srv.Close()

			voices, err := mustNew(t, srv.URL).ListVoices(context.Background())
			if err != nil {
				t.Fatalf("ListVoices: %v", err)
			}
			if len(voices) != len(tt.want) {
				t.Fatalf("got %d voices, want %d", len(voices), len(tt.want))
			}
			for i, v := range voices {
				if v.Name != tt.want[i] {
					t.Errorf("voices[%d].Name = %q, want %q", i, v.Name, tt.want[i])
				}
			}
		})
	}
}

func TestListVoices_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := mustNew(t, srv.URL).ListVoices(context.Background())
	if err == nil {
		t.Fatal("expected error on server failure, got nil")
	}
	if !strings.Contains(err.Error(), "coqui:") {
		t.Errorf("error %q missing 'coqui:' prefix", err.Error())
	}
}
