package deepgram

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	raw, err := p.buildURL("", 16000)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(raw)
	q := u.Query()
	checks := map[string]string{
		"model":           defaultModel,
		"language":        defaultLanguage,
		"interim_results": "true",
		"encoding":        "linear16",
		"sample_rate":     "16000",
	}
	for k, want := range checks {
		if got := q.Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
}

func TestBuildURL_LanguageOverride(t *testing.T) {
	p, _ := New("k", WithLanguage("en"), WithModel("base"))
	raw, _ := p.buildURL("de", 8000)
	u, _ := url.Parse(raw)
	if u.Query().Get("language") != "de" || u.Query().Get("model") != "base" {
		t.Errorf("unexpected query %s", u.RawQuery)
	}
}

func TestParseDeepgramResponse(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		ok   bool
	}{
		{"final", `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hi","confidence":0.9}]}}`, true},
		{"metadata", `{"type":"Metadata"}`, false},
		{"no alternatives", `{"type":"Results","channel":{"alternatives":[]}}`, false},
		{"invalid", `{not json`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := parseDeepgramResponse([]byte(tt.msg))
			if ok != tt.ok {
				t.Errorf("ok = %v, want %v", ok, tt.ok)
			}
		})
	}
}

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

// newMockDeepgram starts a websocket server that replies with an interim
// result after the first audio frame and a flushed final on Finalize.
func newMockDeepgram(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token test-key" {
			t.Errorf("Authorization = %q", got)
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		frames := 0
		for {
			typ, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			switch {
			case typ == websocket.MessageBinary:
				frames++
				if frames == 1 {
					_ = conn.Write(ctx, websocket.MessageText, []byte(
						`{"type":"Results","is_final":false,"start":0,"duration":0.02,"channel":{"alternatives":[{"transcript":"hel","confidence":0.5}]}}`))
				}
			case strings.Contains(string(msg), "Finalize"):
				dur := float64(frames) * 0.02
				_ = conn.Write(ctx, websocket.MessageText, []byte(fmt.Sprintf(
					`{"type":"Results","is_final":true,"from_finalize":true,"start":0,"duration":%g,"channel":{"alternatives":[{"transcript":"hello world","confidence":0.9}]}}`, dur)))
			case strings.Contains(string(msg), "CloseStream"):
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRecognizer_RoundTrip(t *testing.T) {
	srv := newMockDeepgram(t)
	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http")

	p, _ := New("test-key", WithEndpoint(endpoint), WithFinalizeWait(2*time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r, err := p.NewRecognizer(ctx, stt.StreamConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("NewRecognizer: %v", err)
	}
	defer r.Close()

	for range 5 {
		if _, err := r.Accept(ctx, make([]byte, 640)); err != nil {
			t.Fatalf("Accept: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		txt, _ := r.Partial(ctx)
		if txt == "hel" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("partial never arrived, last %q", txt)
		}
		time.Sleep(5 * time.Millisecond)
	}

	res, err := r.Final(ctx)
	if err != nil {
		t.Fatalf("Final: %v", err)
	}
	if res.Text != "hello world" || res.Confidence != 0.9 {
		t.Errorf("Final = %+v", res)
	}

	r.Reset()
	r.Reset()
	if txt, _ := r.Partial(ctx); txt != "" {
		t.Errorf("partial after Reset = %q, want empty", txt)
	}
	res, err = r.Final(ctx)
	if err != nil || res.Text != "" {
		t.Errorf("Final after Reset = %+v, %v; want empty", res, err)
	}
}
