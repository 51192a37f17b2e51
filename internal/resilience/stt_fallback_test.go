package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/parley/pkg/provider/stt"
	sttmock "github.com/MrWong99/parley/pkg/provider/stt/mock"
)

func TestSTTFallback_NewRecognizer(t *testing.T) {
	t.Parallel()

	down := errors.New("backend down")
	tests := []struct {
		name          string
		primaryErr    error
		secondaryErr  error
		wantPrimary   int
		wantSecondary int
		wantAllFailed bool
	}{
		{name: "primary opens", wantPrimary: 1, wantSecondary: 0},
		{name: "failover", primaryErr: down, wantPrimary: 1, wantSecondary: 1},
		{name: "all fail", primaryErr: down, secondaryErr: down, wantPrimary: 1, wantSecondary: 1, wantAllFailed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			primary := &sttmock.Provider{NewRecognizerErr: tt.primaryErr}
			secondary := &sttmock.Provider{NewRecognizerErr: tt.secondaryErr}
			fb := NewSTTFallback(primary, "whisper", FallbackConfig{
				CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
			})
			fb.AddFallback("deepgram", secondary)

			cfg := stt.StreamConfig{SampleRate: 16000, Language: "en"}
			rec, err := fb.NewRecognizer(context.Background(), cfg)
			if tt.wantAllFailed {
				if !errors.Is(err, ErrAllFailed) {
					t.Fatalf("err = %v, want ErrAllFailed", err)
				}
			} else {
				if err != nil {
					t.Fatalf("NewRecognizer: %v", err)
				}
				if rec == nil {
					t.Fatal("recognizer is nil")
				}
				_ = rec.Close()
			}
			if got := primary.Calls(); got != tt.wantPrimary {
				t.Errorf("primary calls = %d, want %d", got, tt.wantPrimary)
			}
			if got := secondary.Calls(); got != tt.wantSecondary {
				t.Errorf("secondary calls = %d, want %d", got, tt.wantSecondary)
			}
			if tt.wantSecondary > 0 && secondary.NewRecognizerCalls[0].Cfg != cfg {
				t.Errorf("secondary cfg = %+v, want %+v", secondary.NewRecognizerCalls[0].Cfg, cfg)
			}
		})
	}
}

func TestSTTFallback_Providers(t *testing.T) {
	t.Parallel()

	fb := NewSTTFallback(&sttmock.Provider{}, "whisper", FallbackConfig{})
	fb.AddFallback("whisper-http", &sttmock.Provider{})
	got := fb.Providers()
	if len(got) != 2 || got[0] != "whisper" || got[1] != "whisper-http" {
		t.Errorf("Providers = %v", got)
	}
}
