package openai

import (
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestNew_RejectsEmptyAPIKey verifies the API key is required.
func TestNew_RejectsEmptyAPIKey(t *testing.T) {
	if _, err := New("", ""); err == nil {
		t.Fatal("New with empty API key should return an error")
	}
}

// TestNew_DefaultModelAndVoice verifies the defaults applied by New.
func TestNew_DefaultModelAndVoice(t *testing.T) {
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	if p.model != DefaultModel {
		t.Errorf("model = %q, want %q", p.model, DefaultModel)
	}
	if p.voice != DefaultVoice {
		t.Errorf("voice = %q, want %q", p.voice, DefaultVoice)
	}
}

// TestSynthesize_EmptyText verifies no request is made for blank input.
func TestSynthesize_EmptyText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be called for empty text")
	}))
	defer srv.Close()

	p, err := New("sk-test", "", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	samples, err := p.Synthesize(context.Background(), "  ", 16000)
	if err != nil {
		t.Fatalf("Synthesize: unexpected error: %v", err)
	}
	if samples != nil {
		t.Errorf("got %d samples, want nil", len(samples))
	}
}

// TestSynthesize_ResamplesTo16k verifies the 24 kHz PCM response is
// resampled to the requested rate and normalised to float32.
func TestSynthesize_ResamplesTo16k(t *testing.T) {
	// 100 ms of constant samples at the API's fixed 24 kHz output rate.
	pcm := make([]byte, 2400*2)
	for i := range 2400 {
		binary.LittleEndian.PutUint16(pcm[i*2:i*2+2], uint16(int16(8192)))
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/pcm")
		w.Write(pcm)
	}))
	defer srv.Close()

	p, err := New("sk-test", "", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	samples, err := p.Synthesize(context.Background(), "hello", 16000)
	if err != nil {
		t.Fatalf("Synthesize: unexpected error: %v", err)
	}

	if len(samples) < 1500 || len(samples) > 1700 {
		t.Errorf("got %d samples, want about 1600", len(samples))
	}
	for i, s := range samples[:10] {
		if s < 0.24 || s > 0.26 {
			t.Fatalf("sample %d = %f, want about 0.25", i, s)
		}
	}
}

// TestSynthesize_PropagatesAPIError verifies HTTP errors surface to the caller.
func TestSynthesize_PropagatesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad voice"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	p, err := New("sk-test", "", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	if _, err := p.Synthesize(context.Background(), "hello", 16000); err == nil {
		t.Fatal("Synthesize should return an error on HTTP 400")
	}
}
