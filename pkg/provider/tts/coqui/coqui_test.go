package coqui

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

// ---- test helpers ----

// buildTestWAV constructs a minimal but valid RIFF/WAVE byte slice containing
// the supplied raw PCM samples at the given sample rate. It writes a standard
// 44-byte header (RIFF + fmt + data) so that parseWAV can correctly locate
// the audio payload.
func buildTestWAV(pcm []byte, sampleRate int) []byte {
	fmtSize := uint32(16)
	dataSize := uint32(len(pcm))
	fileSize := 4 + (8 + fmtSize) + (8 + dataSize)

	buf := make([]byte, 0, 12+8+fmtSize+8+dataSize)
	le := binary.LittleEndian

	putU32 := func(v uint32) {
		var b [4]byte
		le.PutUint32(b[:], v)
		buf = append(buf, b[:]...)
	}
	putU16 := func(v uint16) {
		var b [2]byte
		le.PutUint16(b[:], v)
		buf = append(buf, b[:]...)
	}

	// RIFF chunk.
	buf = append(buf, []byte("RIFF")...)
	putU32(fileSize)
	buf = append(buf, []byte("WAVE")...)

	// fmt sub-chunk.
	buf = append(buf, []byte("fmt ")...)
	putU32(fmtSize)
	putU16(1)                  // PCM format
	putU16(1)                  // 1 channel (mono)
	putU32(uint32(sampleRate)) // sample rate
	putU32(uint32(sampleRate * 2))
	putU16(2)  // block align
	putU16(16) // bits per sample

	// data sub-chunk.
	buf = append(buf, []byte("data")...)
	putU32(dataSize)
	buf = append(buf, pcm...)

	return buf
}

// constantPCM returns n 16-bit samples all holding the given value.
func constantPCM(n int, value int16) []byte {
	pcm := make([]byte, n*2)
	for i := range n {
		binary.LittleEndian.PutUint16(pcm[i*2:i*2+2], uint16(value))
	}
	return pcm
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

// ---- Provider creation ----

func TestNewRejectsEmptyURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("New(\"\") should return an error")
	}
}

func TestNewXTTSRequiresSpeaker(t *testing.T) {
	if _, err := New("http://localhost:8002", WithAPIMode(APIModeXTTS)); err == nil {
		t.Fatal("New in XTTS mode without a speaker should return an error")
	}
}

// ---- Synthesize, standard mode ----

func TestSynthesizeStandardMode(t *testing.T) {
	pcm := constantPCM(160, 1000)

	var gotPath, gotText, gotSpeaker string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotText = r.URL.Query().Get("text")
		gotSpeaker = r.URL.Query().Get("speaker_id")
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(buildTestWAV(pcm, 16000))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithSpeaker("p225"))
	samples, err := p.Synthesize(context.Background(), "Hello caller.", 16000)
	if err != nil {
		t.Fatalf("Synthesize: unexpected error: %v", err)
	}

	if gotPath != "/api/tts" {
		t.Errorf("request path = %q, want /api/tts", gotPath)
	}
	if gotText != "Hello caller." {
		t.Errorf("text param = %q, want %q", gotText, "Hello caller.")
	}
	if gotSpeaker != "p225" {
		t.Errorf("speaker_id param = %q, want p225", gotSpeaker)
	}
	if len(samples) != 160 {
		t.Fatalf("got %d samples, want 160", len(samples))
	}
	want := float32(1000) / 32768.0
	if math.Abs(float64(samples[0]-want)) > 1e-6 {
		t.Errorf("sample 0 = %f, want %f", samples[0], want)
	}
}

func TestSynthesizeResamplesModelRate(t *testing.T) {
	// Server responds at 22050 Hz; caller asks for 16000 Hz.
	pcm := constantPCM(2205, 500)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buildTestWAV(pcm, 22050))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	samples, err := p.Synthesize(context.Background(), "hi", 16000)
	if err != nil {
		t.Fatalf("Synthesize: unexpected error: %v", err)
	}

	// 100 ms of audio should come back as roughly 1600 samples.
	if len(samples) < 1500 || len(samples) > 1700 {
		t.Errorf("got %d samples, want about 1600", len(samples))
	}
}

func TestSynthesizeEmptyText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be called for empty text")
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	samples, err := p.Synthesize(context.Background(), "   ", 16000)
	if err != nil {
		t.Fatalf("Synthesize: unexpected error: %v", err)
	}
	if samples != nil {
		t.Errorf("got %d samples, want nil", len(samples))
	}
}

func TestSynthesizeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	if _, err := p.Synthesize(context.Background(), "hi", 16000); err == nil {
		t.Fatal("Synthesize should return an error on HTTP 500")
	}
}

func TestSynthesizeInvalidWAV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not a wav file"))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	if _, err := p.Synthesize(context.Background(), "hi", 16000); err == nil {
		t.Fatal("Synthesize should return an error for a malformed WAV response")
	}
}

// ---- Synthesize, XTTS mode ----

func TestSynthesizeXTTSMode(t *testing.T) {
	pcm := constantPCM(160, -2000)

	var gotBody ttsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tts_to_audio/" {
			t.Errorf("request path = %q, want /tts_to_audio/", r.URL.Path)
		}
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, &gotBody); err != nil {
			t.Errorf("unmarshal request body: %v", err)
		}
		w.Write(buildTestWAV(pcm, 16000))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS), WithSpeaker("ref.wav"), WithLanguage("de"))
	samples, err := p.Synthesize(context.Background(), "Guten Tag.", 16000)
	if err != nil {
		t.Fatalf("Synthesize: unexpected error: %v", err)
	}

	if gotBody.Text != "Guten Tag." {
		t.Errorf("body text = %q, want %q", gotBody.Text, "Guten Tag.")
	}
	if gotBody.SpeakerWav != "ref.wav" {
		t.Errorf("body speaker_wav = %q, want ref.wav", gotBody.SpeakerWav)
	}
	if gotBody.Language != "de" {
		t.Errorf("body language = %q, want de", gotBody.Language)
	}
	if len(samples) != 160 {
		t.Errorf("got %d samples, want 160", len(samples))
	}
}

// ---- parseWAV ----

func TestParseWAVVariableFmtOffset(t *testing.T) {
	// Insert an extra LIST chunk between fmt and data to verify the chunk
	// walk does not assume a 44-byte header.
	pcm := constantPCM(4, 123)
	wav := buildTestWAV(pcm, 8000)

	// Splice a LIST chunk before the data chunk (which starts at offset 36).
	list := append([]byte("LIST"), 0x04, 0x00, 0x00, 0x00, 'I', 'N', 'F', 'O')
	spliced := append(append(append([]byte{}, wav[:36]...), list...), wav[36:]...)

	info, err := parseWAV(spliced)
	if err != nil {
		t.Fatalf("parseWAV: unexpected error: %v", err)
	}
	if info.SampleRate != 8000 {
		t.Errorf("sample rate = %d, want 8000", info.SampleRate)
	}
	if info.DataOffset != 36+len(list)+8 {
		t.Errorf("data offset = %d, want %d", info.DataOffset, 36+len(list)+8)
	}
}
