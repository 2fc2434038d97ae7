package endpoint_test

import (
	"errors"
	"testing"
	"time"

	"github.com/zentrylabs/zentry/internal/endpoint"
	"github.com/zentrylabs/zentry/pkg/provider/vad"
	vadmock "github.com/zentrylabs/zentry/pkg/provider/vad/mock"
)

const (
	sampleRate  = 16000
	windowBytes = vad.WindowSamples16k * 2 // 1024
)

// energyScore mimics a well-behaved model: windows with audible content score
// high, quiet windows score low.
func energyScore(window []float32) (float64, error) {
	var sum float64
	for _, f := range window {
		if f < 0 {
			f = -f
		}
		sum += float64(f)
	}
	if sum/float64(len(window)) > 0.02 {
		return 0.9, nil
	}
	return 0.05, nil
}

// pcmWindows returns n analysis windows of constant-amplitude PCM.
func pcmWindows(n int, amplitude int16) []byte {
	buf := make([]byte, n*windowBytes)
	for i := 0; i < len(buf); i += 2 {
		buf[i] = byte(amplitude)
		buf[i+1] = byte(amplitude >> 8)
	}
	return buf
}

// feed pushes pcm through the detector in 640-byte chunks (20 ms network
// frames) and collects all non-None events.
func feed(t *testing.T, d *endpoint.Detector, pcm []byte) []endpoint.Event {
	t.Helper()
	var events []endpoint.Event
	for offset := 0; offset < len(pcm); offset += 640 {
		end := min(offset+640, len(pcm))
		if ev := d.Process(pcm[offset:end]); ev.Kind != endpoint.EventNone {
			events = append(events, ev)
		}
	}
	return events
}

func newDetector(t *testing.T, eng *vadmock.Engine, cfg endpoint.Config) (*endpoint.Detector, *vadmock.Session) {
	t.Helper()
	sess, err := eng.NewSession(vad.Config{SampleRate: sampleRate})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = sampleRate
	}
	d, err := endpoint.New(sess, cfg)
	if err != nil {
		t.Fatalf("endpoint.New: %v", err)
	}
	return d, sess.(*vadmock.Session)
}

func TestAllSilenceEmitsNothing(t *testing.T) {
	d, _ := newDetector(t, &vadmock.Engine{Score: energyScore}, endpoint.Config{})

	events := feed(t, d, pcmWindows(200, 0)) // ~6.4 s of silence
	if len(events) != 0 {
		t.Fatalf("silence produced %d events, want 0", len(events))
	}
}

func TestSpeechBurstThenSilence(t *testing.T) {
	d, sess := newDetector(t, &vadmock.Engine{Score: energyScore}, endpoint.Config{})

	const speechWindows = 32 // ~1 s
	pcm := append(pcmWindows(speechWindows, 5000), pcmWindows(40, 0)...) // > 600 ms trailing silence
	events := feed(t, d, pcm)

	if len(events) != 2 {
		t.Fatalf("got %d events, want BargeIn + Utterance", len(events))
	}
	if events[0].Kind != endpoint.EventBargeIn {
		t.Errorf("first event: got %v, want BargeIn", events[0].Kind)
	}
	if events[1].Kind != endpoint.EventUtterance {
		t.Fatalf("second event: got %v, want Utterance", events[1].Kind)
	}

	// The utterance holds the speech plus the consumed silence run, within
	// one window of slack. Default endpoint silence 600 ms at 32 ms windows
	// is 18 windows; finalization fires on the 19th.
	gotWindows := len(events[1].Utterance) / windowBytes
	wantWindows := speechWindows + 19
	if gotWindows < wantWindows-1 || gotWindows > wantWindows+1 {
		t.Errorf("utterance spans %d windows, want %d±1", gotWindows, wantWindows)
	}

	// Finalization must zero the model's recurrent state.
	if sess.Resets != 1 {
		t.Errorf("model resets: got %d, want 1", sess.Resets)
	}
}

func TestMaxUtteranceForceCut(t *testing.T) {
	d, _ := newDetector(t, &vadmock.Engine{Score: energyScore}, endpoint.Config{
		MaxUtterance: time.Second,
	})

	// 2 s of continuous speech, then trailing silence: the cap splits it
	// into two utterances with a fresh barge-in between them.
	pcm := append(pcmWindows(62, 5000), pcmWindows(40, 0)...)
	events := feed(t, d, pcm)

	var kinds []endpoint.EventKind
	var utterances [][]byte
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
		if ev.Kind == endpoint.EventUtterance {
			utterances = append(utterances, ev.Utterance)
		}
	}

	want := []endpoint.EventKind{
		endpoint.EventBargeIn, endpoint.EventUtterance,
		endpoint.EventBargeIn, endpoint.EventUtterance,
	}
	if len(kinds) != len(want) {
		t.Fatalf("got events %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event %d: got %v, want %v", i, kinds[i], want[i])
		}
	}

	// First utterance is cut at the cap with no trailing silence: one second
	// is 31.25 windows, so the cut lands on the 32nd window.
	if got := len(utterances[0]) / windowBytes; got != 32 {
		t.Errorf("force-cut utterance spans %d windows, want 32", got)
	}
	// Second utterance is fresh, not a continuation.
	if len(utterances[1]) >= len(utterances[0])+len(pcm)/2 {
		t.Errorf("second utterance looks concatenated: %d bytes", len(utterances[1]))
	}
}

func TestForceCutSurvivesOnsetInSameChunk(t *testing.T) {
	d, _ := newDetector(t, &vadmock.Engine{Score: energyScore}, endpoint.Config{
		MaxUtterance: time.Second,
	})

	// Prime an utterance, then deliver one oversized chunk that crosses the
	// cap with more speech behind it. The force-cut utterance must come out
	// of that call; the leftover speech surfaces as a fresh barge-in on the
	// next one.
	if ev := d.Process(pcmWindows(1, 5000)); ev.Kind != endpoint.EventBargeIn {
		t.Fatalf("priming chunk: got %v, want BargeIn", ev.Kind)
	}

	ev := d.Process(pcmWindows(40, 5000))
	if ev.Kind != endpoint.EventUtterance {
		t.Fatalf("cap chunk: got %v, want Utterance", ev.Kind)
	}
	if got := len(ev.Utterance) / windowBytes; got != 32 {
		t.Errorf("force-cut utterance spans %d windows, want 32", got)
	}

	if ev := d.Process(nil); ev.Kind != endpoint.EventBargeIn {
		t.Fatalf("buffered speech after the cut: got %v, want BargeIn", ev.Kind)
	}
}

func TestHybridPolicy_LowEnergySuppressesModel(t *testing.T) {
	// Model is convinced everything is speech; energy floor must veto it.
	always := &vadmock.Engine{Score: func([]float32) (float64, error) { return 0.99, nil }}
	d, _ := newDetector(t, always, endpoint.Config{})

	events := feed(t, d, pcmWindows(100, 100)) // amplitude 100 ≈ 0.003 energy
	if len(events) != 0 {
		t.Fatalf("line noise produced %d events, want 0", len(events))
	}
}

func TestHybridPolicy_ForceEnergyOverridesModelFailure(t *testing.T) {
	// Model is broken; loud audio must still be detected via the energy
	// force trigger.
	broken := &vadmock.Engine{Score: func([]float32) (float64, error) {
		return 0, errors.New("onnx session lost")
	}}
	d, _ := newDetector(t, broken, endpoint.Config{})

	pcm := append(pcmWindows(32, 4000), pcmWindows(40, 0)...) // energy ≈ 0.12
	events := feed(t, d, pcm)

	if len(events) != 2 || events[0].Kind != endpoint.EventBargeIn || events[1].Kind != endpoint.EventUtterance {
		t.Fatalf("broken model suppressed detection: events %v", events)
	}
}

func TestPartialWindowBuffering(t *testing.T) {
	d, sess := newDetector(t, &vadmock.Engine{Score: energyScore}, endpoint.Config{})

	// Feed 100 bytes at a time: no chunk holds a complete window, so the
	// detector must assemble them internally.
	pcm := pcmWindows(4, 5000)
	for offset := 0; offset < len(pcm); offset += 100 {
		end := min(offset+100, len(pcm))
		d.Process(pcm[offset:end])
	}
	if sess.Windows != 4 {
		t.Errorf("model saw %d windows, want 4", sess.Windows)
	}
}

func TestRejectsUnsupportedSampleRate(t *testing.T) {
	eng := &vadmock.Engine{}
	sess, _ := eng.NewSession(vad.Config{SampleRate: 16000})
	if _, err := endpoint.New(sess, endpoint.Config{SampleRate: 44100}); err == nil {
		t.Fatal("expected error for 44100 Hz")
	}
}
