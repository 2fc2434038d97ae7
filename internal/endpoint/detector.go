// Package endpoint turns a continuous per-call audio stream into discrete
// turn-taking events: the onset of caller speech (a barge-in signal) and the
// completed utterance that follows once the caller trails off into silence.
//
// The detector consumes raw 16-bit linear PCM in arbitrary chunk sizes,
// buffers them into fixed analysis windows, and classifies each window with a
// hybrid policy: a model probability gated by a minimum-energy floor, plus an
// energy-only force trigger that recovers speech the model under-scores
// (upsampled narrowband audio in particular). One Detector serves one call
// and must only be driven from that call's ingestion goroutine.
package endpoint

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/zentrylabs/zentry/pkg/provider/vad"
)

// EventKind classifies the outcome of one Process call.
type EventKind int

const (
	// EventNone: nothing happened; keep feeding audio.
	EventNone EventKind = iota

	// EventBargeIn: the caller just started speaking. If a response is
	// playing, it should be cancelled.
	EventBargeIn

	// EventUtterance: a complete utterance was finalized and is ready for
	// transcription.
	EventUtterance
)

// Event is the result of processing one audio chunk. Utterance is non-nil
// only when Kind is EventUtterance.
type Event struct {
	Kind      EventKind
	Utterance []byte
}

// Config tunes the detector. Zero fields take the defaults below, which were
// tuned against narrowband phone microphones.
type Config struct {
	// SampleRate of the incoming PCM in Hz. Supported: 8000, 16000.
	SampleRate int

	// SpeechThreshold is the model probability above which a window may be
	// classified as speech. Default 0.5.
	SpeechThreshold float64

	// MinEnergy is the mean-absolute-amplitude floor (normalized to [0, 1])
	// a window must clear in addition to the probability threshold.
	// Suppresses line-noise false positives. Default 0.012.
	MinEnergy float64

	// ForceEnergy is the energy level at which a window counts as speech
	// regardless of the model's score. Default 0.05.
	ForceEnergy float64

	// EndpointSilence is the run of continuous non-speech that finalizes an
	// utterance. Default 600 ms.
	EndpointSilence time.Duration

	// MaxUtterance caps a single utterance's duration; a buffer reaching it
	// is force-finalized without waiting for silence. Default 12 s.
	MaxUtterance time.Duration
}

func (c *Config) withDefaults() {
	if c.SpeechThreshold == 0 {
		c.SpeechThreshold = 0.5
	}
	if c.MinEnergy == 0 {
		c.MinEnergy = 0.012
	}
	if c.ForceEnergy == 0 {
		c.ForceEnergy = 0.05
	}
	if c.EndpointSilence == 0 {
		c.EndpointSilence = 600 * time.Millisecond
	}
	if c.MaxUtterance == 0 {
		c.MaxUtterance = 12 * time.Second
	}
}

// Detector is the per-call endpoint detection state machine.
type Detector struct {
	cfg   Config
	model vad.Session

	windowBytes       int
	maxSilenceWindows int
	maxUtteranceBytes int

	buf        []byte // partial window awaiting completion
	speech     []byte // in-progress utterance
	inSpeech   bool
	silenceRun int

	scratch     []float32
	inferFailed bool // first-failure log guard
}

// New creates a Detector driving the given model session. The session's
// window size must match the sample rate (Config.Normalize on the vad side);
// the detector derives its window from the rate.
func New(model vad.Session, cfg Config) (*Detector, error) {
	vcfg := vad.Config{SampleRate: cfg.SampleRate}
	if err := vcfg.Normalize(); err != nil {
		return nil, fmt.Errorf("endpoint: %w", err)
	}
	cfg.withDefaults()

	windowDur := time.Duration(vcfg.WindowSamples) * time.Second / time.Duration(cfg.SampleRate)
	d := &Detector{
		cfg:               cfg,
		model:             model,
		windowBytes:       vcfg.WindowSamples * 2,
		maxSilenceWindows: int(cfg.EndpointSilence / windowDur),
		maxUtteranceBytes: int(cfg.MaxUtterance.Seconds() * float64(cfg.SampleRate) * 2),
		scratch:           make([]float32, vcfg.WindowSamples),
	}
	return d, nil
}

// Process feeds one chunk of 16-bit PCM through the state machine. Chunk
// sizes are arbitrary; incomplete analysis windows are buffered internally.
//
// At most one event is returned per call. When a chunk holds more than one
// event, the windows past the first stay buffered and surface on the next
// Process, so a force-finalized utterance is never swallowed by a speech
// onset later in the same chunk.
func (d *Detector) Process(chunk []byte) Event {
	d.buf = append(d.buf, chunk...)

	var utterance []byte
	bargeIn := false

	for len(d.buf) >= d.windowBytes {
		window := d.buf[:d.windowBytes]
		d.buf = d.buf[d.windowBytes:]

		energy := d.toFloat(window)
		prob := d.score()

		isSpeech := (prob > d.cfg.SpeechThreshold && energy >= d.cfg.MinEnergy) ||
			energy >= d.cfg.ForceEnergy

		switch {
		case isSpeech && !d.inSpeech:
			// Rising edge: new utterance begins, prior partial buffer is
			// discarded.
			d.inSpeech = true
			bargeIn = true
			d.speech = d.speech[:0]
			d.speech = append(d.speech, window...)
			d.silenceRun = 0

		case isSpeech:
			d.speech = append(d.speech, window...)
			d.silenceRun = 0

		case d.inSpeech:
			// Trailing audio stays in the buffer so the utterance is not
			// clipped mid-word.
			d.speech = append(d.speech, window...)
			d.silenceRun++
			if d.silenceRun > d.maxSilenceWindows {
				utterance = d.finalize()
			}
		}

		// Safety cutoff: bound worst-case latency and memory even when the
		// caller never stops talking.
		if d.inSpeech && len(d.speech) >= d.maxUtteranceBytes {
			utterance = d.finalize()
		}

		if bargeIn || utterance != nil {
			break
		}
	}

	if bargeIn {
		return Event{Kind: EventBargeIn}
	}
	if utterance != nil {
		return Event{Kind: EventUtterance, Utterance: utterance}
	}
	return Event{}
}

// Reset clears all detector state, including the model's hidden state. Used
// when a call's audio stream is torn down or restarted.
func (d *Detector) Reset() {
	d.buf = d.buf[:0]
	d.speech = d.speech[:0]
	d.inSpeech = false
	d.silenceRun = 0
	d.model.Reset()
}

// finalize snapshots the speech buffer as a completed utterance and resets
// the per-utterance state, including the model's recurrent state so nothing
// bleeds into the next utterance.
func (d *Detector) finalize() []byte {
	utterance := make([]byte, len(d.speech))
	copy(utterance, d.speech)
	d.speech = d.speech[:0]
	d.inSpeech = false
	d.silenceRun = 0
	d.model.Reset()
	return utterance
}

// toFloat converts the window into the scratch buffer as normalized float32
// samples and returns the window's mean absolute amplitude.
func (d *Detector) toFloat(window []byte) float64 {
	var sum float64
	for i := range d.scratch {
		s := int16(window[i*2]) | int16(window[i*2+1])<<8
		f := float32(s) / 32768
		d.scratch[i] = f
		if f < 0 {
			sum -= float64(f)
		} else {
			sum += float64(f)
		}
	}
	return sum / float64(len(d.scratch))
}

// score runs the model on the scratch window. Inference failure is treated as
// probability 0 so a broken model can never stall the call; the energy force
// trigger still fires on loud audio.
func (d *Detector) score() float64 {
	prob, err := d.model.ProcessWindow(d.scratch)
	if err != nil {
		if !d.inferFailed {
			d.inferFailed = true
			slog.Warn("vad inference failing, continuing on energy only", "err", err)
		}
		return 0
	}
	return prob
}
