// Package vad defines the Engine interface for speech-probability models.
//
// A VAD engine wraps a frame-level speech scorer (e.g., Silero VAD) and
// surfaces it as a stateful, per-call session. Each session maintains its own
// recurrent hidden state so that many concurrent calls can be scored
// independently.
//
// Scoring is synchronous by design: ProcessWindow returns immediately with a
// probability, making it suitable for the low-latency endpoint-detection loop
// that gates every audio frame of a call.
//
// Implementations must be safe for concurrent use across different sessions.
// A single Session must not be shared across goroutines; the endpoint
// detector drives it from the call's ingestion goroutine only.
package vad

import "fmt"

// Supported analysis window sizes, in samples. The Silero model family scores
// 32 ms windows: 512 samples at 16 kHz, 256 at 8 kHz.
const (
	WindowSamples16k = 512
	WindowSamples8k  = 256
)

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Supported: 8000, 16000.
	SampleRate int

	// WindowSamples is the analysis window size in samples. Zero selects the
	// default for the sample rate.
	WindowSamples int
}

// Normalize fills defaults and validates the configuration.
func (c *Config) Normalize() error {
	switch c.SampleRate {
	case 16000:
		if c.WindowSamples == 0 {
			c.WindowSamples = WindowSamples16k
		}
	case 8000:
		if c.WindowSamples == 0 {
			c.WindowSamples = WindowSamples8k
		}
	default:
		return fmt.Errorf("vad: unsupported sample rate %d (want 8000 or 16000)", c.SampleRate)
	}
	return nil
}

// Session is an active speech scorer for a single call's audio stream. Its
// recurrent hidden state is carried from window to window; Reset zeroes it.
type Session interface {
	// ProcessWindow scores one complete analysis window of normalized
	// float32 samples in [-1, 1] and returns the speech probability in
	// [0, 1]. The window length must equal the configured WindowSamples.
	//
	// Called synchronously from the call's audio loop; it must not block on
	// anything slower than the model inference itself.
	ProcessWindow(window []float32) (float64, error)

	// Reset zeroes the recurrent hidden state without closing the session.
	// The endpoint detector calls this whenever an utterance is finalized so
	// no state leaks across utterances.
	Reset()

	// Close releases the session's resources. Calling Close more than once
	// is safe.
	Close() error
}

// Engine is the factory for VAD sessions, one per process. Implementations
// must be safe for concurrent NewSession calls from many call handlers.
type Engine interface {
	// NewSession creates an independent scoring session. Returns an error if
	// the configuration is invalid or session resources cannot be allocated.
	NewSession(cfg Config) (Session, error)

	// Close releases the engine and all model resources. No sessions may be
	// created afterwards.
	Close() error
}
