// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., a local Coqui
// server or the OpenAI speech API) and presents a uniform batch interface.
// The pipeline synthesises one agent reply at a time and paces the result
// onto the telephone leg itself, so providers return the complete waveform
// rather than a stream.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis
// requests may run in parallel (one per active call).
type Provider interface {
	// Synthesize renders text as mono float32 samples in [-1.0, 1.0] at
	// sampleRate Hz, resampling from the model's native rate if necessary.
	//
	// A nil or empty waveform with a nil error means the backend produced
	// no audio for this text; callers should treat that as an aborted
	// reply rather than an error.
	Synthesize(ctx context.Context, text string, sampleRate int) ([]float32, error)

	// Close releases any resources held by the provider. The provider must
	// not be used after Close.
	Close() error
}
