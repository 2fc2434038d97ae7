// Package stt defines the speech-to-text provider interface used by the
// call pipeline. Providers transcribe a complete utterance in one shot;
// utterance boundaries are decided upstream by the endpoint detector, so
// implementations never need to segment audio themselves.
package stt

import "context"

// Provider transcribes a finished utterance of 16-bit little-endian mono
// PCM audio into text.
//
// Transcribe must be safe for concurrent use: multiple calls can finish
// utterances at the same time. Implementations that wrap a non-reentrant
// engine should create a per-call context from a shared model rather than
// serialising callers.
type Provider interface {
	// Transcribe runs inference on the given PCM buffer recorded at
	// sampleRate Hz and returns the recognised text. An empty string with
	// a nil error means the audio contained no recognisable speech.
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)

	// Close releases any resources held by the provider (loaded models,
	// HTTP clients). The provider must not be used after Close.
	Close() error
}
