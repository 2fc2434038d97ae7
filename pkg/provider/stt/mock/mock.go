// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to feed controlled transcripts to the turn controller and
// inspect which utterances were delivered for transcription.
//
// Example:
//
//	p := &mock.Provider{Text: "hello there"}
//	text, _ := p.Transcribe(ctx, pcm, 16000)
package mock

import (
	"context"
	"sync"

	"github.com/zentrylabs/zentry/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// PCM is a copy of the audio bytes that were passed to Transcribe.
	PCM []byte
	// SampleRate is the sample rate passed to Transcribe.
	SampleRate int
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is the transcript returned by Transcribe. If Fn is set it takes
	// precedence.
	Text string

	// Fn, if non-nil, is invoked by Transcribe instead of returning Text.
	Fn func(ctx context.Context, pcm []byte, sampleRate int) (string, error)

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall

	// IsClosed reports whether Close has been called.
	IsClosed bool
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// Transcribe records the call and returns Text (or Fn's result), TranscribeErr.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	p.mu.Lock()
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{PCM: buf, SampleRate: sampleRate})
	fn := p.Fn
	text := p.Text
	err := p.TranscribeErr
	p.mu.Unlock()

	if err != nil {
		return "", err
	}
	if fn != nil {
		return fn(ctx, pcm, sampleRate)
	}
	return text, nil
}

// Close marks the provider as closed.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.IsClosed = true
	return nil
}

// Calls returns a snapshot of all recorded Transcribe calls. Thread-safe.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TranscribeCall, len(p.TranscribeCalls))
	copy(out, p.TranscribeCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
	p.IsClosed = false
}
