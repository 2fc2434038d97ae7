// Package mock provides a test double for the tts package interface.
//
// Use Provider to return controlled waveforms to the turn controller and
// inspect which texts were synthesised.
package mock

import (
	"context"
	"sync"

	"github.com/zentrylabs/zentry/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Provider.Synthesize.
type SynthesizeCall struct {
	// Text is the text passed to Synthesize.
	Text string
	// SampleRate is the sample rate passed to Synthesize.
	SampleRate int
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Samples is the waveform returned by Synthesize. If Fn is set it takes
	// precedence.
	Samples []float32

	// Fn, if non-nil, is invoked by Synthesize instead of returning Samples.
	Fn func(ctx context.Context, text string, sampleRate int) ([]float32, error)

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// SynthesizeCalls records every call to Synthesize.
	SynthesizeCalls []SynthesizeCall

	// IsClosed reports whether Close has been called.
	IsClosed bool
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)

// Synthesize records the call and returns Samples (or Fn's result), SynthesizeErr.
func (p *Provider) Synthesize(ctx context.Context, text string, sampleRate int) ([]float32, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, SampleRate: sampleRate})
	fn := p.Fn
	samples := p.Samples
	err := p.SynthesizeErr
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(ctx, text, sampleRate)
	}
	return samples, nil
}

// Close marks the provider as closed.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.IsClosed = true
	return nil
}

// Calls returns a snapshot of all recorded Synthesize calls. Thread-safe.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.SynthesizeCalls))
	copy(out, p.SynthesizeCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.IsClosed = false
}
