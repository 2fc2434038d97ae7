package resilience

import (
	"context"

	"github.com/zentrylabs/zentry/pkg/provider/brain"
	"github.com/zentrylabs/zentry/pkg/provider/stt"
	"github.com/zentrylabs/zentry/pkg/provider/tts"
)

// STTFailover implements [stt.Provider] with automatic failover across
// multiple transcription backends, each behind its own breaker.
type STTFailover struct {
	group *Group[stt.Provider]
}

var _ stt.Provider = (*STTFailover)(nil)

// NewSTTFailover creates an [STTFailover] with primary as the preferred
// backend.
func NewSTTFailover(primary stt.Provider, primaryName string, cfg GroupConfig) *STTFailover {
	return &STTFailover{group: NewGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional transcription backend.
func (f *STTFailover) AddFallback(name string, p stt.Provider) {
	f.group.Add(name, p)
}

// Transcribe runs the buffer through the first healthy backend.
func (f *STTFailover) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	return Do(f.group, func(p stt.Provider) (string, error) {
		return p.Transcribe(ctx, pcm, sampleRate)
	})
}

// Close closes every registered backend.
func (f *STTFailover) Close() error {
	return f.group.Each(func(_ string, p stt.Provider) error { return p.Close() })
}

// TTSFailover implements [tts.Provider] with automatic failover across
// multiple synthesis backends. Voices will differ between backends; a
// fallback that sounds different still beats a turn that dies.
type TTSFailover struct {
	group *Group[tts.Provider]
}

var _ tts.Provider = (*TTSFailover)(nil)

// NewTTSFailover creates a [TTSFailover] with primary as the preferred
// backend.
func NewTTSFailover(primary tts.Provider, primaryName string, cfg GroupConfig) *TTSFailover {
	return &TTSFailover{group: NewGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional synthesis backend.
func (f *TTSFailover) AddFallback(name string, p tts.Provider) {
	f.group.Add(name, p)
}

// Synthesize renders text through the first healthy backend.
func (f *TTSFailover) Synthesize(ctx context.Context, text string, sampleRate int) ([]float32, error) {
	return Do(f.group, func(p tts.Provider) ([]float32, error) {
		return p.Synthesize(ctx, text, sampleRate)
	})
}

// Close closes every registered backend.
func (f *TTSFailover) Close() error {
	return f.group.Each(func(_ string, p tts.Provider) error { return p.Close() })
}

// BrainFailover implements [brain.Provider] with automatic failover across
// multiple reasoning backends.
type BrainFailover struct {
	group *Group[brain.Provider]
}

var _ brain.Provider = (*BrainFailover)(nil)

// NewBrainFailover creates a [BrainFailover] with primary as the preferred
// backend.
func NewBrainFailover(primary brain.Provider, primaryName string, cfg GroupConfig) *BrainFailover {
	return &BrainFailover{group: NewGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional reasoning backend.
func (f *BrainFailover) AddFallback(name string, p brain.Provider) {
	f.group.Add(name, p)
}

// Respond asks the first healthy backend for the turn's reply.
func (f *BrainFailover) Respond(ctx context.Context, req brain.Request) (brain.Reply, error) {
	return Do(f.group, func(p brain.Provider) (brain.Reply, error) {
		return p.Respond(ctx, req)
	})
}

// Close closes every registered backend.
func (f *BrainFailover) Close() error {
	return f.group.Each(func(_ string, p brain.Provider) error { return p.Close() })
}
