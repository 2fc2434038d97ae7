package audio

import (
	"context"
	"fmt"
	"time"
)

// SendFunc transmits one wire-ready chunk of audio. Transports supply this;
// they own the wire framing (JSON envelopes, base64, websocket messages).
type SendFunc func(ctx context.Context, chunk []byte) error

// Pacer slices an outbound PCM buffer into chunks of a fixed wall-clock
// duration and transmits them with an inter-chunk delay matching that
// duration, so the far end perceives real-time playback instead of a burst.
//
// Pacing is interruptible: Stream returns as soon as ctx is cancelled,
// without draining the remaining buffer.
type Pacer struct {
	// ChunkDuration is the wall-clock length of each transmitted chunk.
	ChunkDuration time.Duration

	// SampleRate is the rate of the PCM handed to Stream, in Hz.
	SampleRate int

	// BytesPerSample is 2 for linear PCM, 1 for mu-law.
	BytesPerSample int
}

// ChunkBytes returns the byte length of one chunk at the configured rate and
// sample width.
func (p *Pacer) ChunkBytes() int {
	samples := int(p.ChunkDuration * time.Duration(p.SampleRate) / time.Second)
	return samples * p.BytesPerSample
}

// Stream sends data through send in paced chunks. It returns ctx.Err() if the
// context is cancelled mid-stream, or the first send error. The final chunk
// may be shorter than ChunkBytes; no delay follows it.
func (p *Pacer) Stream(ctx context.Context, data []byte, send SendFunc) error {
	chunkBytes := p.ChunkBytes()
	if chunkBytes <= 0 {
		return fmt.Errorf("audio: pacer chunk size %d is invalid", chunkBytes)
	}

	timer := time.NewTimer(p.ChunkDuration)
	defer timer.Stop()
	if !timer.Stop() {
		<-timer.C
	}

	for offset := 0; offset < len(data); offset += chunkBytes {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := offset + chunkBytes
		if end > len(data) {
			end = len(data)
		}
		if err := send(ctx, data[offset:end]); err != nil {
			return fmt.Errorf("audio: paced send: %w", err)
		}

		if end == len(data) {
			break
		}
		timer.Reset(p.ChunkDuration)
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
