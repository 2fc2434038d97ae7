package audio

import (
	"context"
	"time"
)

// Codec selects the wire encoding of an outbound audio stream.
type Codec string

const (
	// CodecPCM sends linear 16-bit PCM at the synthesis rate unchanged.
	// Used for transports that accept raw wideband audio.
	CodecPCM Codec = "pcm"

	// CodecMuLaw downsamples to 8 kHz and compands to 8-bit mu-law.
	// Used for narrowband telephony transports.
	CodecMuLaw Codec = "mulaw"
)

// IsValid reports whether c is a recognised codec.
func (c Codec) IsValid() bool {
	return c == CodecPCM || c == CodecMuLaw
}

// narrowbandRate is the sample rate of mu-law telephony audio.
const narrowbandRate = 8000

// OutStream converts and paces one turn's outbound audio. It owns the
// per-stream resampler continuation state, so create a fresh OutStream for
// each response and reuse it across that response's Play calls only.
type OutStream struct {
	codec Codec
	down  *Downsampler
	pacer Pacer
	send  SendFunc
}

// NewOutStream builds an OutStream for the given codec. synthRate is the rate
// of PCM handed to Play; chunk is the paced chunk duration on the wire.
func NewOutStream(codec Codec, synthRate int, chunk time.Duration, send SendFunc) *OutStream {
	s := &OutStream{codec: codec, send: send}
	switch codec {
	case CodecMuLaw:
		s.down = NewDownsampler(synthRate, narrowbandRate)
		s.pacer = Pacer{ChunkDuration: chunk, SampleRate: narrowbandRate, BytesPerSample: 1}
	default:
		s.pacer = Pacer{ChunkDuration: chunk, SampleRate: synthRate, BytesPerSample: 2}
	}
	return s
}

// Play converts pcm to the wire codec and transmits it paced. It returns
// ctx.Err() if cancelled mid-stream.
func (s *OutStream) Play(ctx context.Context, pcm []byte) error {
	wire := pcm
	if s.codec == CodecMuLaw {
		wire = EncodeMuLaw(s.down.Process(pcm))
	}
	if len(wire) == 0 {
		return nil
	}
	return s.pacer.Stream(ctx, wire, s.send)
}
