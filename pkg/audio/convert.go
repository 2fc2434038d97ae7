// Package audio implements the codec and rate-conversion layer that bridges
// the synthesis stack (16 kHz linear PCM, float32 waveforms) to narrowband
// telephony transports (8 kHz mu-law), plus the real-time pacing of outbound
// audio. All PCM in this package is little-endian signed 16-bit mono unless a
// function documents otherwise.
package audio

import "math"

// PCM16FromFloat32 converts a normalized float32 waveform in [-1, 1] to
// little-endian 16-bit signed PCM. Samples outside the range are clipped.
// An empty or all-silent waveform returns nil so callers can skip the
// outbound stream entirely.
func PCM16FromFloat32(waveform []float32) []byte {
	if len(waveform) == 0 {
		return nil
	}
	silent := true
	out := make([]byte, len(waveform)*2)
	for i, f := range waveform {
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		if f != 0 {
			silent = false
		}
		s := int16(math.Round(float64(f) * 32767))
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	if silent {
		return nil
	}
	return out
}

// Downsampler converts 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. Unlike a one-shot resample, a Downsampler carries its
// fractional read position and the trailing sample across successive Process
// calls, so feeding a long stream chunk by chunk produces the same samples as
// resampling it in one piece — no clicks at chunk boundaries.
//
// Create one Downsampler per outbound stream; it is not safe for concurrent
// use.
type Downsampler struct {
	srcRate int
	dstRate int

	ratio  float64
	pos    float64 // fractional position into the carried-over source window
	prev   int16   // last source sample of the previous chunk
	primed bool
}

// NewDownsampler returns a Downsampler from srcRate to dstRate. Rates must be
// positive; equal rates yield a pass-through.
func NewDownsampler(srcRate, dstRate int) *Downsampler {
	return &Downsampler{
		srcRate: srcRate,
		dstRate: dstRate,
		ratio:   float64(srcRate) / float64(dstRate),
	}
}

// Process resamples the next chunk of the stream. The input must contain
// whole samples (even byte count); a trailing odd byte is dropped.
func (d *Downsampler) Process(pcm []byte) []byte {
	if d.srcRate == d.dstRate {
		return pcm
	}
	n := len(pcm) / 2
	if n == 0 {
		return nil
	}

	// Assemble the working window: the carried sample (if any) followed by
	// the new chunk's samples.
	offset := 0
	if d.primed {
		offset = 1
	}
	samples := make([]int16, n+offset)
	if d.primed {
		samples[0] = d.prev
	}
	for i := range n {
		samples[i+offset] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}

	out := make([]byte, 0, int(float64(n)/d.ratio)*2+2)
	for {
		idx := int(d.pos)
		if idx+1 >= len(samples) {
			break
		}
		frac := d.pos - float64(idx)
		s := int16(float64(samples[idx])*(1-frac) + float64(samples[idx+1])*frac)
		out = append(out, byte(s), byte(s>>8))
		d.pos += d.ratio
	}

	// Carry the last sample into the next chunk and rebase the position.
	d.prev = samples[len(samples)-1]
	d.pos -= float64(len(samples) - 1)
	d.primed = true
	return out
}

// Reset clears the continuation state so the Downsampler can start a fresh
// stream.
func (d *Downsampler) Reset() {
	d.pos = 0
	d.prev = 0
	d.primed = false
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate in one
// shot using linear interpolation. For streamed audio use a [Downsampler]
// instead so chunk boundaries stay artifact-free.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}
