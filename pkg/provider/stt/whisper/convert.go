package whisper

import (
	"encoding/binary"

	"github.com/zentrylabs/zentry/pkg/audio"
)

// inferenceSamples brings a PCM buffer to the model's rate and converts it
// to the float32 form whisper.cpp consumes. Telephony calls deliver 8 kHz
// audio; everything below the model rate is upsampled here rather than
// rejected.
func inferenceSamples(pcm []byte, sampleRate, modelRate int) []float32 {
	if sampleRate != modelRate {
		pcm = audio.ResampleMono16(pcm, sampleRate, modelRate)
	}
	return pcmToFloat32(pcm)
}

// pcmToFloat32 converts 16-bit signed little-endian PCM audio to float32
// samples normalised to the range [-1.0, 1.0]. The input length must be
// even (two bytes per sample); any trailing odd byte is silently ignored.
func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}
