package audio

// G.711 mu-law companding. Telephony transports that carry 8-bit mu-law
// (Twilio media streams, most SIP trunks) expect this exact encoding; the
// constants are from the G.711 specification.

const (
	muLawBias = 0x84 // 132: shifts the encoder out of the zero-crossing region
	muLawClip = 32635
)

// LinearToMuLaw compands a single 16-bit linear PCM sample to 8-bit mu-law.
func LinearToMuLaw(sample int16) byte {
	sign := byte(0)
	v := int32(sample)
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > muLawClip {
		v = muLawClip
	}
	v += muLawBias

	exp := byte(7)
	for mask := int32(0x4000); v&mask == 0 && exp > 0; mask >>= 1 {
		exp--
	}
	mant := byte((v >> (uint(exp) + 3)) & 0x0F)
	return ^(sign | exp<<4 | mant)
}

// MuLawToLinear expands a single 8-bit mu-law sample to 16-bit linear PCM.
func MuLawToLinear(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exp := (u >> 4) & 0x07
	mant := u & 0x0F
	v := (int32(mant)<<3 + muLawBias) << exp
	v -= muLawBias
	if sign != 0 {
		return int16(-v)
	}
	return int16(v)
}

// EncodeMuLaw compands little-endian 16-bit PCM to 8-bit mu-law, halving the
// byte count. A trailing odd byte is dropped.
func EncodeMuLaw(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := range out {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = LinearToMuLaw(s)
	}
	return out
}

// DecodeMuLaw expands 8-bit mu-law to little-endian 16-bit PCM, doubling the
// byte count.
func DecodeMuLaw(ulaw []byte) []byte {
	out := make([]byte, len(ulaw)*2)
	for i, u := range ulaw {
		s := MuLawToLinear(u)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
