// Package audio converts between the two audio formats a voice call moves
// through: 8 kHz G.711 mu-law on the telephony leg and 24 kHz little-endian
// 16-bit PCM on the realtime AI leg.
package audio

// G.711 mu-law companding constants.
const (
	muLawBias = 0x84  // 132, added before segment search
	muLawClip = 32635 // max magnitude before bias would overflow
)

// muLawDecodeTable maps each mu-law byte to its linear PCM16 value. Built
// once at init from the inverse of the encoder so the two stay consistent.
var muLawDecodeTable [256]int16

func init() {
	for i := range muLawDecodeTable {
		muLawDecodeTable[i] = decodeMuLawSample(byte(i))
	}
}

// EncodeMuLawSample compands a single linear PCM16 sample to a mu-law byte.
func EncodeMuLawSample(sample int16) byte {
	sign := byte(0)
	s := int32(sample)
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > muLawClip {
		s = muLawClip
	}
	s += muLawBias

	// Segment search: exponent is the position of the highest set bit
	// above bit 7.
	exponent := byte(7)
	for mask := int32(0x4000); mask != 0 && s&mask == 0; mask >>= 1 {
		exponent--
	}

	mantissa := byte((s >> (exponent + 3)) & 0x0F)
	return ^(sign | exponent<<4 | mantissa)
}

// DecodeMuLawSample expands a mu-law byte to a linear PCM16 sample.
func DecodeMuLawSample(b byte) int16 {
	return muLawDecodeTable[b]
}

func decodeMuLawSample(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F

	magnitude := (int32(mantissa)<<3 + muLawBias) << exponent
	magnitude -= muLawBias
	if sign != 0 {
		magnitude = -magnitude
	}
	return int16(magnitude)
}

// DecodeMuLaw expands a mu-law byte stream to little-endian PCM16.
// The output is exactly twice the input length.
func DecodeMuLaw(data []byte) []byte {
	out := make([]byte, len(data)*2)
	for i, b := range data {
		s := muLawDecodeTable[b]
		out[i*2] = byte(s)
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}

// EncodeMuLaw compands little-endian PCM16 to a mu-law byte stream.
// A trailing odd byte is ignored. The output is half the input length.
func EncodeMuLaw(pcm []byte) []byte {
	samples := len(pcm) / 2
	out := make([]byte, samples)
	for i := range samples {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = EncodeMuLawSample(s)
	}
	return out
}
