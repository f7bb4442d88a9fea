package audio

const (
	ulawBias = 0x84
	ulawClip = 32635
)

// UlawSilence is the μ-law code for a zero-amplitude sample. Telephony
// providers pad gaps with it.
const UlawSilence byte = 0xFF

// ulawDecode maps every μ-law code to its linear PCM value. Built once at
// package load; decode is a single index afterwards.
var ulawDecode [256]int16

// ulawEncode maps every 16-bit PCM value, offset by 32768, to its μ-law code.
// 64 KiB buys branch-free encode of full frames.
var ulawEncode [65536]byte

func init() {
	for i := range ulawDecode {
		ulawDecode[i] = decodeSample(byte(i))
	}
	for i := range ulawEncode {
		ulawEncode[i] = encodeSample(i - 32768)
	}
}

// decodeSample expands one μ-law code by the ITU-T G.711 closed form:
// complement, split into sign/exponent/mantissa, rebuild the biased magnitude.
func decodeSample(code byte) int16 {
	code = ^code
	sign := code & 0x80
	exponent := int(code>>4) & 0x07
	mantissa := int(code & 0x0F)
	magnitude := ((mantissa<<3 | ulawBias) << exponent) - ulawBias
	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

// encodeSample compresses one linear sample. Works in int so negating the
// most negative int16 cannot overflow before the clip.
func encodeSample(sample int) byte {
	sign := 0
	if sample < 0 {
		sign = 0x80
		sample = -sample
	}
	if sample > ulawClip {
		sample = ulawClip
	}
	sample += ulawBias

	exponent := 7
	for mask := 0x4000; sample&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (sample >> (exponent + 3)) & 0x0F
	return byte(^(sign | exponent<<4 | mantissa))
}

// DecodeUlaw expands a frame of μ-law codes to linear PCM at the telephony
// rate. Total over all byte values; an empty frame yields an empty buffer.
func DecodeUlaw(frame []byte) PCM8 {
	out := make(PCM8, len(frame))
	for i, c := range frame {
		out[i] = ulawDecode[c]
	}
	return out
}

// EncodeUlaw compresses linear telephony-rate PCM to μ-law codes. Amplitudes
// beyond the μ-law range are clamped, never wrapped.
func EncodeUlaw(samples PCM8) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = ulawEncode[int(s)+32768]
	}
	return out
}
