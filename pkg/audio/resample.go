package audio

// Upsample8to16 doubles the sample rate by linear interpolation: each input
// sample keeps its position and the inserted sample is the mean of it and its
// successor (the final inserted sample repeats the last input, which has no
// successor). Interpolation was chosen over zero-order hold: it costs one add
// and shift per inserted sample and avoids the stair-step aliasing that
// duplication introduces. Output is always exactly twice the input length.
func Upsample8to16(in PCM8) PCM16 {
	out := make(PCM16, 2*len(in))
	for i, s := range in {
		out[2*i] = s
		if i+1 < len(in) {
			out[2*i+1] = int16((int32(s) + int32(in[i+1])) / 2)
		} else {
			out[2*i+1] = s
		}
	}
	return out
}

// Downsample24to8 drops the rate to a third by decimation: every 3rd sample
// is kept, the rest discarded. No anti-alias filter runs before the drop; the
// upstream speech synthesis rolls off well below 4 kHz in practice. A
// trailing partial group of one or two samples is discarded, so the output
// length is ⌊len(in)/3⌋.
func Downsample24to8(in PCM24) PCM8 {
	out := make(PCM8, len(in)/3)
	for i := range out {
		out[i] = in[i*3]
	}
	return out
}
