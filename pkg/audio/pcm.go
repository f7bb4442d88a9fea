// Package audio implements the fixed audio path between the telephony leg and
// the AI session leg: G.711 μ-law companding at 8 kHz, the two fixed-ratio
// sample-rate conversions (8→16 kHz up, 24→8 kHz down), and the composed
// transcoding pipelines.
//
// PCM buffers carry their sample rate in the type, not in a struct field.
// Nothing on either wire self-describes its rate, so the compiler is the only
// place the invariant can live: a PCM24 buffer cannot be passed where a PCM8
// is expected.
package audio

import (
	"encoding/binary"
	"errors"
)

// PCM8 is linear 16-bit mono PCM at 8 kHz (the telephony rate).
type PCM8 []int16

// PCM16 is linear 16-bit mono PCM at 16 kHz (the AI session input rate).
type PCM16 []int16

// PCM24 is linear 16-bit mono PCM at 24 kHz (the AI session output rate).
type PCM24 []int16

// ErrOddPCMBytes reports a PCM byte buffer whose length is not a multiple of
// 2 and therefore cannot contain whole int16 samples.
var ErrOddPCMBytes = errors.New("audio: pcm byte length is not a multiple of 2")

func samplesToBytes[S ~[]int16](samples S) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func samplesFromBytes[S ~[]int16](b []byte) (S, error) {
	if len(b)%2 != 0 {
		return nil, ErrOddPCMBytes
	}
	samples := make(S, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples, nil
}

// Bytes returns the samples as little-endian 16-bit PCM.
func (p PCM8) Bytes() []byte { return samplesToBytes(p) }

// Bytes returns the samples as little-endian 16-bit PCM.
func (p PCM16) Bytes() []byte { return samplesToBytes(p) }

// Bytes returns the samples as little-endian 16-bit PCM.
func (p PCM24) Bytes() []byte { return samplesToBytes(p) }

// PCM16FromBytes parses little-endian 16-bit PCM at 16 kHz.
// Returns ErrOddPCMBytes for a buffer that cannot hold whole samples.
func PCM16FromBytes(b []byte) (PCM16, error) { return samplesFromBytes[PCM16](b) }

// PCM24FromBytes parses little-endian 16-bit PCM at 24 kHz.
// Returns ErrOddPCMBytes for a buffer that cannot hold whole samples.
func PCM24FromBytes(b []byte) (PCM24, error) { return samplesFromBytes[PCM24](b) }
