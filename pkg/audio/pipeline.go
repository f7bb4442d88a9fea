package audio

// UplinkPCM converts one companded telephony frame into the little-endian
// 16 kHz PCM bytes the AI session consumes. Pure function; an empty frame
// yields an empty chunk.
func UplinkPCM(frame []byte) []byte {
	return Upsample8to16(DecodeUlaw(frame)).Bytes()
}

// DownlinkFrame converts one 24 kHz PCM chunk from the AI session into a
// companded telephony frame. The chunk is trusted to be 24 kHz; the rate is
// a protocol contract, not something the bytes can reveal. A byte length
// that cannot hold whole samples is malformed and reported as an error so
// the caller can drop the chunk.
func DownlinkFrame(chunk []byte) ([]byte, error) {
	pcm, err := PCM24FromBytes(chunk)
	if err != nil {
		return nil, err
	}
	return EncodeUlaw(Downsample24to8(pcm)), nil
}
