package audio

import "fmt"

// SampleCodec identifies a fixed-rate PCM-family wire encoding (distinct
// from Format, which identifies a container). Used for the narrowband
// G.711 path some telephony clients speak instead of raw s16le.
type SampleCodec string

const (
	SampleCodecPCM      SampleCodec = "pcm"
	SampleCodecG711Ulaw SampleCodec = "g711_ulaw"
	SampleCodecG711Alaw SampleCodec = "g711_alaw"
)

// DecodeToPCM16 converts an encoded sample codec to 16-bit s16le PCM bytes
// at the codec's native rate, resampling to targetRate when it differs.
// PCM input is taken to be at targetRate already and is returned unchanged.
func DecodeToPCM16(data []byte, codec SampleCodec, targetRate int) ([]byte, error) {
	switch codec {
	case SampleCodecPCM:
		return resamplePCM16(data, targetRate, targetRate), nil
	case SampleCodecG711Ulaw:
		return samplesToPCM16(decodeG711Ulaw(data), 8000, targetRate), nil
	case SampleCodecG711Alaw:
		return samplesToPCM16(decodeG711Alaw(data), 8000, targetRate), nil
	default:
		return nil, fmt.Errorf("audio: unsupported sample codec %q", codec)
	}
}

// resamplePCM16 is a no-op fast path when the rates already match.
func resamplePCM16(data []byte, srcRate, dstRate int) []byte {
	if srcRate == dstRate {
		return data
	}
	return samplesToPCM16(decodePCM(data), srcRate, dstRate)
}

// samplesToPCM16 resamples float32 [-1,1] samples to dstRate and encodes
// them back to s16le bytes.
func samplesToPCM16(samples []float32, srcRate, dstRate int) []byte {
	resampled := Resample(samples, srcRate, dstRate)
	return floatToPCM16(resampled)
}
