package audio

import "bytes"

// Format identifies the container/encoding of an incoming audio stream,
// detected once per session from the first bytes received.
type Format string

const (
	FormatPCM     Format = "pcm"
	FormatWebM    Format = "webm"
	FormatOgg     Format = "ogg"
	FormatUnknown Format = "unknown"
)

var (
	magicEBML = []byte{0x1A, 0x45, 0xDF, 0xA3}
	magicOgg  = []byte("OggS")
	magicRIFF = []byte("RIFF")
	magicWAVE = []byte("WAVE")
	magicID3  = []byte("ID3")
	magicFtyp = []byte("ftyp")
	magicFLAC = []byte("fLaC")
	magicForm = []byte("FORM")
)

// DetectFormat classifies the first bytes of a stream by magic number.
// Unsupported containers (MP3/MP4/FLAC/AIFF) are an explicit UNKNOWN
// rejection rather than falling through to PCM, so they are never fed
// to the PCM path by a caller that only checks for an error.
func DetectFormat(head []byte) Format {
	if len(head) < 4 {
		return FormatPCM
	}

	switch {
	case bytes.HasPrefix(head, magicEBML):
		return FormatWebM
	case bytes.HasPrefix(head, magicOgg):
		return FormatOgg
	case bytes.HasPrefix(head, magicRIFF):
		if len(head) >= 12 && bytes.Equal(head[8:12], magicWAVE) {
			return FormatPCM
		}
		return FormatPCM
	case bytes.HasPrefix(head, magicID3):
		return FormatUnknown
	case isMP3FrameSync(head):
		return FormatUnknown
	case len(head) >= 8 && bytes.Equal(head[4:8], magicFtyp):
		return FormatUnknown
	case bytes.HasPrefix(head, magicFLAC):
		return FormatUnknown
	case bytes.HasPrefix(head, magicForm):
		return FormatUnknown
	default:
		return FormatPCM
	}
}

// isMP3FrameSync checks for an MPEG audio frame sync (11 set bits).
func isMP3FrameSync(head []byte) bool {
	return len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0
}
