package audio

import "testing"

func TestDetectFormatRIFFWave(t *testing.T) {
	head := append([]byte("RIFF"), []byte{0, 0, 0, 0}...)
	head = append(head, []byte("WAVE")...)
	if got := DetectFormat(head); got != FormatPCM {
		t.Fatalf("got %v, want FormatPCM", got)
	}
}

func TestDetectFormatOgg(t *testing.T) {
	if got := DetectFormat([]byte("OggS")); got != FormatOgg {
		t.Fatalf("got %v, want FormatOgg", got)
	}
}

func TestDetectFormatWebM(t *testing.T) {
	head := []byte{0x1A, 0x45, 0xDF, 0xA3, 0x00, 0x00}
	if got := DetectFormat(head); got != FormatWebM {
		t.Fatalf("got %v, want FormatWebM", got)
	}
}

func TestDetectFormatRejectsMP3(t *testing.T) {
	if got := DetectFormat([]byte("ID3\x03\x00")); got != FormatUnknown {
		t.Fatalf("got %v, want FormatUnknown for ID3 header", got)
	}
	if got := DetectFormat([]byte{0xFF, 0xFB, 0x90, 0x00}); got != FormatUnknown {
		t.Fatalf("got %v, want FormatUnknown for MP3 frame sync", got)
	}
}

func TestDetectFormatRejectsMP4AndFLACAndAIFF(t *testing.T) {
	mp4 := append([]byte{0, 0, 0, 0}, []byte("ftyp")...)
	if got := DetectFormat(mp4); got != FormatUnknown {
		t.Fatalf("got %v, want FormatUnknown for ftyp", got)
	}
	if got := DetectFormat([]byte("fLaC")); got != FormatUnknown {
		t.Fatalf("got %v, want FormatUnknown for FLAC", got)
	}
	if got := DetectFormat(append([]byte("FORM"), []byte{0, 0, 0, 0}...)); got != FormatUnknown {
		t.Fatalf("got %v, want FormatUnknown for AIFF", got)
	}
}

func TestDetectFormatTooShortDefaultsToPCM(t *testing.T) {
	// Fewer than 4 bytes can't match any magic number; DetectFormat
	// assumes raw PCM rather than rejecting, since a real stream will
	// accumulate more header bytes on the next chunk.
	if got := DetectFormat([]byte{0x01}); got != FormatPCM {
		t.Fatalf("got %v, want FormatPCM for too-short header", got)
	}
}
