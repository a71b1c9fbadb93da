package audio

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

const (
	// DecodeInterval is the minimum number of new encoded bytes accumulated
	// since the last decode before another decode step is attempted.
	DecodeInterval = 4096
	// MinDecodeBytes is the minimum total encoded buffer size before any
	// decode step is attempted at all.
	MinDecodeBytes = 2048
	// MaxEncodedBufferSize bounds the encoded buffer; once exceeded the
	// decoder decodes whatever it has and resets, sacrificing stream
	// continuity to avoid unbounded memory growth.
	MaxEncodedBufferSize = 10 * 1024 * 1024
	// decodeTimeout bounds a single decoder subprocess invocation.
	decodeTimeout = 5 * time.Second
)

// decoderWhitelist is the set of format arguments the decoder binary may be
// invoked with. Never pass an unvalidated format string to exec.Command.
var decoderWhitelist = map[string]bool{
	"webm": true, "ogg": true, "mp3": true, "flac": true,
	"aiff": true, "wav": true, "m4a": true, "mp4": true, "opus": true,
}

// StreamDecoder incrementally decodes an encoded container into 16 kHz
// s16le mono PCM by re-invoking a helper decoder process on the full
// accumulated encoded buffer each time enough new data has arrived. It is
// bound to one format for its lifetime and preserved across utterances in
// the same connection, since continuation chunks of a container stream
// carry no header of their own.
type StreamDecoder struct {
	binary string
	format string

	encoded          []byte
	bytesAtLastDecode int
	totalPCMDecoded  int
}

// NewStreamDecoder creates a decoder bound to format, invoking binary per
// decode step. format must be in the whitelist.
func NewStreamDecoder(binary, format string) (*StreamDecoder, error) {
	if !decoderWhitelist[format] {
		return nil, fmt.Errorf("audio: unsupported decoder format %q", format)
	}
	return &StreamDecoder{binary: binary, format: format}, nil
}

// Feed appends an encoded chunk and, if enough new data has accumulated,
// invokes the decoder on the full buffer and returns only the PCM bytes
// produced since the last decode. Returns nil when no decode step was
// warranted yet. Decoder failures are logged and return empty PCM;
// they never propagate as session-ending errors per spec §4.2/§7.
func (d *StreamDecoder) Feed(ctx context.Context, chunk []byte) []byte {
	d.encoded = append(d.encoded, chunk...)

	if len(d.encoded) > MaxEncodedBufferSize {
		slog.Warn("codec decoder: encoded buffer exceeded max, forcing decode+reset",
			"format", d.format, "size", len(d.encoded))
		pcm := d.decode(ctx)
		d.reset()
		return pcm
	}

	newBytes := len(d.encoded) - d.bytesAtLastDecode
	if newBytes < DecodeInterval || len(d.encoded) < MinDecodeBytes {
		return nil
	}

	return d.decode(ctx)
}

// Flush decodes any remaining buffered bytes and returns residual new PCM.
func (d *StreamDecoder) Flush(ctx context.Context) []byte {
	if len(d.encoded) == 0 {
		return nil
	}
	return d.decode(ctx)
}

// Reset clears all decoder state for a new stream.
func (d *StreamDecoder) Reset() {
	d.reset()
}

func (d *StreamDecoder) reset() {
	d.encoded = nil
	d.bytesAtLastDecode = 0
	d.totalPCMDecoded = 0
}

// decode invokes the helper process on the full accumulated encoded
// buffer and returns only the PCM produced beyond totalPCMDecoded.
func (d *StreamDecoder) decode(ctx context.Context) []byte {
	d.bytesAtLastDecode = len(d.encoded)

	ctx, cancel := context.WithTimeout(ctx, decodeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.binary,
		"-f", d.format, "-i", "pipe:0",
		"-ar", "16000", "-ac", "1", "-f", "s16le", "pipe:1")
	cmd.Stdin = bytes.NewReader(d.encoded)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		slog.Error("codec decoder invocation failed", "format", d.format, "error", err, "stderr", stderr.String())
		return nil
	}
	if strings.Contains(strings.ToLower(stderr.String()), "error") {
		slog.Error("codec decoder reported error", "format", d.format, "stderr", stderr.String())
		return nil
	}

	all := stdout.Bytes()
	if len(all) <= d.totalPCMDecoded {
		return nil
	}
	newPCM := all[d.totalPCMDecoded:]
	d.totalPCMDecoded = len(all)

	out := make([]byte, len(newPCM))
	copy(out, newPCM)
	return out
}
