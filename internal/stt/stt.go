// Package stt is the speech-to-text client: one-shot transcription and a
// segment-streaming variant used to let LLM processing start before the
// user's audio has finished transcribing (spec §4.7).
package stt

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/bromic007/llamafarm-sub000/gateway/internal/audio"
	"github.com/bromic007/llamafarm-sub000/gateway/internal/metrics"
)

// Client sends audio to a whisper.cpp-compatible STT server.
type Client struct {
	url    string
	client *http.Client
}

// New creates a Client pointing at the STT server's base URL.
func New(url string, poolSize int) *Client {
	return &Client{
		url:    url,
		client: newPooledHTTPClient(poolSize, 30*time.Second),
	}
}

func newPooledHTTPClient(poolSize int, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:          poolSize,
			MaxIdleConnsPerHost:   poolSize,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}

// Result is a one-shot transcription outcome.
type Result struct {
	Text      string
	LatencyMs float64
}

// Segment is one unit of a streamed transcription, emitted in temporal
// order (spec §4.7).
type Segment struct {
	Text string
	// Final marks the last segment of the stream.
	Final bool
}

type transcribeResponse struct {
	Text string `json:"text"`
}

type streamSegment struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// Transcribe wraps PCM16 mono 16 kHz audio in a 44-byte WAV header,
// uploads it as a multipart file and returns the full transcript in one
// response.
func (c *Client) Transcribe(ctx context.Context, pcm []byte, model, language string) (*Result, error) {
	start := time.Now()

	body, contentType, err := buildMultipartAudio(pcm)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/inference", body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	addModelParams(req, model, language)

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("stt", "http").Inc()
		return nil, fmt.Errorf("stt request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		metrics.Errors.WithLabelValues("stt", "status").Inc()
		return nil, fmt.Errorf("stt status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode stt response: %w", err)
	}

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("stt").Observe(latency.Seconds())

	return &Result{Text: parsed.Text, LatencyMs: float64(latency.Milliseconds())}, nil
}

// TranscribeStream uploads audio to the server's streaming endpoint and
// returns a channel of segments in temporal order. The channel is closed
// when the stream ends (a Final segment, the response body closing, or
// ctx being cancelled); a caller that stops reading early releases the
// response body by cancelling ctx. Errors before the response arrives are
// returned; a read error mid-stream just closes the channel, and lines
// that fail to decode are skipped, so callers check ctx.Err() after the
// channel closes to distinguish a clean end from cancellation.
func (c *Client) TranscribeStream(ctx context.Context, pcm []byte, model, language string) (<-chan Segment, error) {
	start := time.Now()

	body, contentType, err := buildMultipartAudio(pcm)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/inference/stream", body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	addModelParams(req, model, language)

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("stt_stream", "http").Inc()
		return nil, fmt.Errorf("stt stream request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		metrics.Errors.WithLabelValues("stt_stream", "status").Inc()
		return nil, fmt.Errorf("stt stream status %d: %s", resp.StatusCode, string(respBody))
	}

	out := make(chan Segment, 4)
	go func() {
		defer resp.Body.Close()
		defer close(out)

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var seg streamSegment
			if err := json.Unmarshal(line, &seg); err != nil {
				metrics.Errors.WithLabelValues("stt_stream", "decode").Inc()
				continue
			}

			select {
			case out <- Segment{Text: seg.Text, Final: seg.Final}:
			case <-ctx.Done():
				return
			}

			if seg.Final {
				metrics.StageDuration.WithLabelValues("stt_stream").Observe(time.Since(start).Seconds())
				return
			}
		}
	}()

	return out, nil
}

func addModelParams(req *http.Request, model, language string) {
	q := req.URL.Query()
	if model != "" {
		q.Set("model", model)
	}
	if language != "" {
		q.Set("language", language)
	}
	req.URL.RawQuery = q.Encode()
}

func buildMultipartAudio(pcm []byte) (*bytes.Buffer, string, error) {
	wavData := audio.PCM16ToWAV(pcm, 16000)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("write wav data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close writer: %w", err)
	}

	return &body, writer.FormDataContentType(), nil
}
