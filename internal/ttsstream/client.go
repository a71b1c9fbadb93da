// Package ttsstream is the TTS streaming client: a persistent
// bidirectional WebSocket connection to the TTS runtime, opened lazily and
// reused across phrases within a turn (spec §4.9). It mirrors the teacher
// corpus's gorilla/websocket usage in ws/handler.go, but in the opposite
// role — an outbound Dialer rather than an inbound Upgrader.
package ttsstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bromic007/llamafarm-sub000/gateway/internal/metrics"
)

const (
	// ConnectTimeout bounds the initial dial (spec §4.9).
	ConnectTimeout = 10 * time.Second
	// CloseTimeout bounds a graceful close handshake (spec §4.9).
	CloseTimeout = 5 * time.Second
)

// Chunk is one unit received from the TTS stream: either binary PCM audio
// or a control signal.
type Chunk struct {
	Audio   []byte
	Control Control
}

// Control is a parsed JSON control frame (spec §4.9: "done"|"error"|"closed").
type Control struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// Client holds a lazily-opened, session-scoped TTS connection.
type Client struct {
	baseURL string
	dialer  *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

// New creates a Client pointing at the TTS runtime's base WebSocket URL
// (e.g. ws://host:port/v1/audio/speech/stream).
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		dialer:  &websocket.Dialer{HandshakeTimeout: ConnectTimeout},
	}
}

// Warm establishes the connection ahead of the first phrase (spec §4.12.3
// connection pre-warm); failures are non-fatal.
func (c *Client) Warm(ctx context.Context, model, voice string) {
	if _, err := c.ensureConn(ctx, model, voice); err != nil {
		metrics.Errors.WithLabelValues("tts", "warmup").Inc()
	}
}

func (c *Client) ensureConn(ctx context.Context, model, voice string) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}

	u, err := buildURL(c.baseURL, model, voice)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(dialCtx, u, nil)
	if err != nil {
		metrics.Errors.WithLabelValues("tts", "dial").Inc()
		return nil, fmt.Errorf("ttsstream: dial: %w", err)
	}
	c.conn = conn
	return conn, nil
}

func buildURL(base, model, voice string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("ttsstream: bad base url: %w", err)
	}
	q := u.Query()
	if model != "" {
		q.Set("model", model)
	}
	if voice != "" {
		q.Set("voice", voice)
	}
	q.Set("response_format", "pcm")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// phraseFrame is the outbound send-per-phrase message (spec §4.9).
type phraseFrame struct {
	Text  string  `json:"text"`
	Speed float64 `json:"speed"`
	Final bool    `json:"final"`
}

// SynthesizePhrase opens (or reuses) the TTS connection, sends text, and
// streams received chunks to onChunk until a "done" control frame arrives
// or an error/close ends the connection. On any error the connection is
// dropped so the next call reopens lazily (spec §9's "never reuse a
// degraded channel").
func (c *Client) SynthesizePhrase(ctx context.Context, text string, speed float64, model, voice string, onChunk func(Chunk) (keepGoing bool)) error {
	conn, err := c.ensureConn(ctx, model, voice)
	if err != nil {
		return err
	}

	frame, err := json.Marshal(phraseFrame{Text: text, Speed: speed, Final: false})
	if err != nil {
		return err
	}

	c.mu.Lock()
	writeErr := conn.WriteMessage(websocket.TextMessage, frame)
	c.mu.Unlock()
	if writeErr != nil {
		c.Drop()
		metrics.Errors.WithLabelValues("tts", "send").Inc()
		return fmt.Errorf("ttsstream: send phrase: %w", writeErr)
	}

	for {
		msgType, data, readErr := conn.ReadMessage()
		if readErr != nil {
			c.Drop()
			metrics.Errors.WithLabelValues("tts", "recv").Inc()
			return fmt.Errorf("ttsstream: recv: %w", readErr)
		}

		switch msgType {
		case websocket.BinaryMessage:
			if !onChunk(Chunk{Audio: data}) {
				return nil
			}
		case websocket.TextMessage:
			var ctrl Control
			if jsonErr := json.Unmarshal(data, &ctrl); jsonErr != nil {
				continue
			}
			onChunk(Chunk{Control: ctrl})
			switch ctrl.Type {
			case "done":
				return nil
			case "error", "closed":
				c.Drop()
				return fmt.Errorf("ttsstream: upstream reported %s: %s", ctrl.Type, ctrl.Message)
			}
		}
	}
}

// Drop closes and discards the current connection so the next
// SynthesizePhrase call reopens lazily. Safe to call when already closed.
func (c *Client) Drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(CloseTimeout))
	c.conn.Close()
	c.conn = nil
}
