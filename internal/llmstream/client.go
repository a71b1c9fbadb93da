// Package llmstream is the LLM streaming client: a text/multimodal
// chat-completions backend, two alternate streaming backends kept from
// the wider pack for routing flexibility, and the generic engine router
// that dispatches between them (spec §4.8).
package llmstream

import (
	"context"
	"net/http"
	"time"
)

// Result is a completed streamed chat response.
type Result struct {
	Text               string
	Thinking           string
	ToolCalls          []ToolCall
	LatencyMs          float64
	TimeToFirstTokenMs float64
}

// ToolCall is a fully accumulated tool invocation request from the model,
// emitted once its id and name are known (spec §4.8).
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// TokenCallback is invoked once per streamed text token.
type TokenCallback func(token string)

// ToolCallCallback is invoked once a tool call completes accumulation,
// either because the stream reported finish_reason == "tool_calls" or
// because end-of-stream arrived with a pending call that has an id and
// name (spec §4.8).
type ToolCallCallback func(ToolCall)

// Request is one chat turn, optionally carrying native audio for the
// multimodal path (spec §4.8).
type Request struct {
	Model          string
	SystemPrompt   string
	UserMessage    string
	History        []Message
	EnableThinking bool
	MaxTokens      int
	Temperature    float64

	// AudioWAV, if non-nil, is appended to the final user message as an
	// input_audio content part. Capped at 10 MiB by the caller.
	AudioWAV []byte
}

// Message is one turn of prior conversation, used as chat history.
type Message struct {
	Role    string
	Content string
}

// Client streams a chat completion, invoking onToken per text token and
// onToolCall for each accumulated tool call.
type Client interface {
	Chat(ctx context.Context, req Request, onToken TokenCallback, onToolCall ToolCallCallback) (*Result, error)
}

// MaxAudioBytes is the multimodal audio payload cap (spec §4.8); larger
// payloads are rejected by the caller before reaching a Client.
const MaxAudioBytes = 10 * 1024 * 1024

func newPooledHTTPClient(poolSize int, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:          poolSize,
			MaxIdleConnsPerHost:   poolSize,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: timeout,
			ForceAttemptHTTP2:     true,
		},
	}
}

// applyThinkingControl appends "/no_think" to the last user message when
// thinking is disabled (spec §4.8). For string content it concatenates
// with a single space; for multimodal content parts, buildMultimodalMessage
// (openai.go) adds it as a separate text part instead.
func applyThinkingControl(message string, enableThinking bool) string {
	if enableThinking {
		return message
	}
	return message + " /no_think"
}
