package llmstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bromic007/llamafarm-sub000/gateway/internal/metrics"
)

// AnthropicClient streams completions from the Anthropic Messages API.
// Kept as an alternate backend registered under the "anthropic" engine
// name.
type AnthropicClient struct {
	apiKey string
	url    string
	model  string
	client *http.Client
}

// NewAnthropicClient creates an Anthropic streaming client.
func NewAnthropicClient(apiKey, url, model string, poolSize int) *AnthropicClient {
	return &AnthropicClient{apiKey: apiKey, url: url, model: model, client: newPooledHTTPClient(poolSize, 120*time.Second)}
}

func (c *AnthropicClient) Chat(ctx context.Context, req Request, onToken TokenCallback, onToolCall ToolCallCallback) (*Result, error) {
	start := time.Now()

	useModel := req.Model
	if useModel == "" {
		useModel = c.model
	}

	system := req.SystemPrompt

	messages := make([]anthropicMessage, 0, len(req.History)+1)
	for _, m := range req.History {
		messages = append(messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, anthropicMessage{Role: "user", Content: applyThinkingControl(req.UserMessage, req.EnableThinking)})

	body, err := json.Marshal(anthropicRequest{
		Model:     useModel,
		MaxTokens: req.MaxTokens,
		Stream:    true,
		System:    system,
		Messages:  messages,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create anthropic request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		metrics.Errors.WithLabelValues("llm", "http").Inc()
		return nil, fmt.Errorf("anthropic request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.Errors.WithLabelValues("llm", "status").Inc()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("anthropic status %d: %s", resp.StatusCode, errBody)
	}

	sr := consumeAnthropicStream(resp.Body, onToken)
	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("llm").Observe(latency.Seconds())

	ttft := float64(0)
	if !sr.ttft.IsZero() {
		ttft = float64(sr.ttft.Sub(start).Milliseconds())
	}

	return &Result{
		Text:               sr.text,
		Thinking:           sr.thinking,
		LatencyMs:          float64(latency.Milliseconds()),
		TimeToFirstTokenMs: ttft,
	}, nil
}

func consumeAnthropicStream(body io.Reader, onToken TokenCallback) openAIStreamResult {
	var sr openAIStreamResult
	scanner := bufio.NewScanner(body)
	var eventType string

	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "event: ") {
			eventType = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		if eventType == "message_stop" {
			return sr
		}
		if eventType != "content_block_delta" {
			continue
		}

		var delta anthropicDeltaEvent
		if json.Unmarshal([]byte(data), &delta) != nil {
			continue
		}
		if delta.Delta.Type == "thinking_delta" {
			sr.thinking += delta.Delta.Thinking
			continue
		}
		if delta.Delta.Text == "" {
			continue
		}
		if sr.ttft.IsZero() {
			sr.ttft = time.Now()
		}
		if onToken != nil {
			onToken(delta.Delta.Text)
		}
		sr.text += delta.Delta.Text
	}

	return sr
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicDeltaEvent struct {
	Delta anthropicDelta `json:"delta"`
}

type anthropicDelta struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`
}
