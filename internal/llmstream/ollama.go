package llmstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bromic007/llamafarm-sub000/gateway/internal/metrics"
)

// OllamaClient streams chat completions from Ollama's NDJSON /api/chat
// endpoint. Kept as an alternate backend registered under the "ollama"
// engine name, grounded on the pack's Ollama-oriented gateway.
type OllamaClient struct {
	url    string
	model  string
	client *http.Client
}

// NewOllamaClient creates an Ollama streaming client.
func NewOllamaClient(url, model string, poolSize int) *OllamaClient {
	return &OllamaClient{url: url, model: model, client: newPooledHTTPClient(poolSize, 60*time.Second)}
}

func (c *OllamaClient) Chat(ctx context.Context, req Request, onToken TokenCallback, onToolCall ToolCallCallback) (*Result, error) {
	start := time.Now()

	useModel := req.Model
	if useModel == "" {
		useModel = c.model
	}

	messages := make([]ollamaMessage, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.History {
		messages = append(messages, ollamaMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, ollamaMessage{Role: "user", Content: applyThinkingControl(req.UserMessage, req.EnableThinking)})

	body, err := json.Marshal(ollamaRequest{
		Model:    useModel,
		Stream:   true,
		Messages: messages,
		Options:  ollamaOptions{NumPredict: req.MaxTokens},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		metrics.Errors.WithLabelValues("llm", "http").Inc()
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.Errors.WithLabelValues("llm", "status").Inc()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ollama status %d: %s", resp.StatusCode, errBody)
	}

	sr := consumeOllamaStream(resp.Body, onToken)
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

func consumeOllamaStream(body io.Reader, onToken TokenCallback) openAIStreamResult {
	var sr openAIStreamResult
	scanner := bufio.NewScanner(body)

	for scanner.Scan() {
		var chunk ollamaStreamChunk
		if json.Unmarshal(scanner.Bytes(), &chunk) != nil {
			continue
		}
		if chunk.Done {
			return sr
		}
		if chunk.Message.Thinking != "" {
			sr.thinking += chunk.Message.Thinking
			continue
		}
		if chunk.Message.Content == "" {
			continue
		}
		if sr.ttft.IsZero() {
			sr.ttft = time.Now()
		}
		if onToken != nil {
			onToken(chunk.Message.Content)
		}
		sr.text += chunk.Message.Content
	}

	return sr
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Stream   bool            `json:"stream"`
	Messages []ollamaMessage `json:"messages"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaMessage struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`
}

type ollamaOptions struct {
	NumPredict int `json:"num_predict"`
}

type ollamaStreamChunk struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}
