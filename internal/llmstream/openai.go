package llmstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/bromic007/llamafarm-sub000/gateway/internal/metrics"
)

// OpenAIClient streams from an OpenAI-compatible /chat/completions
// endpoint (spec §4.8's primary text + multimodal-audio path). Hot-path
// per-chunk field extraction uses gjson instead of a full struct
// unmarshal, since only a handful of fields are ever read per SSE line.
type OpenAIClient struct {
	apiKey string
	url    string
	model  string
	client *http.Client
}

// NewOpenAIClient creates a client for an OpenAI-compatible base URL
// (OpenAI itself, or any server implementing the same wire format).
func NewOpenAIClient(apiKey, url, model string, poolSize int) *OpenAIClient {
	return &OpenAIClient{
		apiKey: apiKey,
		url:    url,
		model:  model,
		// Read timeout is generous (>= 300s) per spec §4.8: a long
		// response must not be cut off mid-stream.
		client: newPooledHTTPClient(poolSize, 300*time.Second),
	}
}

func (c *OpenAIClient) Chat(ctx context.Context, req Request, onToken TokenCallback, onToolCall ToolCallCallback) (*Result, error) {
	start := time.Now()

	useModel := req.Model
	if useModel == "" {
		useModel = c.model
	}

	if len(req.AudioWAV) > MaxAudioBytes {
		return nil, fmt.Errorf("audio payload %d bytes exceeds cap of %d", len(req.AudioWAV), MaxAudioBytes)
	}

	body, err := c.buildRequestBody(req, useModel)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create chat completions request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		metrics.Errors.WithLabelValues("llm", "http").Inc()
		return nil, fmt.Errorf("chat completions request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.Errors.WithLabelValues("llm", "status").Inc()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("chat completions status %d: %s", resp.StatusCode, errBody)
	}

	sr := consumeOpenAIStream(resp.Body, onToken, onToolCall)

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("llm").Observe(latency.Seconds())

	ttft := float64(0)
	if !sr.ttft.IsZero() {
		ttft = float64(sr.ttft.Sub(start).Milliseconds())
	}

	return &Result{
		Text:               sr.text,
		Thinking:           sr.thinking,
		ToolCalls:          sr.toolCalls,
		LatencyMs:          float64(latency.Milliseconds()),
		TimeToFirstTokenMs: ttft,
	}, nil
}

func (c *OpenAIClient) buildRequestBody(req Request, model string) ([]byte, error) {
	messages := make([]map[string]any, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]any{"role": "system", "content": req.SystemPrompt})
	}
	for _, m := range req.History {
		messages = append(messages, map[string]any{"role": m.Role, "content": m.Content})
	}

	if len(req.AudioWAV) > 0 {
		messages = append(messages, buildMultimodalMessage(req.UserMessage, req.AudioWAV, req.EnableThinking))
	} else {
		content := applyThinkingControl(req.UserMessage, req.EnableThinking)
		messages = append(messages, map[string]any{"role": "user", "content": content})
	}

	payload := map[string]any{
		"model":    model,
		"messages": messages,
		"stream":   true,
	}
	if req.Temperature != 0 {
		payload["temperature"] = req.Temperature
	}
	if req.MaxTokens != 0 {
		payload["max_tokens"] = req.MaxTokens
	}

	return json.Marshal(payload)
}

// buildMultimodalMessage constructs the final user message's content as
// an array of parts: input_audio first, then text (spec §4.8). Thinking
// control appends a new text part rather than mutating the transcript
// text part when thinking is disabled.
func buildMultimodalMessage(text string, wav []byte, enableThinking bool) map[string]any {
	parts := []map[string]any{
		{
			"type": "input_audio",
			"input_audio": map[string]any{
				"data":   base64.StdEncoding.EncodeToString(wav),
				"format": "wav",
			},
		},
	}
	if text != "" {
		parts = append(parts, map[string]any{"type": "text", "text": text})
	}
	if !enableThinking {
		parts = append(parts, map[string]any{"type": "text", "text": "/no_think"})
	}
	return map[string]any{"role": "user", "content": parts}
}

type openAIStreamResult struct {
	text      string
	thinking  string
	toolCalls []ToolCall
	ttft      time.Time
}

// pendingToolCall accumulates one tool call's deltas by index (spec §4.8).
type pendingToolCall struct {
	id        string
	name      string
	arguments strings.Builder
	emitted   bool
}

func consumeOpenAIStream(body io.Reader, onToken TokenCallback, onToolCall ToolCallCallback) openAIStreamResult {
	var sr openAIStreamResult
	pending := make(map[int64]*pendingToolCall)
	order := make([]int64, 0, 2)

	emit := func(idx int64) {
		p := pending[idx]
		if p == nil || p.emitted || p.id == "" || p.name == "" {
			return
		}
		p.emitted = true
		tc := ToolCall{ID: p.id, Name: p.name, Arguments: p.arguments.String()}
		sr.toolCalls = append(sr.toolCalls, tc)
		if onToolCall != nil {
			onToolCall(tc)
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}
		if !gjson.Valid(data) {
			continue
		}
		parsed := gjson.Parse(data)
		choice := parsed.Get("choices.0")
		if !choice.Exists() {
			continue
		}

		if thinking := choice.Get("delta.thinking").String(); thinking != "" {
			sr.thinking += thinking
		}

		if content := choice.Get("delta.content").String(); content != "" {
			if sr.ttft.IsZero() {
				sr.ttft = time.Now()
			}
			if onToken != nil {
				onToken(content)
			}
			sr.text += content
		}

		for _, delta := range choice.Get("delta.tool_calls").Array() {
			idx := delta.Get("index").Int()
			p, ok := pending[idx]
			if !ok {
				p = &pendingToolCall{}
				pending[idx] = p
				order = append(order, idx)
			}
			if id := delta.Get("id").String(); id != "" {
				p.id = id
			}
			if name := delta.Get("function.name").String(); name != "" {
				p.name = name
			}
			if args := delta.Get("function.arguments").String(); args != "" {
				p.arguments.WriteString(args)
			}
		}

		if choice.Get("finish_reason").String() == "tool_calls" {
			for _, idx := range order {
				emit(idx)
			}
		}
	}

	for _, idx := range order {
		emit(idx)
	}

	return sr
}
