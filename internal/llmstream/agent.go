package llmstream

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/modelsettings"
	"github.com/openai/openai-go/v2/packages/param"
)

// AgentClient routes LLM requests through the openai-agents-go SDK's
// Runner, for engines that want tool-use orchestration handled by the
// SDK rather than by this package's own tool-call accumulation. Kept as
// an alternate backend; the primary tool-call path for this gateway
// remains OpenAIClient's manual accumulation (spec §4.8), since the
// gateway terminates tool calls back to the caller rather than letting
// the SDK resolve them internally.
type AgentClient struct {
	provider  agents.ModelProvider
	model     string
	maxTokens int
}

// NewAgentClient creates an agent-SDK-backed client for one provider.
func NewAgentClient(provider agents.ModelProvider, defaultModel string, maxTokens int) *AgentClient {
	return &AgentClient{provider: provider, model: defaultModel, maxTokens: maxTokens}
}

func (c *AgentClient) Chat(ctx context.Context, req Request, onToken TokenCallback, onToolCall ToolCallCallback) (*Result, error) {
	useModel := req.Model
	if useModel == "" {
		useModel = c.model
	}

	agent := agents.New("assistant").
		WithInstructions(req.SystemPrompt).
		WithModel(useModel).
		WithModelSettings(modelsettings.ModelSettings{
			MaxTokens: param.NewOpt(int64(c.maxTokens)),
		})

	runner := agents.Runner{Config: agents.RunConfig{
		ModelProvider:   c.provider,
		MaxTurns:        1,
		TracingDisabled: true,
	}}

	start := time.Now()

	events, errCh, err := runner.RunStreamedChan(ctx, agent, applyThinkingControl(req.UserMessage, req.EnableThinking))
	if err != nil {
		return nil, fmt.Errorf("agent stream start: %w", err)
	}

	var textBuf strings.Builder
	var sr openAIStreamResult
	for ev := range events {
		handleAgentStreamEvent(ev, &sr, onToken, &textBuf)
	}

	if streamErr := <-errCh; streamErr != nil {
		return nil, fmt.Errorf("agent stream: %w", streamErr)
	}

	latency := time.Since(start)
	ttft := float64(0)
	if !sr.ttft.IsZero() {
		ttft = float64(sr.ttft.Sub(start).Milliseconds())
	}

	return &Result{
		Text:               textBuf.String(),
		LatencyMs:          float64(latency.Milliseconds()),
		TimeToFirstTokenMs: ttft,
	}, nil
}

func handleAgentStreamEvent(ev agents.StreamEvent, sr *openAIStreamResult, onToken TokenCallback, textBuf *strings.Builder) {
	raw, ok := ev.(agents.RawResponsesStreamEvent)
	if !ok {
		return
	}
	if raw.Data.Type != "response.output_text.delta" {
		return
	}
	if sr.ttft.IsZero() {
		sr.ttft = time.Now()
	}
	if onToken != nil {
		onToken(raw.Data.Delta)
	}
	textBuf.WriteString(raw.Data.Delta)
}
