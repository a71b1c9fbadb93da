package main

import (
	"encoding/json"
	"log/slog"
	"os"
)

// tuning holds knobs loaded from gateway.json. These are values that may
// eventually move to a database; for now a JSON file keeps them out of
// env vars, matching the teacher's own config layering.
type tuning struct {
	SystemPrompt        string  `json:"llm_system_prompt"`
	LLMMaxTokens        int     `json:"llm_max_tokens"`
	STTPoolSize         int     `json:"stt_pool_size"`
	LLMPoolSize         int     `json:"llm_pool_size"`
	VADSpeechThreshold  float64 `json:"vad_speech_threshold"`
	ToolCallPlaceholder string  `json:"tool_call_placeholder"`
	SessionCapacity     int     `json:"session_capacity"`
	OpenAIURL           string  `json:"openai_url"`
	OpenAIModel         string  `json:"openai_model"`
	AnthropicURL        string  `json:"anthropic_url"`
	AnthropicModel      string  `json:"anthropic_model"`
}

// defaultTuning returns sensible defaults matching gateway.json.
func defaultTuning() tuning {
	return tuning{
		SystemPrompt:        "You are a helpful, concise voice assistant. Keep responses conversational and brief.",
		LLMMaxTokens:        2048,
		STTPoolSize:         50,
		LLMPoolSize:         50,
		VADSpeechThreshold:  0.015,
		ToolCallPlaceholder: "One moment.",
		SessionCapacity:     100,
		OpenAIURL:           "https://api.openai.com",
		OpenAIModel:         "gpt-4.1-nano",
		AnthropicURL:        "https://api.anthropic.com",
		AnthropicModel:      "claude-sonnet-4-5",
	}
}

// loadTuning reads gateway.json if present, otherwise returns defaults.
func loadTuning(path string) tuning {
	t := defaultTuning()
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Info("no config file, using defaults", "path", path)
		return t
	}
	if err = json.Unmarshal(data, &t); err != nil {
		slog.Warn("bad config file, using defaults", "path", path, "error", err)
		return defaultTuning()
	}
	slog.Info("loaded config", "path", path)
	return t
}
