package gateway

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/bromic007/llamafarm-sub000/gateway/internal/session"
)

// maxSystemPromptBytes caps the query-parameter system prompt (spec §6:
// "system_prompt (<= 10 KiB)").
const maxSystemPromptBytes = 10 * 1024

// resolveConfig builds a session.Config from handshake query parameters
// overlaid on defaults, validating the required llm_model field (spec
// §4.13). The returned sessionID is the client-supplied value or empty
// (session.Store mints one).
func resolveConfig(r *http.Request, defaults session.Config) (cfg session.Config, sessionID string, err error) {
	q := r.URL.Query()
	cfg = defaults

	sessionID = q.Get("session_id")

	cfg.LLMModel = q.Get("llm_model")
	if cfg.LLMModel == "" {
		return cfg, "", fmt.Errorf("llm_model is required")
	}
	cfg.LLMTargetURL = resolveEngine(cfg.LLMModel)
	cfg.STTModel = q.Get("stt_model")
	cfg.TTSModel = q.Get("tts_model")
	cfg.TTSVoice = q.Get("tts_voice")
	cfg.Language = q.Get("language")

	if v := q.Get("speed"); v != "" {
		speed, perr := strconv.ParseFloat(v, 64)
		if perr != nil {
			return cfg, "", fmt.Errorf("invalid speed %q", v)
		}
		cfg.TTSSpeed = clamp(speed, 0.5, 2.0)
	}

	if v := q.Get("sentence_boundary_only"); v != "" {
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			return cfg, "", fmt.Errorf("invalid sentence_boundary_only %q", v)
		}
		cfg.SentenceBoundaryOnly = b
	}

	if v := q.Get("system_prompt"); v != "" {
		cfg.SystemPrompt = sanitizeSystemPrompt(v)
	}

	return cfg, sessionID, nil
}

// sanitizeSystemPrompt strips control characters and caps length (spec
// §4.13: "sanitized query-parameter system_prompt").
func sanitizeSystemPrompt(raw string) string {
	if len(raw) > maxSystemPromptBytes {
		raw = raw[:maxSystemPromptBytes]
	}
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r == '\n' || r == '\t' || r >= 0x20 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// resolveEngine maps a requested llm_model name to the router engine key
// that should serve it, by prefix heuristic (spec is silent on model-to-
// engine mapping; this mirrors the capabilities cache's own
// heuristic-by-name fallback rather than requiring a lookup table).
func resolveEngine(model string) string {
	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "gpt-") || strings.HasPrefix(lower, "o1") || strings.HasPrefix(lower, "o3"):
		return "openai"
	case strings.HasPrefix(lower, "claude-"):
		return "anthropic"
	case strings.HasPrefix(lower, "agent:"):
		return "agent"
	default:
		return "ollama"
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// configFrame is the {type:"config"} text frame (spec §6); unset fields
// are left nil and leave the corresponding Config field untouched.
type configFrame struct {
	STTModel                *string  `json:"stt_model"`
	TTSModel                *string  `json:"tts_model"`
	TTSVoice                *string  `json:"tts_voice"`
	LLMModel                *string  `json:"llm_model"`
	Language                *string  `json:"language"`
	Speed                   *float64 `json:"speed"`
	SentenceBoundaryOnly    *bool    `json:"sentence_boundary_only"`
	BargeInEnabled          *bool    `json:"barge_in_enabled"`
	BargeInNoiseFilter      *bool    `json:"barge_in_noise_filter"`
	BargeInMinChunks        *int     `json:"barge_in_min_chunks"`
	TurnDetectionEnabled    *bool    `json:"turn_detection_enabled"`
	BaseSilenceDuration     *float64 `json:"base_silence_duration"`
	ThinkingSilenceDuration *float64 `json:"thinking_silence_duration"`
	MaxSilenceDuration      *float64 `json:"max_silence_duration"`
}

// applyConfigFrame overlays the set fields of f onto base, returning the
// merged config (spec §4.13's "update SessionConfig fields").
func applyConfigFrame(base session.Config, f configFrame) session.Config {
	cfg := base
	if f.STTModel != nil {
		cfg.STTModel = *f.STTModel
	}
	if f.TTSModel != nil {
		cfg.TTSModel = *f.TTSModel
	}
	if f.TTSVoice != nil {
		cfg.TTSVoice = *f.TTSVoice
	}
	if f.LLMModel != nil {
		cfg.LLMModel = *f.LLMModel
		cfg.LLMTargetURL = resolveEngine(cfg.LLMModel)
	}
	if f.Language != nil {
		cfg.Language = *f.Language
	}
	if f.Speed != nil {
		cfg.TTSSpeed = clamp(*f.Speed, 0.5, 2.0)
	}
	if f.SentenceBoundaryOnly != nil {
		cfg.SentenceBoundaryOnly = *f.SentenceBoundaryOnly
	}
	if f.BargeInEnabled != nil {
		cfg.BargeInEnabled = *f.BargeInEnabled
	}
	if f.BargeInNoiseFilter != nil {
		cfg.BargeInNoiseFilter = *f.BargeInNoiseFilter
	}
	if f.BargeInMinChunks != nil {
		cfg.BargeInMinChunks = *f.BargeInMinChunks
	}
	if f.TurnDetectionEnabled != nil {
		cfg.TurnDetectionEnabled = *f.TurnDetectionEnabled
	}
	if f.BaseSilenceDuration != nil {
		cfg.BaseSilenceDuration = *f.BaseSilenceDuration
	}
	if f.ThinkingSilenceDuration != nil {
		cfg.ThinkingSilenceDuration = *f.ThinkingSilenceDuration
	}
	if f.MaxSilenceDuration != nil {
		cfg.MaxSilenceDuration = *f.MaxSilenceDuration
	}
	return cfg
}
