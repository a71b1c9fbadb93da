// Package session implements the per-connection voice session: its
// immutable-until-reconfigured config, its five-state machine, message
// history, and the capacity-limited session store (spec §3/§4.5/§4.6).
package session

// Config is the per-session configuration overlay (spec §3 SessionConfig).
// It is immutable except via an explicit reconfigure request
// ({type:"config"} frame, spec §4.13), which replaces the whole struct.
type Config struct {
	// STT
	STTModel string
	Language string

	// TTS
	TTSModel string
	TTSVoice string
	// TTSSpeed is a multiplier in [0.5, 2.0].
	TTSSpeed float64

	// LLM
	LLMModel        string
	LLMTargetURL    string
	LLMResolvedID   string
	LLMOverrides    map[string]any

	// Behavior
	EnableThinking       bool
	SentenceBoundaryOnly bool
	UseNativeAudio       bool
	SystemPrompt         string
	// ToolCallPlaceholder is spoken at most once per turn, on the turn's
	// first tool call. Empty
	// disables the placeholder. This is the implementation-defined
	// knob spec §9 flags as an open question.
	ToolCallPlaceholder string

	// Barge-in
	BargeInEnabled    bool
	BargeInNoiseFilter bool
	BargeInMinChunks   int

	// Turn detection
	TurnDetectionEnabled            bool
	BaseSilenceDuration             float64
	ThinkingSilenceDuration         float64
	MaxSilenceDuration              float64
	MinSpeechForAnalysis            float64
	ShortUtteranceThreshold         float64
	ShortUtteranceSilenceMultiplier float64
}

// DefaultConfig returns the process-wide defaults, overlaid by handshake
// query parameters at session creation (spec §4.13).
func DefaultConfig() Config {
	return Config{
		TTSSpeed:                        1.0,
		EnableThinking:                  false,
		SentenceBoundaryOnly:            true,
		ToolCallPlaceholder:             "One moment.",
		BargeInEnabled:                  true,
		BargeInNoiseFilter:              true,
		BargeInMinChunks:                2,
		TurnDetectionEnabled:            true,
		BaseSilenceDuration:             0.4,
		ThinkingSilenceDuration:         1.2,
		MaxSilenceDuration:              2.5,
		MinSpeechForAnalysis:            0.5,
		ShortUtteranceThreshold:         2.0,
		ShortUtteranceSilenceMultiplier: 1.5,
	}
}

// TurnDetectionFieldsEqual reports whether the end-of-turn-relevant
// fields of two configs match, used to decide whether the turn detector
// must be rebuilt after a reconfigure (spec §4.13).
func TurnDetectionFieldsEqual(a, b Config) bool {
	return a.TurnDetectionEnabled == b.TurnDetectionEnabled &&
		a.BaseSilenceDuration == b.BaseSilenceDuration &&
		a.ThinkingSilenceDuration == b.ThinkingSilenceDuration &&
		a.MaxSilenceDuration == b.MaxSilenceDuration &&
		a.MinSpeechForAnalysis == b.MinSpeechForAnalysis &&
		a.ShortUtteranceThreshold == b.ShortUtteranceThreshold &&
		a.ShortUtteranceSilenceMultiplier == b.ShortUtteranceSilenceMultiplier
}
