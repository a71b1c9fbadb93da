package audio

import (
	"encoding/binary"
	"log/slog"
	"math"
)

// State is the voice-activity state of an utterance in progress.
type State string

const (
	StateIdle     State = "idle"
	StateSpeaking State = "speaking"
	StateSilence  State = "silence"
)

// VADConfig controls energy-based voice activity detection. Timing is
// tracked by sample count, not wall-clock, so the VAD behaves correctly
// even when audio arrives faster than real time.
type VADConfig struct {
	// SpeechThreshold is the RMS energy (0.0-1.0) above which a chunk is
	// considered speech. Lower is more sensitive.
	SpeechThreshold float64
	// SilenceDurationSeconds is how long silence must persist after
	// speech before end-of-speech fires.
	SilenceDurationSeconds float64
	// MinSpeechDurationSeconds is the minimum speech duration before an
	// utterance is considered valid, filtering brief noises.
	MinSpeechDurationSeconds float64
	// SampleRate is the input sample rate in Hz.
	SampleRate int
	// SampleWidth is bytes per sample (2 for s16le).
	SampleWidth int
}

// DefaultVADConfig returns the spec's default thresholds.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		SpeechThreshold:          0.015,
		SilenceDurationSeconds:   0.4,
		MinSpeechDurationSeconds: 0.25,
		SampleRate:               16000,
		SampleWidth:              2,
	}
}

const maxEnergyHistory = 50

// VAD is an energy-based speech/silence state machine over s16le PCM. A
// VAD is owned exclusively by its session's receive loop; see
// internal/session for the single-writer discipline.
type VAD struct {
	cfg   VADConfig
	state State

	speechSamples  int
	silenceSamples int

	energyHistory []float64
}

// NewVAD creates a VAD in the IDLE state.
func NewVAD(cfg VADConfig) *VAD {
	return &VAD{cfg: cfg, state: StateIdle}
}

// Reset returns the VAD to IDLE for a new utterance.
func (v *VAD) Reset() {
	v.state = StateIdle
	v.speechSamples = 0
	v.silenceSamples = 0
	v.energyHistory = v.energyHistory[:0]
}

// Current returns the current VAD state.
func (v *VAD) Current() State { return v.state }

// calculateEnergy returns the RMS of an s16le chunk normalized to [0,1].
// A trailing half-sample (odd byte count) is truncated.
func calculateEnergy(chunk []byte) float64 {
	usable := len(chunk) - (len(chunk) % 2)
	if usable < 2 {
		return 0
	}

	var sumSq float64
	n := usable / 2
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(chunk[i*2:]))
		f := float64(s) / 32768.0
		sumSq += f * f
	}
	return math.Sqrt(sumSq / float64(n))
}

func (v *VAD) numSamples(chunk []byte) int {
	return len(chunk) / v.cfg.SampleWidth
}

func (v *VAD) samplesToSeconds(samples int) float64 {
	return float64(samples) / float64(v.cfg.SampleRate)
}

// ProcessChunk feeds one PCM chunk into the state machine. It returns true
// on exactly the chunk where sustained silence following valid speech
// crosses the configured thresholds ("end of speech"); false otherwise.
func (v *VAD) ProcessChunk(chunk []byte) bool {
	energy := calculateEnergy(chunk)
	numSamples := v.numSamples(chunk)
	isSpeech := energy > v.cfg.SpeechThreshold

	v.energyHistory = append(v.energyHistory, energy)
	if len(v.energyHistory) > maxEnergyHistory {
		v.energyHistory = v.energyHistory[1:]
	}

	switch v.state {
	case StateIdle:
		if isSpeech {
			v.state = StateSpeaking
			v.speechSamples = numSamples
			v.silenceSamples = 0
			slog.Debug("vad: speaking", "energy", energy)
		}

	case StateSpeaking:
		v.speechSamples += numSamples
		if !isSpeech {
			v.state = StateSilence
			v.silenceSamples = numSamples
			slog.Debug("vad: silence", "speech_duration", v.samplesToSeconds(v.speechSamples))
		}

	case StateSilence:
		if isSpeech {
			// False alarm: fold the silence back into the speech run so
			// the utterance is not fragmented.
			v.state = StateSpeaking
			v.speechSamples += v.silenceSamples + numSamples
			v.silenceSamples = 0
			slog.Debug("vad: speech resumed")
			return false
		}

		v.silenceSamples += numSamples
		silenceDur := v.samplesToSeconds(v.silenceSamples)
		speechDur := v.samplesToSeconds(v.speechSamples)

		if silenceDur >= v.cfg.SilenceDurationSeconds && speechDur >= v.cfg.MinSpeechDurationSeconds {
			slog.Info("vad: end of speech", "speech_duration", speechDur, "silence_duration", silenceDur)
			return true
		}
	}

	return false
}

// IsChunkSpeech classifies a chunk's energy against the configured
// threshold without touching state-machine history; used for barge-in
// detection, which runs against a throwaway temporary decoder rather than
// the session's VAD state machine (spec §4.6.1).
func (v *VAD) IsChunkSpeech(chunk []byte) bool {
	return calculateEnergy(chunk) > v.cfg.SpeechThreshold
}

// IsSpeechActive reports whether the VAD considers an utterance ongoing
// (SPEAKING or within the post-speech SILENCE window).
func (v *VAD) IsSpeechActive() bool {
	return v.state == StateSpeaking || v.state == StateSilence
}

// IsInSilenceWindow reports whether the VAD is in the post-speech silence
// window, where the end-of-turn arbiter may apply a dynamic threshold.
func (v *VAD) IsInSilenceWindow() bool {
	return v.state == StateSilence
}

// SpeechDuration returns the current speech run length in seconds.
func (v *VAD) SpeechDuration() float64 { return v.samplesToSeconds(v.speechSamples) }

// SilenceDuration returns the current post-speech silence length in seconds.
func (v *VAD) SilenceDuration() float64 { return v.samplesToSeconds(v.silenceSamples) }

// CheckEndOfTurn is the dynamic-threshold counterpart to ProcessChunk's
// fixed threshold, consumed by the end-of-turn arbiter (internal/turn).
func (v *VAD) CheckEndOfTurn(requiredSilence float64) bool {
	if v.state != StateSilence {
		return false
	}
	silenceDur := v.SilenceDuration()
	speechDur := v.SpeechDuration()
	if silenceDur >= requiredSilence && speechDur >= v.cfg.MinSpeechDurationSeconds {
		slog.Info("vad: dynamic end of turn", "silence_duration", silenceDur, "required", requiredSilence)
		return true
	}
	return false
}

// AverageEnergy returns the mean of the recent energy history, used for
// diagnostics.
func (v *VAD) AverageEnergy() float64 {
	if len(v.energyHistory) == 0 {
		return 0
	}
	var sum float64
	for _, e := range v.energyHistory {
		sum += e
	}
	return sum / float64(len(v.energyHistory))
}
