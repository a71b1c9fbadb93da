package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bromic007/llamafarm-sub000/gateway/internal/audio"
	"github.com/bromic007/llamafarm-sub000/gateway/internal/turn"
)

// DecoderBinary is the path to the helper decode process invoked by
// StreamDecoder. Set once at process start by cmd/gateway.
var DecoderBinary = "ffmpeg"

// DefaultVADThreshold overrides audio.DefaultVADConfig's speech-energy
// threshold for every session created after process start (spec §4.6's
// vad_speech_threshold tuning knob). Zero leaves the package default.
var DefaultVADThreshold float64

// formatDetectMinBytes is the number of leading bytes buffered before
// DetectFormat is given enough magic bytes to classify the stream
// (spec §4.1's "first >= 4 bytes").
const formatDetectMinBytes = 4

// State is one of the five states a session's response/ingest cycle can be
// in (spec §4.6). The receive loop moves IDLE to LISTENING when audio
// arrives; the turn orchestrator moves into PROCESSING and SPEAKING and
// back to IDLE; Orchestrator.HandleInterrupt, run on barge-in, on an
// interrupt frame, or by the orchestrator when it finds the interrupt
// flag raised, moves through INTERRUPTED to LISTENING.
type State string

const (
	StateIdle        State = "idle"
	StateListening    State = "listening"
	StateProcessing  State = "processing"
	StateSpeaking    State = "speaking"
	StateInterrupted State = "interrupted"
)

// Message is one turn of conversation history (spec §3).
type Message struct {
	Role    string // "user", "assistant", "tool"
	Content string
}

// Session is a single WebSocket connection's voice-assistant state (spec
// §3). Its audio pipeline fields (Decoder, VAD, Turn) are owned
// exclusively by the receive loop; State, Messages and PhraseIndex are
// owned by the turn orchestrator except where noted.
type Session struct {
	ID        string
	CreatedAt time.Time
	Config    Config

	mu    sync.Mutex
	state State

	Messages []Message

	// Audio ingest pipeline, owned by the receive loop.
	AudioFormat    audio.Format
	formatDetected bool
	// formatDetectBuffer holds the leading bytes of the connection's first
	// utterance until there are enough to classify (spec §4.1); discarded
	// once AudioFormat is set.
	formatDetectBuffer []byte
	Decoder            *audio.StreamDecoder
	VAD                *audio.VAD
	Turn               *turn.Arbiter

	// AudioBuffer accumulates raw client bytes for the utterance in
	// progress (spec §3). Cleared atomically with VAD/turn-detector reset.
	AudioBuffer []byte

	PartialTranscript string
	PhraseIndex       int

	// BargeInChunks counts consecutive speech-bearing chunks observed
	// while SPEAKING, used to confirm a genuine barge-in (spec §4.6.1).
	BargeInChunks int

	// interrupted is the sole cross-task signal: set by
	// Orchestrator.HandleInterrupt, observed (and cleared) by the
	// orchestrator between phrase-synthesis steps.
	interrupted bool
}

// New creates a session in the IDLE state with a fresh pipeline wired from
// cfg. id is supplied by the caller (the gateway passes the handshake's
// session_id); when it is empty, New mints one with uuid.NewString().
func New(id string, cfg Config) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	vadCfg := audio.DefaultVADConfig()
	if DefaultVADThreshold != 0 {
		vadCfg.SpeechThreshold = DefaultVADThreshold
	}
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		Config:    cfg,
		state:     StateIdle,
		VAD:       audio.NewVAD(vadCfg),
		Turn:      turn.NewArbiter(turnConfigFrom(cfg)),
	}
}

func turnConfigFrom(cfg Config) turn.Config {
	return turn.Config{
		BaseSilenceDuration:             cfg.BaseSilenceDuration,
		ThinkingSilenceDuration:         cfg.ThinkingSilenceDuration,
		MaxSilenceDuration:              cfg.MaxSilenceDuration,
		MinSpeechForAnalysis:            cfg.MinSpeechForAnalysis,
		ShortUtteranceThreshold:         cfg.ShortUtteranceThreshold,
		ShortUtteranceSilenceMultiplier: cfg.ShortUtteranceSilenceMultiplier,
		EnableLinguisticAnalysis:        cfg.TurnDetectionEnabled,
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transition moves the session to next, logging the edge. It does not
// validate the edge against an allowed-transition table: spec §4.6
// defines the state machine as driven by caller discipline (single
// writer per side), not by a generic guard.
func (s *Session) Transition(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	slog.Debug("session: state transition", "session_id", s.ID, "from", prev, "to", next)
}

// Reconfigure replaces the session config. If the turn-detection fields
// changed, the arbiter is rebuilt so new thresholds take effect on the
// next utterance; otherwise the existing arbiter (and any mid-utterance
// analysis state) is left untouched.
func (s *Session) Reconfigure(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !TurnDetectionFieldsEqual(s.Config, cfg) {
		s.Turn = turn.NewArbiter(turnConfigFrom(cfg))
	}
	s.Config = cfg
}

// SetInterrupted raises the interrupt flag. Called by
// Orchestrator.HandleInterrupt, which runs on barge-in, on an explicit
// interrupt frame, and when the orchestrator finds the flag raised
// mid-turn.
func (s *Session) SetInterrupted() {
	s.mu.Lock()
	s.interrupted = true
	s.mu.Unlock()
}

// ConsumeInterrupted reports and clears the interrupt flag. Called by the
// turn orchestrator between phrase-synthesis steps (spec §4.12.2).
func (s *Session) ConsumeInterrupted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	wasInterrupted := s.interrupted
	s.interrupted = false
	return wasInterrupted
}

// AppendMessage records one turn of conversation history.
func (s *Session) AppendMessage(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = append(s.Messages, Message{Role: role, Content: content})
}

// History returns a copy of the message history for use as LLM context.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}

// ResetUtterance clears per-utterance state (partial transcript, phrase
// index, barge-in counter, turn-arbiter analysis) at the start of a new
// LISTENING phase.
func (s *Session) ResetUtterance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PartialTranscript = ""
	s.PhraseIndex = 0
	s.BargeInChunks = 0
	s.Turn.Reset()
}

// AppendAudio appends chunk to the session's audio buffer, detecting the
// container format and decoding through the session's StreamDecoder (spec
// §3 `audio_buffer`, §4.1, §4.6). It does not run the VAD: it returns the
// PCM bytes newly decoded from this chunk (possibly empty), for the caller
// to run the VAD/arbiter on.
// AppendAudio is called only by the receive loop (single writer).
func (s *Session) AppendAudio(ctx context.Context, chunk []byte) ([]byte, error) {
	s.mu.Lock()
	s.AudioBuffer = append(s.AudioBuffer, chunk...)
	s.mu.Unlock()

	if !s.formatDetected {
		s.formatDetectBuffer = append(s.formatDetectBuffer, chunk...)
		if len(s.formatDetectBuffer) < formatDetectMinBytes {
			return nil, nil
		}
		s.AudioFormat = audio.DetectFormat(s.formatDetectBuffer)
		s.formatDetected = true
		if s.AudioFormat == audio.FormatUnknown {
			return nil, fmt.Errorf("session: unsupported audio format")
		}
		if s.AudioFormat != audio.FormatPCM {
			dec, err := audio.NewStreamDecoder(DecoderBinary, string(s.AudioFormat))
			if err != nil {
				return nil, err
			}
			s.Decoder = dec
			// The detect buffer itself is encoded container data, not PCM;
			// feed it through the freshly created decoder so no bytes are
			// lost. It already holds all of chunk, so nothing else is fed.
			pcm := s.Decoder.Feed(ctx, s.formatDetectBuffer)
			s.formatDetectBuffer = nil
			return pcm, nil
		}
		s.formatDetectBuffer = nil
	}

	if s.Decoder != nil {
		return s.Decoder.Feed(ctx, chunk), nil
	}
	return chunk, nil
}

// GetAudioBuffer returns the accumulated utterance bytes and clears the
// ingest-side per-utterance state (audio buffer, VAD, turn detector,
// partial transcript) atomically, per spec §3's invariant. The decoder and
// detected format are preserved across utterances in the same connection.
func (s *Session) GetAudioBuffer() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := s.AudioBuffer
	s.AudioBuffer = nil
	s.PartialTranscript = ""
	s.PhraseIndex = 0
	s.BargeInChunks = 0
	s.VAD.Reset()
	s.Turn.Reset()
	return buf
}

// PeekAudioBuffer returns a copy of the in-progress utterance bytes
// without clearing them, used for the arbiter's partial-transcript probe
// during the VAD silence window (spec §4.13, §9).
func (s *Session) PeekAudioBuffer() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(s.AudioBuffer))
	copy(buf, s.AudioBuffer)
	return buf
}

// HasAudio reports whether any utterance bytes have been accumulated.
func (s *Session) HasAudio() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.AudioBuffer) > 0
}

// DiscardAudio drops the accumulated utterance bytes without touching VAD
// or turn-detector state, used while PROCESSING (spec §4.6: "incoming
// audio is discarded").
func (s *Session) DiscardAudio() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AudioBuffer = nil
}

// DetectBargeIn decodes chunk through a temporary decoder (never the
// session's main decoder, whose byte-counter must stay in sync with the
// next utterance per spec §4.6.1) and reports whether it contains speech
// energy above the VAD's threshold. Empty decoder output (common on the
// first few chunks of a headerless continuation) is treated as "not
// speech", matching the documented open question in spec §9.
func (s *Session) DetectBargeIn(ctx context.Context, chunk []byte) bool {
	pcm := chunk
	if s.AudioFormat != audio.FormatPCM && s.AudioFormat != "" {
		tmp, err := audio.NewStreamDecoder(DecoderBinary, string(s.AudioFormat))
		if err != nil {
			slog.Debug("session: barge-in temp decoder create failed", "error", err)
			return false
		}
		pcm = tmp.Feed(ctx, chunk)
		if len(pcm) == 0 {
			slog.Debug("session: barge-in temp decoder produced no output yet")
			return false
		}
	}
	return s.VAD.IsChunkSpeech(pcm)
}

// ResetBargeIn clears the barge-in speech-chunk counter (spec §4.12.2).
func (s *Session) ResetBargeIn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BargeInChunks = 0
}

// NextPhraseIndex atomically allocates the next phrase index for the
// response in progress (spec §3: "strictly monotonic within a response").
func (s *Session) NextPhraseIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.PhraseIndex
	s.PhraseIndex++
	return idx
}

// SetPartialTranscript records the latest partial STT text used by the
// end-of-turn arbiter's linguistic analysis (spec §3/§9).
func (s *Session) SetPartialTranscript(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PartialTranscript = text
}

func (s *Session) GetPartialTranscript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PartialTranscript
}

func (s *Session) String() string {
	return fmt.Sprintf("session(%s, state=%s)", s.ID, s.State())
}
