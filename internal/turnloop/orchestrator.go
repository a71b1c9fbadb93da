package turnloop

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bromic007/llamafarm-sub000/gateway/internal/audio"
	"github.com/bromic007/llamafarm-sub000/gateway/internal/filter"
	"github.com/bromic007/llamafarm-sub000/gateway/internal/llmstream"
	"github.com/bromic007/llamafarm-sub000/gateway/internal/metrics"
	"github.com/bromic007/llamafarm-sub000/gateway/internal/phrase"
	"github.com/bromic007/llamafarm-sub000/gateway/internal/session"
	"github.com/bromic007/llamafarm-sub000/gateway/internal/stt"
	"github.com/bromic007/llamafarm-sub000/gateway/internal/trace"
	"github.com/bromic007/llamafarm-sub000/gateway/internal/ttsstream"
)

// sttEarlyBreakLen is the partial-transcript length at which the turn
// stops waiting on further streamed STT segments and hands the prompt to
// the LLM (spec §4.12 step 2).
const sttEarlyBreakLen = 5

// sttStreamWait bounds how long process_turn waits on the streaming STT
// endpoint before falling back to a one-shot transcription (spec §4.12).
const sttStreamWait = 2 * time.Second

// Orchestrator drives one turn at a time per session: STT, LLM streaming
// with output filtering and phrase chunking, and TTS playback, with
// interrupt handling throughout (spec §4.12). It owns the TTS connection
// pool, scoped by session id but never stored on Session itself (spec §3:
// "the TTS client connection is owned by the orchestrator, scoped to the
// session").
type Orchestrator struct {
	STT *stt.Client
	LLM *llmstream.Router

	ttsBaseURL string
	traceStore *trace.Store

	mu       sync.Mutex
	ttsConns map[string]*ttsstream.Client
	tracers  map[string]*trace.Tracer
}

// New creates an Orchestrator wired to the given STT client, LLM router,
// and TTS runtime base URL.
func New(sttClient *stt.Client, llmRouter *llmstream.Router, ttsBaseURL string) *Orchestrator {
	return &Orchestrator{
		STT:        sttClient,
		LLM:        llmRouter,
		ttsBaseURL: ttsBaseURL,
		ttsConns:   make(map[string]*ttsstream.Client),
		tracers:    make(map[string]*trace.Tracer),
	}
}

// SetTraceStore enables per-run/per-stage tracing (spec §6: "Persisted
// state: none owned by the core" — this is diagnostic-only and never
// consulted for session behavior). A nil store (the default) disables
// tracing entirely; Tracer's methods are themselves nil-safe, so callers
// never need to branch on whether tracing is on.
func (o *Orchestrator) SetTraceStore(store *trace.Store) {
	o.traceStore = store
}

// tracerFor lazily creates the session's tracer, recording the session
// row on first use.
func (o *Orchestrator) tracerFor(sessionID string) *trace.Tracer {
	if o.traceStore == nil {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tracers[sessionID]
	if !ok {
		if err := o.traceStore.CreateSession(sessionID, ""); err != nil {
			slog.Warn("turnloop: trace session create failed", "session_id", sessionID, "error", err)
		}
		t = trace.NewTracer(o.traceStore, sessionID)
		o.tracers[sessionID] = t
	}
	return t
}

// EndSession closes the session's TTS connection and tracer, recording
// the session's end in the trace store if tracing is enabled. Called
// once, when the client disconnects (spec §4.13).
func (o *Orchestrator) EndSession(sessionID string) {
	o.CloseTTS(sessionID)

	o.mu.Lock()
	t, ok := o.tracers[sessionID]
	delete(o.tracers, sessionID)
	o.mu.Unlock()

	if ok {
		t.Close()
		if err := o.traceStore.EndSession(sessionID); err != nil {
			slog.Warn("turnloop: trace session end failed", "session_id", sessionID, "error", err)
		}
	}
}

func (o *Orchestrator) ttsFor(sessionID string) *ttsstream.Client {
	o.mu.Lock()
	defer o.mu.Unlock()
	c, ok := o.ttsConns[sessionID]
	if !ok {
		c = ttsstream.New(o.ttsBaseURL)
		o.ttsConns[sessionID] = c
	}
	return c
}

// CloseTTS drops and forgets the session's TTS connection, if any (spec
// §4.12.2, §4.14 cleanup-on-disconnect).
func (o *Orchestrator) CloseTTS(sessionID string) {
	o.mu.Lock()
	c, ok := o.ttsConns[sessionID]
	delete(o.ttsConns, sessionID)
	o.mu.Unlock()
	if ok {
		c.Drop()
	}
}

// WarmTTS pre-connects the session's TTS connection ahead of the first
// phrase (spec §4.12.3).
func (o *Orchestrator) WarmTTS(ctx context.Context, sess *session.Session) {
	o.ttsFor(sess.ID).Warm(ctx, sess.Config.TTSModel, sess.Config.TTSVoice)
}

// routeLLM selects the backend for sess, falling back to the router's
// default engine when the session names none explicitly.
func (o *Orchestrator) routeLLM(sess *session.Session) (llmstream.Client, error) {
	return o.LLM.Route(sess.Config.LLMTargetURL)
}

// turnState holds the per-turn scratch state threaded through the token
// callback: output filters, the phrase detector, and bookkeeping for the
// tool-call placeholder and assistant-text history.
type turnState struct {
	think     *filter.TagFilter
	toolCalls *filter.ToolCallFilter
	phrases   *phrase.Detector

	detectedSeen   int
	placeholderSaid bool
	assistantText  strings.Builder
	firstAudioSent bool

	interrupted bool

	tracer      *trace.Tracer
	runID       string
	turnStarted time.Time
	transcript  string
}

func newTurnState(cfg phrase.Config, tracer *trace.Tracer, runID string, turnStarted time.Time, transcript string) *turnState {
	return &turnState{
		think:       filter.NewTagFilter("think", false),
		toolCalls:   filter.NewToolCallFilter(),
		phrases:     phrase.NewDetector(cfg),
		tracer:      tracer,
		runID:       runID,
		turnStarted: turnStarted,
		transcript:  transcript,
	}
}

// ProcessTurn runs one full turn from captured utterance audio through to
// a final response, per spec §4.12's seven-step sequence. audioPCM is the
// PCM16 mono bytes returned by Session.GetAudioBuffer. emit must be safe
// to call concurrently with the receive loop's own emits.
func (o *Orchestrator) ProcessTurn(ctx context.Context, sess *session.Session, audioPCM []byte, emit EventCallback) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tracer := o.tracerFor(sess.ID)
	runID := tracer.StartRun()
	turnStarted := time.Now()

	sess.ConsumeInterrupted()
	sess.Transition(session.StateProcessing)
	emit(Event{Type: "status", State: string(session.StateProcessing)})

	sttStart := time.Now()
	text := o.transcribe(ctx, sess, audioPCM)
	tracer.RecordSpan(runID, "stt", sttStart, float64(time.Since(sttStart).Milliseconds()), "", text, "ok", "")

	if strings.TrimSpace(text) == "" {
		sess.Transition(session.StateIdle)
		emit(Event{Type: "status", State: string(session.StateIdle)})
		tracer.EndRun(runID, float64(time.Since(turnStarted).Milliseconds()), "", "", "empty_transcript")
		return
	}

	emit(Event{Type: "transcription", Text: text, IsFinal: true})

	// History must not yet contain this turn: every backend appends
	// UserMessage (or the multimodal audio part) as the final message
	// after History, so the turn is recorded here only after the request
	// is built — appending first would send it twice (once via History,
	// once via UserMessage).
	req := llmstream.Request{
		Model:          sess.Config.LLMModel,
		SystemPrompt:   sess.Config.SystemPrompt,
		UserMessage:    text,
		History:        toLLMHistory(sess.History()),
		EnableThinking: sess.Config.EnableThinking,
	}
	sess.AppendMessage("user", text)
	o.driveLLM(ctx, cancel, sess, req, emit, tracer, runID, turnStarted, text)
}

// ProcessTurnNativeAudio runs the same turn shape but skips STT entirely,
// handing the raw utterance audio to a multimodal LLM as an input_audio
// part (spec §4.8, §4.12).
func (o *Orchestrator) ProcessTurnNativeAudio(ctx context.Context, sess *session.Session, audioPCM []byte, emit EventCallback) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tracer := o.tracerFor(sess.ID)
	runID := tracer.StartRun()
	turnStarted := time.Now()

	sess.ConsumeInterrupted()
	sess.Transition(session.StateProcessing)
	emit(Event{Type: "status", State: string(session.StateProcessing)})

	if len(audioPCM) == 0 {
		sess.Transition(session.StateIdle)
		emit(Event{Type: "status", State: string(session.StateIdle)})
		tracer.EndRun(runID, float64(time.Since(turnStarted).Milliseconds()), "", "", "empty_audio")
		return
	}

	wav := audio.PCM16ToWAV(audioPCM, 16000)
	if len(wav) > llmstream.MaxAudioBytes {
		emit(Event{Type: "error", Message: "audio message too large"})
		sess.Transition(session.StateIdle)
		emit(Event{Type: "status", State: string(session.StateIdle)})
		tracer.EndRun(runID, float64(time.Since(turnStarted).Milliseconds()), "", "", "audio_too_large")
		return
	}
	tracer.RecordSpan(runID, "native_audio", turnStarted, float64(time.Since(turnStarted).Milliseconds()), "", fmt.Sprintf("%d bytes wav", len(wav)), "ok", "")

	// As in ProcessTurn, History must be built before this turn's
	// placeholder is appended to session history: the backend sends the
	// real audio content as the final message (AudioWAV), so the request
	// must not also carry a "[audio message]" text turn in History.
	req := llmstream.Request{
		Model:          sess.Config.LLMModel,
		SystemPrompt:   sess.Config.SystemPrompt,
		History:        toLLMHistory(sess.History()),
		EnableThinking: sess.Config.EnableThinking,
		AudioWAV:       wav,
	}
	sess.AppendMessage("user", "[audio message]")
	o.driveLLM(ctx, cancel, sess, req, emit, tracer, runID, turnStarted, "[audio message]")
}

// transcribe implements spec §4.12 step 2: race a streaming transcription
// against an early-break length threshold and a wall-clock timeout,
// falling back to one-shot transcription if streaming yields nothing
// useful in time.
func (o *Orchestrator) transcribe(ctx context.Context, sess *session.Session, audioPCM []byte) string {
	var text string

	segCh, err := o.STT.TranscribeStream(ctx, audioPCM, sess.Config.STTModel, sess.Config.Language)
	if err == nil {
		timeout := time.NewTimer(sttStreamWait)
		defer timeout.Stop()
	streamLoop:
		for {
			select {
			case seg, ok := <-segCh:
				if !ok {
					break streamLoop
				}
				text += seg.Text
				sess.SetPartialTranscript(text)
				if len(strings.TrimSpace(text)) >= sttEarlyBreakLen || seg.Final {
					break streamLoop
				}
			case <-timeout.C:
				break streamLoop
			case <-ctx.Done():
				return text
			}
		}
	}

	if strings.TrimSpace(text) != "" {
		return text
	}

	res, err := o.STT.Transcribe(ctx, audioPCM, sess.Config.STTModel, sess.Config.Language)
	if err != nil {
		metrics.Errors.WithLabelValues("turn", "stt").Inc()
		return ""
	}
	return res.Text
}

func toLLMHistory(msgs []session.Message) []llmstream.Message {
	out := make([]llmstream.Message, len(msgs))
	for i, m := range msgs {
		out[i] = llmstream.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// driveLLM implements spec §4.12 steps 4-7: transition to SPEAKING, stream
// the LLM response through the filter chain and phrase detector, speak
// each phrase as it completes, and emit the final llm_text/status frames.
func (o *Orchestrator) driveLLM(ctx context.Context, cancel context.CancelFunc, sess *session.Session, req llmstream.Request, emit EventCallback, tracer *trace.Tracer, runID string, turnStarted time.Time, transcript string) {
	sess.Transition(session.StateSpeaking)
	emit(Event{Type: "status", State: string(session.StateSpeaking)})

	backend, err := o.routeLLM(sess)
	if err != nil {
		metrics.Errors.WithLabelValues("turn", "llm_route").Inc()
		emit(Event{Type: "error", Message: "no language model backend available"})
		o.endTurn(sess, emit)
		tracer.EndRun(runID, float64(time.Since(turnStarted).Milliseconds()), transcript, "", "no_llm_backend")
		return
	}

	ts := newTurnState(phraseConfigFrom(sess.Config), tracer, runID, turnStarted, transcript)

	onToken := func(token string) {
		if ctx.Err() != nil || ts.interrupted {
			return
		}
		if sess.ConsumeInterrupted() {
			ts.interrupted = true
			o.HandleInterrupt(ctx, sess, emit)
			cancel()
			return
		}
		o.handleToken(ctx, sess, ts, token, emit)
	}
	onToolCall := func(tc llmstream.ToolCall) {
		if ctx.Err() != nil {
			return
		}
		emit(Event{Type: "tool_call", ToolCallID: orDefault(tc.ID, uuid.NewString()), FunctionName: tc.Name, Arguments: tc.Arguments})
		o.maybeSpeakPlaceholder(ctx, sess, ts, emit)
	}

	start := time.Now()
	_, err = backend.Chat(ctx, req, onToken, onToolCall)
	llmStatus := "ok"
	metrics.StageDuration.WithLabelValues("llm").Observe(time.Since(start).Seconds())
	if err != nil && !ts.interrupted {
		metrics.Errors.WithLabelValues("turn", "llm").Inc()
		emit(Event{Type: "error", Message: "language model request failed"})
		llmStatus = "error"
	}
	tracer.RecordSpan(runID, "llm", start, float64(time.Since(start).Milliseconds()), transcript, "", llmStatus, errString(err))

	if ts.interrupted {
		tracer.EndRun(runID, float64(time.Since(turnStarted).Milliseconds()), transcript, ts.assistantText.String(), "interrupted")
		return
	}

	o.flushTail(ctx, sess, ts, emit)

	if ts.assistantText.Len() > 0 {
		sess.AppendMessage("assistant", ts.assistantText.String())
	}
	emit(Event{Type: "llm_text", Text: "", IsFinal: true})
	o.endTurn(sess, emit)
	tracer.EndRun(runID, float64(time.Since(turnStarted).Milliseconds()), transcript, ts.assistantText.String(), llmStatus)
}

func (o *Orchestrator) endTurn(sess *session.Session, emit EventCallback) {
	sess.Transition(session.StateIdle)
	emit(Event{Type: "status", State: string(session.StateIdle)})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// handleToken runs one streamed token through the filter chain and emits/
// speaks any phrases it completes (spec §4.12 step 5).
func (o *Orchestrator) handleToken(ctx context.Context, sess *session.Session, ts *turnState, token string, emit EventCallback) {
	afterThink := ts.think.Feed(token)
	afterTools := ts.toolCalls.Feed(afterThink)

	for ts.detectedSeen < len(ts.toolCalls.Detected) {
		raw := ts.toolCalls.Detected[ts.detectedSeen]
		ts.detectedSeen++
		name, args := parseInlineToolCall(raw)
		emit(Event{Type: "tool_call", ToolCallID: uuid.NewString(), FunctionName: name, Arguments: args})
		o.maybeSpeakPlaceholder(ctx, sess, ts, emit)
	}

	for _, p := range ts.phrases.AddToken(afterTools) {
		o.speakPhrase(ctx, sess, ts, p, emit)
	}
}

// flushTail drains the filter chain and phrase detector at end of stream
// (spec §4.12 step 6): flush the thinking filter, then the tool-call
// filter, feed what's left to the phrase detector, and speak whatever
// phrase remains.
func (o *Orchestrator) flushTail(ctx context.Context, sess *session.Session, ts *turnState, emit EventCallback) {
	thinkRemainder := ts.think.Flush()
	afterTools := ts.toolCalls.Feed(thinkRemainder)
	afterTools += ts.toolCalls.Flush()

	for ts.detectedSeen < len(ts.toolCalls.Detected) {
		raw := ts.toolCalls.Detected[ts.detectedSeen]
		ts.detectedSeen++
		name, args := parseInlineToolCall(raw)
		emit(Event{Type: "tool_call", ToolCallID: uuid.NewString(), FunctionName: name, Arguments: args})
		o.maybeSpeakPlaceholder(ctx, sess, ts, emit)
	}

	for _, p := range ts.phrases.AddToken(afterTools) {
		o.speakPhrase(ctx, sess, ts, p, emit)
	}
	if last := ts.phrases.Flush(); last != "" {
		o.speakPhrase(ctx, sess, ts, last, emit)
	}
}

func (o *Orchestrator) speakPhrase(ctx context.Context, sess *session.Session, ts *turnState, p string, emit EventCallback) {
	ts.assistantText.WriteString(p)
	ts.assistantText.WriteString(" ")
	emit(Event{Type: "llm_text", Text: p, IsFinal: false})
	o.synthesizeAndStream(ctx, sess, ts, p, emit)
}

// maybeSpeakPlaceholder speaks the configured placeholder phrase at most
// once per turn, on the turn's first tool call, whether or not phrases
// have already been synthesized (spec §6 open question, resolved via
// Config.ToolCallPlaceholder).
func (o *Orchestrator) maybeSpeakPlaceholder(ctx context.Context, sess *session.Session, ts *turnState, emit EventCallback) {
	if ts.placeholderSaid || sess.Config.ToolCallPlaceholder == "" {
		return
	}
	ts.placeholderSaid = true
	o.synthesizeAndStream(ctx, sess, ts, sess.Config.ToolCallPlaceholder, emit)
}

// synthesizeAndStream implements spec §4.12.1: normalize the phrase once
// more, allocate its phrase index, stream synthesized audio back while
// honoring mid-phrase interrupts, and emit the bracketing tts_start/
// tts_done frames.
func (o *Orchestrator) synthesizeAndStream(ctx context.Context, sess *session.Session, ts *turnState, text string, emit EventCallback) {
	spoken := filter.NormalizeForSpeech(stripThinkTags(text))
	if spoken == "" {
		return
	}

	idx := sess.NextPhraseIndex()
	emit(Event{Type: "tts_start", PhraseIndex: idx})

	samples := 0
	client := o.ttsFor(sess.ID)
	err := client.SynthesizePhrase(ctx, spoken, sess.Config.TTSSpeed, sess.Config.TTSModel, sess.Config.TTSVoice, func(c ttsstream.Chunk) bool {
		if sess.ConsumeInterrupted() {
			o.HandleInterrupt(ctx, sess, emit)
			return false
		}
		if len(c.Audio) > 0 {
			if !ts.firstAudioSent {
				ts.firstAudioSent = true
				metrics.E2EDuration.Observe(time.Since(ts.turnStarted).Seconds())
			}
			emit(Event{Type: "audio", Audio: c.Audio})
			samples += len(c.Audio) / 2
		}
		return true
	})
	if err != nil {
		metrics.Errors.WithLabelValues("turn", "tts").Inc()
		slog.Debug("turnloop: tts synthesis failed", "session_id", sess.ID, "error", err)
	}

	emit(Event{Type: "tts_done", PhraseIndex: idx, Duration: float64(samples) / 24000.0})
}

// HandleInterrupt implements spec §4.12.2's exact four-step sequence:
// raise the flag, reset the barge-in counter, transition through
// INTERRUPTED with its status event, close the TTS connection, then
// settle in LISTENING with its status event.
func (o *Orchestrator) HandleInterrupt(ctx context.Context, sess *session.Session, emit EventCallback) {
	sess.SetInterrupted()
	sess.ResetBargeIn()

	sess.Transition(session.StateInterrupted)
	emit(Event{Type: "status", State: string(session.StateInterrupted)})

	o.CloseTTS(sess.ID)

	sess.Transition(session.StateListening)
	emit(Event{Type: "status", State: string(session.StateListening)})
}

func stripThinkTags(text string) string {
	tf := filter.NewTagFilter("think", false)
	out := tf.Feed(text)
	out += tf.Flush()
	return out
}

func phraseConfigFrom(cfg session.Config) phrase.Config {
	pc := phrase.DefaultConfig()
	pc.SentenceBoundaryOnly = cfg.SentenceBoundaryOnly
	return pc
}

func parseInlineToolCall(raw string) (name, args string) {
	trimmed := strings.TrimSpace(raw)
	var obj map[string]json.RawMessage
	if strings.HasPrefix(trimmed, "[") {
		var arr []json.RawMessage
		if json.Unmarshal([]byte(trimmed), &arr) == nil && len(arr) > 0 {
			_ = json.Unmarshal(arr[0], &obj)
		}
	} else {
		_ = json.Unmarshal([]byte(trimmed), &obj)
	}
	if obj == nil {
		return "", raw
	}
	if n, ok := obj["name"]; ok {
		_ = json.Unmarshal(n, &name)
	}
	if a, ok := obj["arguments"]; ok {
		args = string(a)
	}
	if args == "" {
		args = raw
	}
	return name, args
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
