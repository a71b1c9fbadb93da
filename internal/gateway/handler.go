// Package gateway is the client-facing WebSocket protocol (spec §4.13):
// handshake validation and config resolution, session creation/resume,
// the single-writer outbound event sender, and the receive loop that
// dispatches binary audio frames (VAD/barge-in/turn-detection) and JSON
// control frames (interrupt/end/config) to the turn orchestrator. Ported
// from the teacher corpus's ws/handler.go (Upgrader, newEventSender,
// processMessages conventions), generalized from its single-text-frame
// metadata handshake to this protocol's query-parameter handshake and
// its talk/snippet/text modes to this protocol's always-on VAD pipeline.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bromic007/llamafarm-sub000/gateway/internal/metrics"
	"github.com/bromic007/llamafarm-sub000/gateway/internal/models"
	"github.com/bromic007/llamafarm-sub000/gateway/internal/session"
	"github.com/bromic007/llamafarm-sub000/gateway/internal/turnloop"
)

// capabilitiesTTL bounds how long a native-audio capability lookup is
// cached, "TTL >= session" per spec §4.13 — in practice a generous
// duration, since sessions are short-lived relative to it.
const capabilitiesTTL = 30 * time.Minute

// ttsModelsTTL is the spec's "~60 s" TTS model list cache window.
const ttsModelsTTL = 60 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Config holds the shared backend clients for all sessions.
type Config struct {
	Store         *session.Store
	Orchestrator  *turnloop.Orchestrator
	Capabilities  *models.CapabilitiesCache
	TTSModels     *models.TTSModelsCache
	DefaultConfig session.Config
}

// Handler upgrades connections at /v1/{namespace}/{project}/voice/chat.
type Handler struct {
	cfg Config
}

// NewHandler creates a gateway Handler with shared backend clients.
func NewHandler(cfg Config) *Handler {
	return &Handler{cfg: cfg}
}

// ServeHTTP validates the handshake, resolves capabilities and the TTS
// model, upgrades the connection, and runs the session loop.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	namespace := r.PathValue("namespace")
	project := r.PathValue("project")

	cfg, sessionID, err := resolveConfig(r, h.cfg.DefaultConfig)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.cfg.Capabilities != nil {
		caps := h.cfg.Capabilities.Get(r.Context(), cfg.LLMModel, capabilitiesTTL)
		cfg.UseNativeAudio = caps.NativeAudio
	}

	if cfg.TTSModel != "" && h.cfg.TTSModels != nil {
		id := models.TTSModelID(cfg.TTSModel, cfg.TTSVoice)
		ok, known, err := h.cfg.TTSModels.Contains(r.Context(), id, ttsModelsTTL)
		if err == nil && !ok {
			http.Error(w, "unknown tts model "+id+"; available: "+joinOrNone(known), http.StatusBadRequest)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("gateway: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	slog.Info("gateway: session starting", "namespace", namespace, "project", project, "llm_model", cfg.LLMModel, "native_audio", cfg.UseNativeAudio)
	h.runSession(conn, sessionID, cfg)
}

func joinOrNone(ids []string) string {
	if len(ids) == 0 {
		return "(none)"
	}
	out := ids[0]
	for _, id := range ids[1:] {
		out += ", " + id
	}
	return out
}

// runSession creates/resumes the session, pre-warms TTS, and drives the
// receive loop until the client disconnects (spec §4.13, §5).
func (h *Handler) runSession(conn *websocket.Conn, sessionID string, cfg session.Config) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, created := h.cfg.Store.GetOrCreate(sessionID, cfg)
	if created {
		injectSystemPrompt(sess, cfg)
		metrics.CallsTotal.Inc()
		metrics.CallsActive.Inc()
		defer metrics.CallsActive.Dec()
	} else {
		sess.Reconfigure(cfg)
	}

	sendEvent := newEventSender(conn)
	sendEvent(turnloop.Event{Type: "session_info", SessionID: sess.ID})
	sess.Transition(session.StateIdle)
	sendEvent(turnloop.Event{Type: "status", State: string(session.StateIdle)})

	go h.cfg.Orchestrator.WarmTTS(ctx, sess)

	var turnMu sync.Mutex
	var turnCancel context.CancelFunc
	var activeTurnCtx context.Context

	startTurn := func(native bool) {
		turnMu.Lock()
		if !sess.HasAudio() {
			turnMu.Unlock()
			return
		}
		if turnCancel != nil {
			turnCancel()
		}
		audioPCM := sess.GetAudioBuffer()
		turnCtx, cancelTurn := context.WithCancel(ctx)
		turnCancel = cancelTurn
		activeTurnCtx = turnCtx
		turnMu.Unlock()

		go func() {
			if native {
				h.cfg.Orchestrator.ProcessTurnNativeAudio(turnCtx, sess, audioPCM, sendEvent)
			} else {
				h.cfg.Orchestrator.ProcessTurn(turnCtx, sess, audioPCM, sendEvent)
			}
			turnMu.Lock()
			if activeTurnCtx == turnCtx {
				turnCancel = nil
				activeTurnCtx = nil
			}
			turnMu.Unlock()
		}()
	}

	interrupt := func() {
		turnMu.Lock()
		if turnCancel != nil {
			turnCancel()
			turnCancel = nil
		}
		turnMu.Unlock()
		h.cfg.Orchestrator.HandleInterrupt(ctx, sess, sendEvent)
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		h.handleFrame(ctx, sess, msgType, data, startTurn, interrupt, sendEvent)
	}

	turnMu.Lock()
	if turnCancel != nil {
		turnCancel()
	}
	turnMu.Unlock()
	h.cfg.Orchestrator.EndSession(sess.ID)
	sendEvent(turnloop.Event{Type: "closed"})

	slog.Info("gateway: session ended", "session_id", sess.ID)
}

// injectSystemPrompt records cfg.SystemPrompt as the session's single
// initial system message: the sanitized query-parameter system_prompt
// when the handshake carries one, otherwise the configured default
// prompt. The default and the query-parameter prompt are never both
// recorded.
func injectSystemPrompt(sess *session.Session, cfg session.Config) {
	if cfg.SystemPrompt != "" {
		sess.AppendMessage("system", cfg.SystemPrompt)
	}
}

func (h *Handler) handleFrame(ctx context.Context, sess *session.Session, msgType int, data []byte, startTurn func(bool), interrupt func(), sendEvent turnloop.EventCallback) {
	if msgType == websocket.TextMessage {
		h.handleTextFrame(sess, data, startTurn, interrupt)
		return
	}
	if msgType != websocket.BinaryMessage {
		return
	}
	h.handleBinaryFrame(ctx, sess, data, startTurn, interrupt, sendEvent)
}

type controlFrame struct {
	Type string `json:"type"`
}

// handleTextFrame dispatches interrupt/end/config control frames (spec
// §4.13, §6).
func (h *Handler) handleTextFrame(sess *session.Session, data []byte, startTurn func(bool), interrupt func()) {
	var ctrl controlFrame
	if err := json.Unmarshal(data, &ctrl); err != nil {
		return
	}
	switch ctrl.Type {
	case "interrupt":
		interrupt()
	case "end":
		startTurn(sess.Config.UseNativeAudio)
	case "config":
		var frame configFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return
		}
		sess.Reconfigure(applyConfigFrame(sess.Config, frame))
	}
}

// handleBinaryFrame implements spec §4.13's three-part binary-frame
// logic: barge-in detection while SPEAKING, IDLE->LISTENING transition,
// and append+VAD+turn-detection otherwise.
func (h *Handler) handleBinaryFrame(ctx context.Context, sess *session.Session, data []byte, startTurn func(bool), interrupt func(), sendEvent turnloop.EventCallback) {
	metrics.AudioChunks.Inc()

	if sess.State() == session.StateSpeaking {
		h.detectBargeIn(ctx, sess, data, interrupt)
		return
	}

	if sess.State() == session.StateProcessing {
		// Spec §4.6: the orchestrator is the sole consumer of the buffer
		// while PROCESSING; incoming audio is discarded, not accumulated.
		return
	}

	if sess.State() == session.StateIdle {
		sess.Transition(session.StateListening)
		sendEvent(turnloop.Event{Type: "status", State: string(session.StateListening)})
	}

	pcm, err := sess.AppendAudio(ctx, data)
	if err != nil {
		sendEvent(turnloop.Event{Type: "error", Message: "unsupported audio format"})
		return
	}

	speechEnded := sess.VAD.ProcessChunk(pcm)
	if speechEnded {
		metrics.SpeechSegments.Inc()
	}

	if !sess.Config.TurnDetectionEnabled {
		if speechEnded {
			startTurn(sess.Config.UseNativeAudio)
		}
		return
	}

	if !sess.VAD.IsInSilenceWindow() {
		return
	}

	h.updatePartialTranscript(ctx, sess)
	partial := sess.GetPartialTranscript()
	if sess.Turn.ShouldEndTurn(sess.VAD.SilenceDuration(), sess.VAD.SpeechDuration(), partial) {
		startTurn(sess.Config.UseNativeAudio)
	}
}

// detectBargeIn implements spec §4.6.1/§4.13(a): while SPEAKING, a run of
// BargeInMinChunks consecutive speech-bearing chunks triggers an
// interrupt; anything else resets the counter.
func (h *Handler) detectBargeIn(ctx context.Context, sess *session.Session, data []byte, interrupt func()) {
	if !sess.Config.BargeInEnabled {
		return
	}
	if !sess.DetectBargeIn(ctx, data) {
		sess.ResetBargeIn()
		return
	}
	sess.BargeInChunks++
	if sess.BargeInChunks >= sess.Config.BargeInMinChunks {
		interrupt()
	}
}

// updatePartialTranscript runs a cheap one-shot STT probe against the
// in-progress utterance so the arbiter has a partial transcript to
// analyze (spec §9, design option (a)).
func (h *Handler) updatePartialTranscript(ctx context.Context, sess *session.Session) {
	pcm := sess.PeekAudioBuffer()
	if len(pcm) == 0 {
		return
	}
	probeCtx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
	defer cancel()
	res, err := h.cfg.Orchestrator.STT.Transcribe(probeCtx, pcm, sess.Config.STTModel, sess.Config.Language)
	if err != nil {
		return
	}
	sess.SetPartialTranscript(res.Text)
}

// newEventSender serializes concurrent writes from the receive loop and
// any number of concurrently-running orchestrator tasks onto the single
// WebSocket connection (spec §5: "the receive loop is the only writer of
// ingest state... the orchestrator task is the only writer of... output",
// but both write to the client connection, so writes themselves need a
// lock). Ported from the teacher's newEventSender.
func newEventSender(conn *websocket.Conn) turnloop.EventCallback {
	var mu sync.Mutex
	return func(ev turnloop.Event) {
		mu.Lock()
		defer mu.Unlock()

		if ev.Audio != nil {
			if err := conn.WriteMessage(websocket.BinaryMessage, ev.Audio); err != nil {
				slog.Error("gateway: write audio frame failed", "error", err)
			}
			return
		}

		payload, err := json.Marshal(ev)
		if err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			slog.Error("gateway: write event frame failed", "error", err)
		}
	}
}
