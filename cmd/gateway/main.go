package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/bromic007/llamafarm-sub000/gateway/internal/env"
	"github.com/bromic007/llamafarm-sub000/gateway/internal/gateway"
	"github.com/bromic007/llamafarm-sub000/gateway/internal/llmstream"
	"github.com/bromic007/llamafarm-sub000/gateway/internal/models"
	"github.com/bromic007/llamafarm-sub000/gateway/internal/orchestrator"
	"github.com/bromic007/llamafarm-sub000/gateway/internal/session"
	"github.com/bromic007/llamafarm-sub000/gateway/internal/stt"
	"github.com/bromic007/llamafarm-sub000/gateway/internal/trace"
	"github.com/bromic007/llamafarm-sub000/gateway/internal/turnloop"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	t := loadTuning("gateway.json")

	// Deployment env vars — URLs, ports, keys.
	port := env.Str("GATEWAY_PORT", "8000")
	ollamaURL := env.Str("OLLAMA_URL", "http://localhost:11434")
	ollamaModel := env.Str("OLLAMA_MODEL", "llama3.2:3b")
	sttURL := env.Str("STT_URL", "http://localhost:8001")
	sttControlURL := env.Str("STT_CONTROL_URL", "")
	sttHealthURL := env.Str("STT_HEALTH_URL", "")
	ttsStreamURL := env.Str("TTS_STREAM_URL", "ws://localhost:8002/v1/audio/speech/stream")
	ttsModelsURL := env.Str("TTS_URL", "http://localhost:8002")
	ttsControlURL := env.Str("TTS_CONTROL_URL", "")
	ttsHealthURL := env.Str("TTS_HEALTH_URL", "")
	openaiAPIKey := env.Str("OPENAI_API_KEY", "")
	anthropicAPIKey := env.Str("ANTHROPIC_API_KEY", "")
	postgresURL := env.Str("POSTGRES_URL", "")
	decoderBinary := env.Str("DECODER_BINARY", "ffmpeg")

	session.DecoderBinary = decoderBinary
	session.DefaultVADThreshold = t.VADSpeechThreshold

	// Service orchestrator — supervises the STT/TTS sidecars over their
	// HTTP control servers. Kept as an ops convenience alongside the core
	// voice path, not on it.
	svcRegistry := orchestrator.NewRegistry(map[string]orchestrator.ServiceMeta{
		"stt": {Category: "stt", HealthURL: sttHealthURL, ControlURL: sttControlURL},
		"tts": {Category: "tts", HealthURL: ttsHealthURL, ControlURL: ttsControlURL},
	})
	svcMgr := orchestrator.NewHTTPControlManager(svcRegistry)

	sttClient := stt.New(sttURL, t.STTPoolSize)
	llmRouter := initLLM(ollamaURL, ollamaModel, openaiAPIKey, anthropicAPIKey, t)

	turnOrchestrator := turnloop.New(sttClient, llmRouter, ttsStreamURL)

	var traceStore *trace.Store
	if postgresURL != "" {
		var traceErr error
		traceStore, traceErr = trace.Open(postgresURL)
		if traceErr != nil {
			slog.Error("trace store open failed", "error", traceErr)
		}
		if traceStore != nil {
			turnOrchestrator.SetTraceStore(traceStore)
			slog.Info("tracing enabled", "postgres", postgresURL)
		}
	}

	store := session.NewStore(t.SessionCapacity)

	defaultCfg := session.DefaultConfig()
	defaultCfg.SystemPrompt = t.SystemPrompt
	defaultCfg.ToolCallPlaceholder = t.ToolCallPlaceholder

	handler := gateway.NewHandler(gateway.Config{
		Store:         store,
		Orchestrator:  turnOrchestrator,
		Capabilities:  models.NewCapabilitiesCache(ollamaURL),
		TTSModels:     models.NewTTSModelsCache(ttsModelsURL),
		DefaultConfig: defaultCfg,
	})

	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		ollamaURL:   ollamaURL,
		ollamaModel: ollamaModel,
		llmRouter:   llmRouter,
		svcMgr:      svcMgr,
		wsHandler:   handler,
		traceStore:  traceStore,
	})

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: mux}

	go awaitShutdown(srv, ollamaURL, svcMgr, traceStore)

	slog.Info("gateway starting", "addr", addr)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("gateway stopped")
}

// awaitShutdown blocks until SIGINT/SIGTERM, then gracefully unloads
// models, stops sidecar services, closes the trace store, and shuts the
// HTTP server down.
func awaitShutdown(srv *http.Server, ollamaURL string, svcMgr *orchestrator.HTTPControlManager, traceStore *trace.Store) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	slog.Info("unloading ollama models")
	if err := models.UnloadAllLLMs(ctx, ollamaURL); err != nil {
		slog.Warn("ollama unload", "error", err)
	}

	slog.Info("stopping ML services")
	stopRunningServices(ctx, svcMgr, "shutdown")

	if traceStore != nil {
		traceStore.Close()
	}

	srv.Shutdown(ctx)
}

// initLLM registers one raw streaming backend per configured engine,
// mirroring the teacher's Ollama-always, OpenAI/Anthropic-if-keyed
// registration, plus an "agent" engine routed through the openai-agents-go
// SDK's Runner for callers that want the SDK's own tool resolution instead
// of this package's manual tool-call accumulation (spec §4.8).
func initLLM(ollamaURL, ollamaModel, openaiAPIKey, anthropicAPIKey string, t tuning) *llmstream.Router {
	backends := map[string]llmstream.Client{
		"ollama": llmstream.NewOllamaClient(ollamaURL, ollamaModel, t.LLMPoolSize),
	}
	if openaiAPIKey != "" {
		backends["openai"] = llmstream.NewOpenAIClient(openaiAPIKey, t.OpenAIURL, t.OpenAIModel, t.LLMPoolSize)
	}
	if anthropicAPIKey != "" {
		backends["anthropic"] = llmstream.NewAnthropicClient(anthropicAPIKey, t.AnthropicURL, t.AnthropicModel, t.LLMPoolSize)
	}

	agentProvider := agents.NewOpenAIProvider(agents.OpenAIProviderParams{
		BaseURL:      param.NewOpt(ollamaURL + "/v1/"),
		APIKey:       param.NewOpt("ollama"),
		UseResponses: param.NewOpt(false),
	})
	backends["agent"] = llmstream.NewAgentClient(agentProvider, ollamaModel, t.LLMMaxTokens)

	return llmstream.NewRouter(backends, "ollama")
}
