package models

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Capabilities describes what an LLM runtime model supports.
type Capabilities struct {
	NativeAudio bool
}

type capEntry struct {
	caps      Capabilities
	fetchedAt time.Time
}

// CapabilitiesCache fetches and caches GET /v1/models/{id}/capabilities
// (spec §4.13, §6), falling back to a name heuristic if the endpoint is
// unreachable.
type CapabilitiesCache struct {
	baseURL string
	client  *http.Client

	mu      sync.Mutex
	entries map[string]capEntry
}

// NewCapabilitiesCache creates a cache pointed at the LLM runtime's base URL.
func NewCapabilitiesCache(baseURL string) *CapabilitiesCache {
	return &CapabilitiesCache{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
		entries: make(map[string]capEntry),
	}
}

// Get returns the capabilities for modelID, using a cached value if still
// within ttl. On fetch failure it falls back to a name heuristic rather
// than erroring (spec §4.13: "fall back to name heuristic if the
// endpoint is unreachable").
func (c *CapabilitiesCache) Get(ctx context.Context, modelID string, ttl time.Duration) Capabilities {
	c.mu.Lock()
	if e, ok := c.entries[modelID]; ok && time.Since(e.fetchedAt) < ttl {
		c.mu.Unlock()
		return e.caps
	}
	c.mu.Unlock()

	caps, err := c.fetch(ctx, modelID)
	if err != nil {
		caps = Capabilities{NativeAudio: heuristicNativeAudio(modelID)}
	}

	c.mu.Lock()
	c.entries[modelID] = capEntry{caps: caps, fetchedAt: time.Now()}
	c.mu.Unlock()
	return caps
}

func (c *CapabilitiesCache) fetch(ctx context.Context, modelID string) (Capabilities, error) {
	url := fmt.Sprintf("%s/v1/models/%s/capabilities", strings.TrimRight(c.baseURL, "/"), modelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Capabilities{}, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Capabilities{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Capabilities{}, fmt.Errorf("capabilities status %d", resp.StatusCode)
	}

	var parsed struct {
		Capabilities struct {
			NativeAudio bool `json:"native_audio"`
		} `json:"capabilities"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Capabilities{}, err
	}
	return Capabilities{NativeAudio: parsed.Capabilities.NativeAudio}, nil
}

// heuristicNativeAudio guesses native-audio support from the model name
// when the capabilities endpoint can't be reached.
func heuristicNativeAudio(modelID string) bool {
	lower := strings.ToLower(modelID)
	return strings.Contains(lower, "audio") || strings.Contains(lower, "omni")
}

// TTSModelsCache fetches and caches GET /v1/models filtered to type=="tts"
// (spec §4.13, §6), used to validate a session's requested TTS model.
type TTSModelsCache struct {
	baseURL string
	client  *http.Client

	mu        sync.Mutex
	ids       []string
	fetchedAt time.Time
}

// NewTTSModelsCache creates a cache pointed at the TTS runtime's base URL.
func NewTTSModelsCache(baseURL string) *TTSModelsCache {
	return &TTSModelsCache{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// List returns the known TTS model ids, refreshing if the cached list is
// older than ttl (spec: "cached with TTL ~60 s").
func (c *TTSModelsCache) List(ctx context.Context, ttl time.Duration) ([]string, error) {
	c.mu.Lock()
	if c.ids != nil && time.Since(c.fetchedAt) < ttl {
		ids := c.ids
		c.mu.Unlock()
		return ids, nil
	}
	c.mu.Unlock()

	ids, err := c.fetch(ctx)
	if err != nil {
		c.mu.Lock()
		cached := c.ids
		c.mu.Unlock()
		if cached != nil {
			return cached, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.ids = ids
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return ids, nil
}

func (c *TTSModelsCache) fetch(ctx context.Context) ([]string, error) {
	url := strings.TrimRight(c.baseURL, "/") + "/v1/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("models list status %d", resp.StatusCode)
	}

	var parsed struct {
		Data []struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		if m.Type == "tts" {
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

// Contains reports whether id is a known TTS model.
func (c *TTSModelsCache) Contains(ctx context.Context, id string, ttl time.Duration) (bool, []string, error) {
	ids, err := c.List(ctx, ttl)
	if err != nil {
		return false, nil, err
	}
	for _, known := range ids {
		if known == id {
			return true, ids, nil
		}
	}
	return false, ids, nil
}

// TTSModelID builds the `tts:<model>:<voice>` id form used by the models
// list (spec §6).
func TTSModelID(model, voice string) string {
	return fmt.Sprintf("tts:%s:%s", model, voice)
}
