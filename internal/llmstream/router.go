package llmstream

import "fmt"

// Router is a generic backend dispatcher mapping engine names to Client
// implementations, with O(1) lookup and a fallback default. Kept from the
// wider pack's multi-engine ASR/LLM/TTS dispatch pattern.
type Router struct {
	backends map[string]Client
	fallback string
}

// NewRouter creates a router with the given backends and fallback engine
// name, used when the requested engine is not registered.
func NewRouter(backends map[string]Client, fallback string) *Router {
	return &Router{backends: backends, fallback: fallback}
}

// Route returns the backend for engine, falling back to the default.
func (r *Router) Route(engine string) (Client, error) {
	if backend, ok := r.backends[engine]; ok {
		return backend, nil
	}
	if backend, ok := r.backends[r.fallback]; ok {
		return backend, nil
	}
	return nil, fmt.Errorf("no llm backend for engine %q", engine)
}

// Has reports whether a backend is registered for engine.
func (r *Router) Has(engine string) bool {
	_, ok := r.backends[engine]
	return ok
}

// Engines returns all registered backend names.
func (r *Router) Engines() []string {
	names := make([]string, 0, len(r.backends))
	for k := range r.backends {
		names = append(names, k)
	}
	return names
}
