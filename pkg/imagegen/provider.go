package imagegen

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Provider identifies an image generation backend.
type Provider string

const (
	ProviderOpenAI  Provider = "openai"
	ProviderBFL     Provider = "bfl"
	ProviderRecraft Provider = "recraft"
	ProviderGemini  Provider = "gemini"
)

// Defaults applied when a Config omits the base URL.
const (
	DefaultOpenAIBaseURL  = "https://api.openai.com/v1"
	DefaultBFLBaseURL     = "https://api.bfl.ai"
	DefaultRecraftBaseURL = "https://external.api.recraft.ai/v1"
	DefaultGeminiBaseURL  = "https://generativelanguage.googleapis.com/v1beta/openai"
)

// DetectProvider maps a model name onto its backend. Recraft and Gemini
// both speak the OpenAI-compatible API against their own base URLs, so
// they route through the openai client with a different default endpoint.
func DetectProvider(model string) Provider {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "flux"):
		return ProviderBFL
	case strings.Contains(m, "recraft"):
		return ProviderRecraft
	case strings.Contains(m, "gemini"):
		return ProviderGemini
	default:
		return ProviderOpenAI
	}
}

// Registry maps model names to their configured generators.
type Registry struct {
	mu         sync.RWMutex
	generators map[string]Generator
}

func NewRegistry() *Registry {
	return &Registry{generators: make(map[string]Generator)}
}

func (r *Registry) Register(name string, g Generator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[name] = g
}

func (r *Registry) For(name string) (Generator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.generators[name]
	if !ok {
		return nil, fmt.Errorf("no generator registered for model %q", name)
	}
	return g, nil
}

// Names returns the registered model names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.generators))
	for name := range r.generators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
