// Package imagegen defines the provider abstraction for image generation
// backends. Concrete clients live in subpackages (openai, bfl) and are
// constructed through New based on the configured provider.
package imagegen

import "context"

// Config holds provider connection settings for one model slot.
type Config struct {
	Provider Provider
	Model    string
	APIKey   string
	BaseURL  string
}

// Turn is one prior refinement in a session, oldest first.
type Turn struct {
	Prompt string
}

// Request carries everything a generator needs for one image.
type Request struct {
	Prompt string

	// Context holds earlier refinement prompts for the same session and
	// model. Providers fold these into the request however the backend
	// supports it.
	Context []Turn

	// SourceImage is the most recent completed image for refinement
	// requests. Providers that support image conditioning use it; others
	// ignore it.
	SourceImage []byte

	// Size in "WxH" form. Defaults to 1024x1024 when empty.
	Size string
}

// Generator produces a single image for a request. Implementations make
// exactly one generation attempt; retries belong to the caller.
type Generator interface {
	Generate(ctx context.Context, req *Request) ([]byte, error)
}

// Enhancer rewrites a prompt into a more detailed one. Optional; only
// providers with a chat endpoint implement it.
type Enhancer interface {
	Enhance(ctx context.Context, prompt string) (string, error)
}
