package context

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/types"
)

// Budget trims a context window to a token budget before it is handed to a
// provider, so stacked refinement prompts cannot blow the request. Newest
// entries win; oldest are dropped first, matching the window's FIFO
// semantics.
type Budget struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
}

// NewBudget creates a token budget for the given model name. Unknown models
// fall back to the cl100k_base encoding.
func NewBudget(model string, maxTokens int) (*Budget, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Budget{tokenizer: enc, maxTokens: maxTokens}, nil
}

func (b *Budget) countTokens(text string) int {
	return len(b.tokenizer.Encode(text, nil, nil))
}

// Trim returns the longest suffix of the window whose prompts fit the
// budget, preserving order. A single oversized entry yields an empty window
// rather than an over-budget one.
func (b *Budget) Trim(window []types.ContextEntry) []types.ContextEntry {
	used := 0
	start := len(window)
	for i := len(window) - 1; i >= 0; i-- {
		tokens := b.countTokens(window[i].Prompt)
		if used+tokens > b.maxTokens {
			break
		}
		used += tokens
		start = i
	}
	return window[start:]
}
