// Package filter screens prompts for disallowed content. Matching is
// keyword-based over a normalized form of the prompt, which defeats the
// common evasion tricks: accents and homoglyphs, leetspeak digits, and
// separator padding like "n-u-d-e".
package filter

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/types"
)

var leetReplacer = strings.NewReplacer(
	"0", "o",
	"1", "i",
	"3", "e",
	"4", "a",
	"5", "s",
	"7", "t",
	"@", "a",
	"$", "s",
	"8", "b",
)

// normalize lowercases, strips combining marks via NFKD, substitutes
// leetspeak digits, and removes whitespace and separator runs.
func normalize(text string) string {
	text = strings.ToLower(text)
	text = norm.NFKD.String(text)

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		switch r {
		case ' ', '\t', '\n', '\r', '-', '_', '.':
			continue
		}
		b.WriteRune(r)
	}
	return leetReplacer.Replace(b.String())
}

var blockedKeywords = func() []string {
	raw := []string{
		"nude", "naked", "nsfw", "explicit", "pornographic", "sexual",
		"xxx", "erotic", "adult content", "lewd",
		"gore", "blood", "violent", "gruesome", "mutilated",
		"hate", "racist", "offensive", "discriminatory",
	}
	normalized := make([]string, len(raw))
	for i, kw := range raw {
		normalized[i] = normalize(kw)
	}
	return normalized
}()

// Check returns ErrPromptRejected when the prompt matches a blocked
// keyword. Empty prompts pass; length limits are enforced elsewhere.
func Check(prompt string) error {
	if prompt == "" {
		return nil
	}
	normalized := normalize(prompt)
	for _, kw := range blockedKeywords {
		if strings.Contains(normalized, kw) {
			return fmt.Errorf("%w: prompt contains disallowed content", types.ErrPromptRejected)
		}
	}
	return nil
}
