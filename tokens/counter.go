// Package tokens provides fallback token-count estimation for text when no
// model-specific tokenizer asset is available. The estimate follows the
// rule-of-thumb that roughly 4 characters make 1 token of English text.
package tokens

import "unicode/utf8"

// DefaultCharsPerToken is the default character-to-token ratio.
const DefaultCharsPerToken = 4.0

// Counter estimates token counts for text.
type Counter interface {
	// Count estimates the number of tokens in text.
	Count(text string) int

	// FitsInLimit reports whether text fits within limit tokens.
	FitsInLimit(text string, limit int) bool
}

// EstimatingCounter estimates with a fixed characters-per-token ratio.
type EstimatingCounter struct {
	CharsPerToken float64
}

// NewEstimatingCounter returns a counter with the default ratio. A ratio of
// zero or below falls back to DefaultCharsPerToken.
func NewEstimatingCounter(charsPerToken float64) *EstimatingCounter {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	return &EstimatingCounter{CharsPerToken: charsPerToken}
}

// Count estimates tokens in text. Counts runes rather than bytes so
// multi-byte text is not over-counted.
func (c *EstimatingCounter) Count(text string) int {
	runes := utf8.RuneCountInString(text)
	return int(float64(runes)/c.CharsPerToken + 0.5)
}

// FitsInLimit reports whether text fits within limit tokens.
func (c *EstimatingCounter) FitsInLimit(text string, limit int) bool {
	return c.Count(text) <= limit
}

// EstimateTokens is a convenience for one-off counting at the default ratio.
func EstimateTokens(text string) int {
	return NewEstimatingCounter(0).Count(text)
}
