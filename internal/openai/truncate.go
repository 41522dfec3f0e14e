package openai

import "strings"

const (
	// Conservative input budget shared by the embedding and chat calls.
	maxInputTokens = 8000

	// Rough English average used to convert the token budget to bytes.
	charsPerToken = 4
)

// TruncateForModel trims text to fit the model input budget, cutting at the
// last word boundary before the limit so no word is split mid-way.
func TruncateForModel(text string) string {
	limit := maxInputTokens * charsPerToken
	if len(text) <= limit {
		return text
	}

	cut := text[:limit]
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut)
}
