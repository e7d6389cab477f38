package cost

import (
	"math"
	"strings"
)

// TruncationMarker is appended to text cut down to a token budget
const TruncationMarker = "\n\n[... text truncated to fit token limit ...]"

// EstimateTokens approximates the token count of text as ceil(words / 0.75)
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	return int(math.Ceil(float64(words) / 0.75))
}

// TruncateToTokenLimit shortens text whose estimate exceeds maxTokens. The kept share
// is maxTokens/estimate of the text, less a 10% safety margin.
func TruncateToTokenLimit(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	estimate := EstimateTokens(text)
	if estimate <= maxTokens {
		return text
	}

	runes := []rune(text)
	keep := int(float64(maxTokens) / float64(estimate) * float64(len(runes)) * 0.9)
	if keep < 0 {
		keep = 0
	}
	if keep > len(runes) {
		keep = len(runes)
	}
	return string(runes[:keep]) + TruncationMarker
}
