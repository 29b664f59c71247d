package conversation

import (
	"unicode"

	"course-rag-server/pkg/types"
)

// EstimateTokens approximates the token count of mixed Chinese/English
// text: one token per CJK rune, one per four runes of everything else.
// The estimate only needs to be stable and monotonic for the compaction
// threshold, not exact.
func EstimateTokens(text string) int {
	cjk, other := 0, 0
	for _, r := range text {
		if unicode.Is(unicode.Han, r) || (r >= 0x3000 && r <= 0x303F) || (r >= 0xFF00 && r <= 0xFFEF) {
			cjk++
		} else {
			other++
		}
	}
	return cjk + (other+3)/4
}

// recordTokens totals the summary plus every message in the window.
func recordTokens(summary string, messages []types.ChatMessage) int {
	total := 0
	if summary != "" {
		total = EstimateTokens(summary)
	}
	for _, m := range messages {
		total += EstimateTokens(m.Content)
	}
	return total
}
