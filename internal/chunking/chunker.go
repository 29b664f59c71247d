// Package chunking splits document text into overlapping, sentence-aligned
// chunks suitable for embedding.
package chunking

import (
	"fmt"
	"strings"
)

// Chunker produces ordered chunks from plain text. Sizes are measured in
// runes so multi-byte scripts are never split mid-character.
type Chunker struct {
	chunkSize int
	overlap   int
}

// NewChunker creates a chunker. Overlap must be smaller than the chunk size.
func NewChunker(chunkSize, overlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("overlap %d must be in [0, %d)", overlap, chunkSize)
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap}, nil
}

// Split cuts text into chunks of at most chunkSize runes, preferring
// sentence boundaries and carrying overlap runes of trailing context into
// each following chunk. Whitespace-only input yields no chunks.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	sentences := splitSentences(text)

	var chunks []string
	var current []rune
	for _, sentence := range sentences {
		runes := []rune(sentence)

		// Oversized sentences get hard-split on their own.
		if len(runes) > c.chunkSize {
			if len(current) > 0 {
				chunks = append(chunks, string(current))
				current = c.carryOverlap(current)
			}
			for len(runes) > 0 {
				end := c.chunkSize - len(current)
				if end > len(runes) {
					end = len(runes)
				}
				current = append(current, runes[:end]...)
				runes = runes[end:]
				if len(current) == c.chunkSize {
					chunks = append(chunks, string(current))
					current = c.carryOverlap(current)
				}
			}
			continue
		}

		if len(current)+len(runes) > c.chunkSize {
			chunks = append(chunks, string(current))
			current = c.carryOverlap(current)
			// Shrink the carried tail when it would not leave room.
			if excess := len(current) + len(runes) - c.chunkSize; excess > 0 {
				current = current[excess:]
			}
		}
		current = append(current, runes...)
	}

	if trimmed := strings.TrimSpace(string(current)); trimmed != "" {
		chunks = append(chunks, string(current))
	}

	out := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		if trimmed := strings.TrimSpace(ch); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// carryOverlap returns the tail of the finished chunk that seeds the next
// one, cut at a rune boundary.
func (c *Chunker) carryOverlap(finished []rune) []rune {
	if c.overlap == 0 || len(finished) == 0 {
		return nil
	}
	start := len(finished) - c.overlap
	if start < 0 {
		start = 0
	}
	tail := make([]rune, len(finished)-start)
	copy(tail, finished[start:])
	return tail
}

// Sentence terminators for both CJK and Latin punctuation. Newlines also
// terminate so headings and list items stay intact.
var sentenceEnders = map[rune]bool{
	'。': true, '！': true, '？': true, '；': true,
	'.': true, '!': true, '?': true, ';': true,
	'\n': true,
}

func splitSentences(text string) []string {
	var sentences []string
	var current []rune
	for _, r := range text {
		current = append(current, r)
		if sentenceEnders[r] {
			sentences = append(sentences, string(current))
			current = current[:0]
		}
	}
	if len(current) > 0 {
		sentences = append(sentences, string(current))
	}
	return sentences
}
