// Package chunker splits page text into sentence-aligned chunks bounded by a
// soft word limit.
package chunker

import (
	"strings"
)

const (
	// DefaultMaxWords is the word bound used when the caller passes a non-positive one.
	DefaultMaxWords = 300

	// SentenceDelimiter is the lossy sentence boundary: a period followed by a space.
	SentenceDelimiter = ". "
)

// Chunk splits text on SentenceDelimiter and accumulates sentences until the
// running word count exceeds maxWords, then emits the accumulated sentences
// re-joined with the delimiter plus a trailing period. A single sentence longer
// than maxWords is emitted whole. Blank input yields no chunks.
func Chunk(text string, maxWords int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}

	var (
		chunks  []string
		pending []string
		words   int
	)
	for _, sentence := range strings.Split(text, SentenceDelimiter) {
		pending = append(pending, sentence)
		words += wordCount(sentence)
		if words > maxWords {
			chunks = append(chunks, join(pending))
			pending = pending[:0]
			words = 0
		}
	}
	if len(pending) > 0 {
		chunks = append(chunks, join(pending))
	}
	return chunks
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

func join(sentences []string) string {
	return strings.Join(sentences, SentenceDelimiter) + "."
}
