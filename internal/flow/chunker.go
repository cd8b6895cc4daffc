package flow

import (
	"strings"

	"github.com/iqcalorie/caloriebot/internal/models"
)

// Chunk splits a reply into transport-sized pieces, preferring paragraph
// boundaries, then sentence boundaries, then a hard split. Concatenating the
// chunks (modulo the boundary whitespace) reproduces the original text.
func Chunk(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= models.MaxMessageLength {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		if current.Len() > 0 && current.Len()+len(para)+2 > models.MaxMessageLength {
			flush()
		}
		if len(para) > models.MaxMessageLength {
			flush()
			chunks = append(chunks, splitLong(para)...)
			continue
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()
	return chunks
}

// splitLong breaks an oversized paragraph at sentence boundaries, falling
// back to a hard cut for a single run longer than the limit.
func splitLong(para string) []string {
	var chunks []string
	var current strings.Builder

	for _, sentence := range splitSentences(para) {
		if current.Len() > 0 && current.Len()+len(sentence)+1 > models.MaxMessageLength {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
		for len(sentence) > models.MaxMessageLength {
			chunks = append(chunks, sentence[:models.MaxMessageLength])
			sentence = sentence[models.MaxMessageLength:]
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sentence)
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}

func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			end := i + 1
			if end < len(text) && text[end] == ' ' {
				sentences = append(sentences, strings.TrimSpace(text[start:end]))
				start = end + 1
			}
		}
	}
	if start < len(text) {
		sentences = append(sentences, strings.TrimSpace(text[start:]))
	}
	return sentences
}
