package ingest

import (
	"regexp"
	"strings"
)

// Splitter breaks text into chunks that respect structural boundaries where
// possible: paragraphs first, then sentences, then a forced fixed-size split
// for sentences that exceed the chunk size on their own.
type Splitter struct {
	chunkSize    int
	chunkOverlap int
}

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
)

var (
	paragraphPattern = regexp.MustCompile(`\n\s*\n`)
	sentencePattern  = regexp.MustCompile(`[^.!?。！？;；]+[.!?。！？;；]?`)
)

// NewSplitter creates a splitter. Non-positive sizes fall back to defaults,
// and overlap is clamped below the chunk size.
func NewSplitter(chunkSize, chunkOverlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = defaultChunkOverlap
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 2
	}
	return &Splitter{chunkSize: chunkSize, chunkOverlap: chunkOverlap}
}

// Split returns the chunks of text. Text at or below the chunk size comes
// back as a single chunk; empty or whitespace-only text yields no chunks.
func (s *Splitter) Split(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if len([]rune(trimmed)) <= s.chunkSize {
		return []string{trimmed}
	}

	var chunks []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if currentLen > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
			currentLen = 0
		}
	}

	for _, paragraph := range splitParagraphs(trimmed) {
		plen := len([]rune(paragraph))
		switch {
		case plen > s.chunkSize:
			flush()
			chunks = append(chunks, s.splitLargeParagraph(paragraph)...)
		case currentLen+plen+1 <= s.chunkSize:
			if currentLen > 0 {
				current.WriteString("\n\n")
				currentLen += 2
			}
			current.WriteString(paragraph)
			currentLen += plen
		default:
			flush()
			current.WriteString(paragraph)
			currentLen = plen
		}
	}
	flush()

	if s.chunkOverlap > 0 {
		chunks = s.addOverlap(chunks)
	}
	return chunks
}

func splitParagraphs(text string) []string {
	parts := paragraphPattern.Split(text, -1)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitSentences(text string) []string {
	matches := sentencePattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return []string{text}
	}
	out := matches[:0]
	for _, m := range matches {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}

// splitLargeParagraph breaks a paragraph that exceeds the chunk size into
// sentence groups, forcing a fixed-size rune split for oversized sentences.
func (s *Splitter) splitLargeParagraph(paragraph string) []string {
	var chunks []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if currentLen > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
			currentLen = 0
		}
	}

	for _, sentence := range splitSentences(paragraph) {
		runes := []rune(sentence)
		switch {
		case len(runes) > s.chunkSize:
			flush()
			for i := 0; i < len(runes); i += s.chunkSize {
				end := i + s.chunkSize
				if end > len(runes) {
					end = len(runes)
				}
				chunks = append(chunks, string(runes[i:end]))
			}
		case currentLen+len(runes)+1 <= s.chunkSize:
			if currentLen > 0 {
				current.WriteString(" ")
				currentLen++
			}
			current.WriteString(sentence)
			currentLen += len(runes)
		default:
			flush()
			current.WriteString(sentence)
			currentLen = len(runes)
		}
	}
	flush()
	return chunks
}

// addOverlap prefixes each chunk after the first with the tail of its
// predecessor, so neighbouring chunks share context for retrieval.
func (s *Splitter) addOverlap(chunks []string) []string {
	if len(chunks) <= 1 {
		return chunks
	}
	out := make([]string, len(chunks))
	out[0] = chunks[0]
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		start := len(prev) - s.chunkOverlap
		if start < 0 {
			start = 0
		}
		out[i] = strings.TrimSpace(string(prev[start:])) + "\n\n" + chunks[i]
	}
	return out
}
