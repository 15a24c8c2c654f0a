// Package chunk splits document text into overlapping, bounded fragments
// ready for embedding.
package chunk

import (
	"strings"

	"github.com/reforma-ai/ragqa/engine/domain"
)

const (
	// DefaultSize is the maximum chunk length in characters.
	DefaultSize = 800
	// DefaultOverlap is the number of characters shared by consecutive chunks.
	DefaultOverlap = 100
)

// Span is a half-open rune range [Start, End) of normalized text.
type Span struct {
	Start int
	End   int
}

// Len returns the span length in runes.
func (s Span) Len() int { return s.End - s.Start }

// Normalize collapses every whitespace run to a single space and trims the ends.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Split normalizes text and cuts it into chunks of at most size characters,
// consecutive chunks sharing overlap characters. Empty text yields no chunks.
func Split(text string, size, overlap int) ([]string, error) {
	norm := []rune(Normalize(text))
	spans, err := spans(norm, size, overlap)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(spans))
	for i, sp := range spans {
		out[i] = string(norm[sp.Start:sp.End])
	}
	return out, nil
}

// Spans is Split returning rune offsets into Normalize(text) instead of strings.
func Spans(text string, size, overlap int) ([]Span, error) {
	return spans([]rune(Normalize(text)), size, overlap)
}

// Document chunks doc and tags every fragment with its 1-based position.
func Document(doc domain.Document, size, overlap int) ([]domain.Chunk, error) {
	texts, err := Split(doc.Text, size, overlap)
	if err != nil {
		return nil, err
	}
	chunks := make([]domain.Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = domain.Chunk{Text: t, ParentTitle: doc.Title, Position: i + 1}
	}
	return chunks, nil
}

func spans(text []rune, size, overlap int) ([]Span, error) {
	if err := domain.ValidateChunking(size, overlap); err != nil {
		return nil, err
	}
	n := len(text)
	if n == 0 {
		return nil, nil
	}

	var out []Span
	start := 0
	for {
		end := start + size
		if end >= n {
			out = append(out, Span{Start: start, End: n})
			break
		}
		// A window ending right before a space already sits on a word
		// boundary; otherwise back off to the last space inside the window.
		if text[end] != ' ' {
			if cut := lastSpace(text[start:end]); cut > 0 {
				end = start + cut
			}
		}
		out = append(out, Span{Start: start, End: end})

		next := end - overlap
		if next <= start {
			next = start + 1
		}
		// Without overlap the separating space belongs to neither chunk.
		if overlap == 0 && text[next] == ' ' {
			next++
		}
		start = next
	}
	return out, nil
}

func lastSpace(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == ' ' {
			return i
		}
	}
	return -1
}
