// Package chunk splits raw document text into bounded-size fragments for
// embedding and retrieval.
//
// Two policies are provided:
//   - SplitWords: fixed-size groups of whitespace-delimited words.
//   - SplitParagraphs: paragraphs accumulated up to a word budget, never
//     splitting a paragraph across fragments.
//
// Both are deterministic and side-effect free.
package chunk

import (
	"errors"
	"strings"
)

// ErrInvalidChunkSize is returned when the word budget is not positive.
var ErrInvalidChunkSize = errors.New("chunk: max words must be positive")

// Fragment is a bounded slice of a source document. Index is a zero-based,
// contiguous, per-document sequence number assigned at chunking time.
// WordCount is the whitespace-delimited token count of Content.
type Fragment struct {
	Content   string
	WordCount int
	Index     int
}

// WordCount returns the number of whitespace-delimited words in text.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// SplitWords slices text into consecutive groups of exactly maxWords words;
// the last group may be shorter. Empty or whitespace-only input yields no
// fragments.
func SplitWords(text string, maxWords int) ([]Fragment, error) {
	if maxWords <= 0 {
		return nil, ErrInvalidChunkSize
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, nil
	}

	fragments := make([]Fragment, 0, (len(words)+maxWords-1)/maxWords)
	for start := 0; start < len(words); start += maxWords {
		end := min(start+maxWords, len(words))
		group := words[start:end]
		fragments = append(fragments, Fragment{
			Content:   strings.Join(group, " "),
			WordCount: len(group),
			Index:     start / maxWords,
		})
	}

	return fragments, nil
}

// SplitParagraphs splits text on blank-line boundaries and accumulates
// paragraphs into fragments, closing a fragment before the running word count
// would exceed maxWords. A single paragraph longer than maxWords is kept whole
// (accepted overflow). Empty paragraphs are dropped.
func SplitParagraphs(text string, maxWords int) ([]Fragment, error) {
	if maxWords <= 0 {
		return nil, ErrInvalidChunkSize
	}

	var paragraphs []string
	for _, p := range strings.Split(text, "\n\n") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}
	if len(paragraphs) == 0 {
		return nil, nil
	}

	var (
		fragments []Fragment
		current   []string
		words     int
		index     int
	)

	flush := func() {
		if len(current) == 0 {
			return
		}
		fragments = append(fragments, Fragment{
			Content:   strings.Join(current, "\n\n"),
			WordCount: words,
			Index:     index,
		})
		current = nil
		words = 0
		index++
	}

	for _, paragraph := range paragraphs {
		count := WordCount(paragraph)
		if words+count > maxWords {
			flush()
		}
		current = append(current, paragraph)
		words += count
	}
	flush()

	return fragments, nil
}
