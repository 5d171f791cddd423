// Package chunk splits document text into ordered, overlapping chunks for
// embedding and retrieval. The splitter is boundary-aware: it prefers to cut
// at paragraph breaks, then line breaks, then sentence ends, then word
// boundaries, falling back to a hard cut only when a window contains none.
package chunk

import (
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"
)

// punktOnce guards lazy construction of the shared sentence tokenizer.
// Loading the trained English data is cheap but not free; one instance is
// shared by all Split calls (the tokenizer is safe for concurrent use).
var (
	punktOnce sync.Once
	punktTok  *sentences.DefaultSentenceTokenizer
)

// sentenceTokenizer returns the shared English sentence tokenizer, or nil if
// the trained data failed to load. Callers fall back to a terminator scan.
func sentenceTokenizer() *sentences.DefaultSentenceTokenizer {
	punktOnce.Do(func() {
		tok, err := english.NewSentenceTokenizer(nil)
		if err == nil {
			punktTok = tok
		}
	})
	return punktTok
}

// Split divides text into ordered chunks of at most size bytes, carrying the
// last overlap bytes of each chunk into the start of the next. Empty or
// whitespace-only input yields no chunks; input no longer than size yields
// exactly one. Every returned chunk is non-empty.
//
// overlap must be non-negative and strictly smaller than size — violating
// that is a programming error, not an input error.
func Split(text string, size, overlap int) ([]string, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk: size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk: overlap must be in [0, size), got overlap=%d size=%d", overlap, size)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if len(text) <= size {
		return []string{text}, nil
	}

	sentEnds := sentenceEnds(text)

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			chunks = append(chunks, text[start:])
			break
		}

		// The cut must land strictly after start+overlap so the next chunk's
		// start (cut-overlap) always advances.
		lo := start + overlap + 1
		cut := findBoundary(text, sentEnds, lo, end)

		chunks = append(chunks, text[start:cut])

		start = cut - overlap
		// Never begin a chunk mid-rune; nudging forward shortens the carried
		// overlap by at most a few bytes.
		for start < len(text) && !utf8.RuneStart(text[start]) {
			start++
		}
	}

	return chunks, nil
}

// findBoundary picks the best cut position in (lo, hi], preferring paragraph
// breaks, then line breaks, then sentence ends, then whitespace. When the
// window has none of these the cut is hi, moved back to a rune boundary.
func findBoundary(text string, sentEnds []int, lo, hi int) int {
	window := text[lo:hi]

	// Paragraph break: cut after the blank line.
	if i := strings.LastIndex(window, "\n\n"); i >= 0 {
		return lo + i + 2
	}
	// Line break: cut after the newline.
	if i := strings.LastIndexByte(window, '\n'); i >= 0 {
		return lo + i + 1
	}
	// Sentence end: the largest recorded end position within the window.
	if end, ok := lastSentenceEnd(sentEnds, lo, hi); ok {
		return end
	}
	// Word boundary: cut after the last whitespace rune.
	if i := strings.LastIndexFunc(window, unicode.IsSpace); i >= 0 {
		_, w := utf8.DecodeRuneInString(window[i:])
		return lo + i + w
	}
	// Hard cut, aligned to a rune boundary.
	cut := hi
	for cut > lo && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut == lo {
		return hi
	}
	return cut
}

// lastSentenceEnd returns the largest sentence end position e with
// lo < e <= hi, using a backward linear scan (sentEnds is ascending).
func lastSentenceEnd(sentEnds []int, lo, hi int) (int, bool) {
	for i := len(sentEnds) - 1; i >= 0; i-- {
		e := sentEnds[i]
		if e <= lo {
			break
		}
		if e <= hi {
			return e, true
		}
	}
	return 0, false
}

// sentenceEnds returns the ascending byte offsets just past each sentence's
// final character. The trained tokenizer handles abbreviations and decimals;
// if it is unavailable a terminator scan is used instead.
func sentenceEnds(text string) []int {
	tok := sentenceTokenizer()
	if tok == nil {
		return sentenceEndsScan(text)
	}

	var ends []int
	pos := 0
	for _, s := range tok.Tokenize(text) {
		t := strings.TrimSpace(s.Text)
		if t == "" {
			continue
		}
		idx := strings.Index(text[pos:], t)
		if idx < 0 {
			continue
		}
		end := pos + idx + len(t)
		ends = append(ends, end)
		pos = end
	}
	if len(ends) == 0 {
		return sentenceEndsScan(text)
	}
	return ends
}

// sentenceEndsScan finds positions just past a '.', '!' or '?' that is
// followed by whitespace. It is the fallback when the trained tokenizer
// cannot be constructed.
func sentenceEndsScan(text string) []int {
	var ends []int
	for i := 0; i < len(text)-1; i++ {
		switch text[i] {
		case '.', '!', '?':
			if r, _ := utf8.DecodeRuneInString(text[i+1:]); unicode.IsSpace(r) {
				ends = append(ends, i+1)
			}
		}
	}
	return ends
}
