package rag

import (
	"fmt"
	"iter"
	"strings"
	"unicode"
)

// span is a half-open rune range [start, end).
type span struct {
	start, end int
}

// Chunks splits text into overlapping windows of at most window runes. When a
// window stops short of the end of text, its right edge retreats to the last
// whitespace in the window if that whitespace lies past the window's midpoint.
// Consecutive chunks share overlap runes. The sequence is lazy and may be
// ranged over any number of times; chunks that are empty after trimming are skipped.
func Chunks(text string, window, overlap int) iter.Seq[string] {
	return func(yield func(string) bool) {
		runes := []rune(text)
		for s := range chunkSpans(runes, window, overlap) {
			piece := strings.TrimSpace(string(runes[s.start:s.end]))
			if piece == "" {
				continue
			}
			if !yield(piece) {
				return
			}
		}
	}
}

// Chunk validates the window parameters and collects Chunks into a slice.
func Chunk(text string, window, overlap int) ([]string, error) {
	if window <= 0 {
		return nil, fmt.Errorf("chunk window must be greater than zero, got %d", window)
	}
	if overlap < 0 || overlap >= window {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", window, overlap)
	}
	var out []string
	for c := range Chunks(text, window, overlap) {
		out = append(out, c)
	}
	return out, nil
}

func chunkSpans(runes []rune, window, overlap int) iter.Seq[span] {
	return func(yield func(span) bool) {
		if window <= 0 {
			return
		}
		if overlap < 0 || overlap >= window {
			overlap = 0
		}
		n := len(runes)
		start := 0
		for start < n {
			end := min(start+window, n)
			if end < n {
				if cut := lastSpace(runes[start:end]); cut > window/2 {
					end = start + cut
				}
			}
			if !yield(span{start: start, end: end}) {
				return
			}
			if end >= n {
				return
			}
			next := end - overlap
			if next <= start {
				next = end
			}
			start = next
		}
	}
}

func lastSpace(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return -1
}
