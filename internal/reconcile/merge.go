// Package reconcile turns per-chunk transcripts into one transcript. The
// texts of overlapping chunks repeat the words spoken in the shared audio,
// so adjacent texts are joined with their repeated words removed.
package reconcile

import (
	"strings"
	"unicode"
)

const (
	// minOverlapWords is the shortest tail/head match treated as a repeat.
	// A single shared word is too often a coincidence ("the", "and").
	minOverlapWords = 2
	maxOverlapWords = 3
)

// MergeOverlapping joins texts, which must be ordered by chunk index, into
// one transcript. When the last 2 or 3 words of the text merged so far
// equal the first words of the next text (ignoring case), the next text is
// appended without them; otherwise it is appended whole. The longest
// matching overlap wins. Blank texts are skipped.
func MergeOverlapping(texts []string) string {
	if len(texts) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(texts[0])
	merged := strings.Fields(texts[0])

	for _, current := range texts[1:] {
		words := strings.Fields(current)
		if len(words) == 0 {
			continue
		}

		n := overlap(merged, words)
		rest := strings.TrimSpace(afterWords(current, n))
		if rest == "" {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(rest)
		merged = append(merged, words[n:]...)
	}

	return strings.TrimSpace(b.String())
}

// overlap returns how many leading words of next repeat the trailing words
// of prev, or 0 if fewer than minOverlapWords match.
func overlap(prev, next []string) int {
	limit := min(len(prev), len(next), maxOverlapWords)
	for n := limit; n >= minOverlapWords; n-- {
		if equalFold(prev[len(prev)-n:], next[:n]) {
			return n
		}
	}
	return 0
}

func equalFold(a, b []string) bool {
	for i := range a {
		if strings.ToLower(a[i]) != strings.ToLower(b[i]) {
			return false
		}
	}
	return true
}

// afterWords returns s with its first n whitespace-separated words removed,
// keeping the rest of the text as written.
func afterWords(s string, n int) string {
	for ; n > 0; n-- {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		end := strings.IndexFunc(s, unicode.IsSpace)
		if end < 0 {
			return ""
		}
		s = s[end:]
	}
	return s
}
