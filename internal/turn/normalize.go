package turn

import (
	"strings"
	"unicode"
)

// NormalizeLine canonicalizes a message line for repetition comparison:
// case-fold, strip punctuation and zero-width characters, collapse runs of
// whitespace to a single space, trim.
func NormalizeLine(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := false
	for _, r := range strings.ToLower(s) {
		switch {
		case isZeroWidth(r):
			// dropped
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			// dropped
		case unicode.IsSpace(r):
			if !lastSpace && b.Len() > 0 {
				b.WriteByte(' ')
				lastSpace = true
			}
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

func isZeroWidth(r rune) bool {
	switch r {
	case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff':
		return true
	}
	return false
}

// TrailingRepetitionCount returns the length of the trailing run of lines
// whose normalized content is identical. Empty normalized lines break the run.
func TrailingRepetitionCount(lines []string) int {
	if len(lines) == 0 {
		return 0
	}
	last := NormalizeLine(lines[len(lines)-1])
	if last == "" {
		return 0
	}
	count := 0
	for i := len(lines) - 1; i >= 0; i-- {
		if NormalizeLine(lines[i]) != last {
			break
		}
		count++
	}
	return count
}
