package strings

import (
	"strings"
)

// DefaultCellMaxLen is the widest a free-text table cell gets before it is
// shortened.
const DefaultCellMaxLen = 72

// MinTruncateLen leaves room for one character plus "...".
const MinTruncateLen = 4

// TruncateLine flattens s to a single line and shortens it to maxLen runes,
// ending in "..." when cut. Runs of whitespace, newlines included, become
// one space. A maxLen below MinTruncateLen is raised to it.
func TruncateLine(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}

// TruncateLines applies TruncateLine to each element.
func TruncateLines(lines []string, maxLen int) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = TruncateLine(line, maxLen)
	}
	return out
}
