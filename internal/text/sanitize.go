// Package text cleans AI output, splits long replies and selects the message
// window that fits a prompt budget.
package text

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

const minNewlinesThreshold = 3

var (
	controlCharsRegex     = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
	multipleNewlinesRegex = regexp.MustCompile("\n{" + strconv.Itoa(minNewlinesThreshold) + ",}")

	// historyPrefixRegex matches the "[2025-03-06 22:30] Name:" prefix used in
	// prompt transcripts, which models sometimes echo back.
	historyPrefixRegex = regexp.MustCompile(`^\s*\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}\]\s+[^:\n]{1,64}:\s*`)

	unicodeReplacer = strings.NewReplacer(
		"\u2060", "", // word joiner
		"\uFEFF", "", // byte order mark
		"\u00AD", "", // soft hyphen
		"\u200E", "", // left-to-right mark
		"\u200F", "", // right-to-left mark
		"\u2028", "\n",
		"\u2029", "\n\n",
		"\u200B", " ",
		"\u200C", " ",
		"\u2009", " ",
		"\u200A", " ",
		"\u202F", " ",
		"\u3000", " ",
		"\u00A0", " ",
	)
)

// Sanitize normalizes generated text before delivery:
//
//  1. strips an echoed transcript prefix
//  2. normalizes line endings and special Unicode spaces
//  3. removes ASCII control characters
//  4. collapses runs of spaces inside each line
//  5. reduces 3+ newlines to a blank line and trims the result
//
// The result may be empty.
func Sanitize(input string) string {
	s := historyPrefixRegex.ReplaceAllString(input, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = unicodeReplacer.Replace(s)
	s = controlCharsRegex.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = normalizeLineWhitespace(lines[i])
	}

	s = strings.Join(lines, "\n")
	s = multipleNewlinesRegex.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func normalizeLineWhitespace(line string) string {
	var b strings.Builder
	b.Grow(len(line))
	space := false
	for _, r := range line {
		if unicode.IsSpace(r) {
			if !space {
				b.WriteRune(' ')
			}
			space = true
			continue
		}
		space = false
		b.WriteRune(r)
	}
	return strings.TrimRight(b.String(), " ")
}

// Split breaks s into parts of at most maxRunes runes, preferring paragraph,
// line and word boundaries.
func Split(s string, maxRunes int) []string {
	if maxRunes <= 0 {
		return []string{s}
	}

	var parts []string
	rest := []rune(s)
	for len(rest) > maxRunes {
		cut := lastBoundary(rest[:maxRunes])
		part := strings.TrimSpace(string(rest[:cut]))
		if part != "" {
			parts = append(parts, part)
		}
		rest = []rune(strings.TrimLeft(string(rest[cut:]), " \n"))
	}
	if tail := strings.TrimSpace(string(rest)); tail != "" || len(parts) == 0 {
		parts = append(parts, tail)
	}
	return parts
}

// lastBoundary returns the cut index inside window, falling back to a hard
// cut when no boundary exists in its second half.
func lastBoundary(window []rune) int {
	half := len(window) / 2
	for _, sep := range []string{"\n\n", "\n", " "} {
		sepRunes := []rune(sep)
		for i := len(window) - len(sepRunes); i >= half; i-- {
			if string(window[i:i+len(sepRunes)]) == sep {
				return i + len(sepRunes)
			}
		}
	}
	return len(window)
}
