package knowledge

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/edgard/zapbot/internal/text"
)

var (
	paragraphBreak = regexp.MustCompile(`\n\s*\n`)
	sentenceEnd    = regexp.MustCompile(`([.!?…])\s+`)
)

// Chunk splits s into passages of at most size runes. Paragraphs are packed
// together while they fit; oversized paragraphs are packed by sentence and
// oversized sentences are split on word boundaries.
func Chunk(s string, size int) []string {
	if size <= 0 {
		size = 800
	}

	var units []string
	for _, para := range paragraphBreak.Split(s, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if utf8.RuneCountInString(para) <= size {
			units = append(units, para)
			continue
		}
		for _, sentence := range sentences(para) {
			if utf8.RuneCountInString(sentence) <= size {
				units = append(units, sentence)
				continue
			}
			units = append(units, text.Split(sentence, size)...)
		}
	}

	var (
		chunks  []string
		current strings.Builder
		runes   int
	)
	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			runes = 0
		}
	}
	for _, unit := range units {
		n := utf8.RuneCountInString(unit)
		if runes > 0 && runes+1+n > size {
			flush()
		}
		if runes > 0 {
			current.WriteByte('\n')
			runes++
		}
		current.WriteString(unit)
		runes += n
	}
	flush()
	return chunks
}

func sentences(para string) []string {
	marked := sentenceEnd.ReplaceAllString(para, "$1\x00")
	var out []string
	for _, s := range strings.Split(marked, "\x00") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
