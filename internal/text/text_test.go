package text

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/zapbot/internal/database"
)

func TestSanitize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", "Olá, tudo bem?", "Olá, tudo bem?"},
		{"echoed prefix", "[2025-03-06 22:30] Ana: resposta aqui", "resposta aqui"},
		{"crlf and spaces", "linha 1  \r\n linha   2", "linha 1\n linha 2"},
		{"control chars", "a\x00b\x07c", "a b c"},
		{"excess newlines", "a\n\n\n\n\nb", "a\n\nb"},
		{"invisible unicode", "a\u200Bb\uFEFF c", "a b c"},
		{"only whitespace", " \n\t ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, Sanitize(tt.input))
		})
	}
}

func TestSplit(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"curto"}, Split("curto", 100))
	assert.Equal(t, []string{""}, Split("", 10))

	long := strings.Repeat("palavra ", 50)
	parts := Split(long, 40)
	require.Greater(t, len(parts), 1)
	for _, p := range parts {
		assert.LessOrEqual(t, utf8.RuneCountInString(p), 40)
		assert.False(t, strings.HasPrefix(p, " "))
	}
	assert.Equal(t, strings.Fields(long), strings.Fields(strings.Join(parts, " ")))

	paragraphs := "primeiro parágrafo aqui\n\nsegundo parágrafo"
	assert.Equal(t, []string{"primeiro parágrafo aqui", "segundo parágrafo"}, Split(paragraphs, 30))

	noSpaces := strings.Repeat("x", 25)
	assert.Equal(t, []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}, Split(noSpaces, 10))
}

func TestDynamicWindowKeepsNewest(t *testing.T) {
	t.Parallel()

	var msgs []*database.Message
	for i := 0; i < 10; i++ {
		msgs = append(msgs, &database.Message{ID: string(rune('a' + i)), Content: strings.Repeat("x", 30)})
	}

	// each message costs 30/3+5+15 = 30 tokens
	dw := NewDynamicWindow(100)
	selected := dw.SelectMessages(msgs, 10)
	require.Len(t, selected, 3)
	assert.Equal(t, "h", selected[0].ID)
	assert.Equal(t, "j", selected[2].ID)

	assert.Empty(t, dw.SelectMessages(msgs, 100))
	assert.Len(t, NewDynamicWindow(10000).SelectMessages(msgs, 0), 10)
}
