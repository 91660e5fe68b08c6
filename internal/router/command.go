package router

import (
	"strings"
	"unicode"
)

// CommandKind classifies a parsed message.
type CommandKind int

const (
	// CommandNone is plain text.
	CommandNone CommandKind = iota
	// CommandToggle is a double-prefixed session command such as !!suporte.
	CommandToggle
	// CommandOneShot is a single-prefixed command such as !buscar.
	CommandOneShot
)

func (k CommandKind) String() string {
	switch k {
	case CommandToggle:
		return "toggle"
	case CommandOneShot:
		return "one-shot"
	default:
		return "none"
	}
}

// Command is a parsed message. Name is lower-cased; Args is the trimmed rest
// of the text after the name.
type Command struct {
	Kind CommandKind
	Name string
	Args string
}

// Parse classifies content against prefix. A bare prefix with no name is
// plain text.
func Parse(content, prefix string) Command {
	s := strings.TrimSpace(content)
	if prefix == "" || !strings.HasPrefix(s, prefix) {
		return Command{}
	}

	kind := CommandOneShot
	rest := strings.TrimPrefix(s, prefix)
	if strings.HasPrefix(rest, prefix) {
		kind = CommandToggle
		rest = strings.TrimPrefix(rest, prefix)
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 || unicode.IsSpace(rune(rest[0])) {
		return Command{}
	}

	name := fields[0]
	args := strings.TrimSpace(strings.TrimPrefix(rest, name))
	return Command{Kind: kind, Name: strings.ToLower(name), Args: args}
}
