// Package chat renders role-tagged chat transcripts into the flat prompt text
// expected by instruction-tuned models.
package chat

import (
	"errors"
	"fmt"
	"strings"
)

// Role of a chat message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role" yaml:"role" toml:"role"`
	Content string `json:"content" yaml:"content" toml:"content"`
}

// Style selects a prompt template.
type Style int

const (
	// StyleTurnMarker emits "USER: ..." / "ASSISTANT: ..." lines
	// (Vicuna / RakutenAI-chat style).
	StyleTurnMarker Style = iota
	// StyleBracket emits Llama-2 chat "[INST] ... [/INST]" blocks.
	StyleBracket
)

var (
	ErrEmptyMessages = errors.New("no chat messages")
	ErrUnknownFormat = errors.New("unknown chat format")
)

func (s Style) String() string {
	switch s {
	case StyleTurnMarker:
		return "turn"
	case StyleBracket:
		return "llama2"
	default:
		return fmt.Sprintf("Style(%d)", int(s))
	}
}

// ParseStyle maps a format name to a Style. Names are case-insensitive.
func ParseStyle(name string) (Style, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "turn", "rakuten", "vicuna", "user-assistant":
		return StyleTurnMarker, nil
	case "llama2", "llama-2", "bracket", "inst":
		return StyleBracket, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// Format renders msgs in the given style.
func Format(msgs []Message, style Style) (string, error) {
	if len(msgs) == 0 {
		return "", ErrEmptyMessages
	}
	switch style {
	case StyleTurnMarker:
		return formatTurns(msgs), nil
	case StyleBracket:
		return formatBracket(msgs), nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFormat, style)
}

// formatTurns drops system messages and ends with a cue for whichever role
// speaks next.
func formatTurns(msgs []Message) string {
	var b strings.Builder
	last := RoleAssistant
	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			b.WriteString("USER: ")
		case RoleAssistant:
			b.WriteString("ASSISTANT: ")
		default:
			continue
		}
		b.WriteString(m.Content)
		b.WriteByte('\n')
		last = m.Role
	}
	if last == RoleUser {
		b.WriteString("ASSISTANT: ")
	} else {
		b.WriteString("USER: ")
	}
	return b.String()
}

const (
	bos          = "<s>"
	eos          = "</s>"
	instOpen     = "[INST]"
	instClose    = "[/INST]"
	sysOpen      = "<<SYS>>\n"
	sysClose     = "\n<</SYS>>"
	turnSep      = " "
	endOfTurnSep = eos
)

type turn struct {
	prefix string
	text   string
}

// formatBracket follows the Llama-2 chat template: the first system message
// is folded into the opening [INST] block, and separators alternate between a
// space after user turns and </s> after assistant turns.
func formatBracket(msgs []Message) string {
	var system string
	for _, m := range msgs {
		if m.Role == RoleSystem {
			system = m.Content
			break
		}
	}
	if system != "" {
		system = bos + instOpen + " " + sysOpen + system + sysClose
	}

	turns := make([]turn, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			turns = append(turns, turn{prefix: bos + instOpen, text: m.Content})
		case RoleAssistant:
			turns = append(turns, turn{prefix: instClose, text: m.Content})
		}
	}

	seps := [2]string{turnSep, endOfTurnSep}
	var b strings.Builder
	b.WriteString(system)
	b.WriteString(turnSep)
	for i, t := range turns {
		switch {
		case system != "" && i == 0:
			b.WriteString(t.text)
			b.WriteString(seps[i%2])
		case t.text != "":
			b.WriteString(t.prefix)
			b.WriteString(t.text)
			b.WriteString(" ")
			b.WriteString(seps[i%2])
		default:
			b.WriteString(t.prefix)
			b.WriteString(" ")
		}
	}
	b.WriteString(instClose)
	return b.String()
}
