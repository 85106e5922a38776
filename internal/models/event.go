package models

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Event is a single inbound update from a chat platform, normalized across transports.
type Event struct {
	ID         string    `json:"id"`      // transport update id, used for de-duplication
	UserID     string    `json:"user_id"` // platform-prefixed, e.g. "tg:42" or "wa:15551234567"
	Kind       EventKind `json:"kind"`
	Command    string    `json:"command,omitempty"` // command name without slash, lower case
	Args       string    `json:"args,omitempty"`    // text following the command
	Payload    string    `json:"payload,omitempty"` // button payload
	Text       string    `json:"text,omitempty"`    // free text body
	ReceivedAt time.Time `json:"received_at"`
}

// Validate checks that the event carries the fields its kind requires.
func (e Event) Validate() error {
	if strings.TrimSpace(e.UserID) == "" {
		return ErrEmptyUserID
	}
	switch e.Kind {
	case EventCommand:
		if e.Command == "" {
			return ErrEmptyCommand
		}
	case EventButton:
		if e.Payload == "" {
			return ErrEmptyPayload
		}
	case EventText, EventLifecycle:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidEventKind, e.Kind)
	}
	return nil
}

// ParseCommand splits a "/name args" body into a lower-cased command name and the
// trimmed remainder. A "@botname" suffix on the name is dropped. ok is false when the
// text is not a command.
func ParseCommand(text string) (name, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

// Button is a single inline action offered with a reply.
type Button struct {
	Label   string `json:"label"`
	Payload string `json:"payload"`
}

// Validate checks the button label and payload against transport limits.
func (b Button) Validate() error {
	if strings.TrimSpace(b.Label) == "" {
		return ErrEmptyButtonLabel
	}
	if utf8.RuneCountInString(b.Label) > MaxButtonLabelLength {
		return ErrButtonLabelTooLong
	}
	if b.Payload == "" {
		return ErrEmptyPayload
	}
	if len(b.Payload) > MaxButtonPayloadLength {
		return ErrButtonPayloadTooBig
	}
	return nil
}

// Reply is one outbound message. Buttons are laid out as rows.
type Reply struct {
	Text      string     `json:"text"`
	Buttons   [][]Button `json:"buttons,omitempty"`
	ParseMode ParseMode  `json:"parse_mode,omitempty"`
}

// TextReply builds a plain text reply.
func TextReply(text string) Reply {
	return Reply{Text: text}
}

// Validate checks the reply text and every button.
func (r Reply) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return ErrEmptyReply
	}
	if utf8.RuneCountInString(r.Text) > MaxReplyTextLength {
		return ErrReplyTooLong
	}
	for _, row := range r.Buttons {
		for _, b := range row {
			if err := b.Validate(); err != nil {
				return fmt.Errorf("button %q: %w", b.Label, err)
			}
		}
	}
	return nil
}

// ButtonCount returns the number of buttons across all rows.
func (r Reply) ButtonCount() int {
	n := 0
	for _, row := range r.Buttons {
		n += len(row)
	}
	return n
}

// FlatButtons returns the buttons in row-major order.
func (r Reply) FlatButtons() []Button {
	out := make([]Button, 0, r.ButtonCount())
	for _, row := range r.Buttons {
		out = append(out, row...)
	}
	return out
}
