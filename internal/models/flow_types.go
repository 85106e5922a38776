package models

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Language is the presentation language chosen by a user. The zero value means no language
// has been chosen yet.
type Language string

// Language constants.
const (
	LanguageUnset Language = ""
	LanguageES    Language = "ES"
	LanguageGB    Language = "GB"
)

// FallbackLanguage is used to render text while a session has no language.
const FallbackLanguage = LanguageGB

// ParseLanguage converts a language code ("ES", "gb", ...) into a Language.
func ParseLanguage(code string) (Language, error) {
	switch Language(strings.ToUpper(strings.TrimSpace(code))) {
	case LanguageES:
		return LanguageES, nil
	case LanguageGB:
		return LanguageGB, nil
	default:
		return LanguageUnset, fmt.Errorf("%w: %q", ErrUnknownLanguage, code)
	}
}

// IsSet reports whether a language has been chosen.
func (l Language) IsSet() bool {
	return l == LanguageES || l == LanguageGB
}

// OrFallback returns the language itself, or FallbackLanguage when unset.
func (l Language) OrFallback() Language {
	if !l.IsSet() {
		return FallbackLanguage
	}
	return l
}

// Tag returns the BCP 47 tag for the language. Unset maps to the fallback tag.
func (l Language) Tag() language.Tag {
	switch l.OrFallback() {
	case LanguageES:
		return language.Spanish
	default:
		return language.BritishEnglish
	}
}

// DisplayName returns the English name of the language's base, e.g. "Spanish".
// It is used inside generation prompts, which are always written in English.
func (l Language) DisplayName() string {
	base, _ := l.Tag().Base()
	return display.English.Languages().Name(base)
}

// CredentialState is the position of a session in the credential linking flow.
type CredentialState string

// Credential linking states.
const (
	CredentialIdle          CredentialState = "idle"
	CredentialAwaitingToken CredentialState = "awaiting_token"
	CredentialLinked        CredentialState = "linked"
)

// EventKind classifies inbound events by shape.
type EventKind string

// Event kinds.
const (
	EventCommand   EventKind = "command"
	EventButton    EventKind = "button"
	EventText      EventKind = "text"
	EventLifecycle EventKind = "lifecycle"
)

// ParseMode is the text formatting mode of an outbound reply.
type ParseMode string

// Parse modes.
const (
	ParseModePlain ParseMode = ""
	ParseModeHTML  ParseMode = "HTML"
)
