package flow

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/Secretario/internal/models"
)

// Intent is the outcome of classifying free text against the task-related commands.
type Intent int

// Classification outcomes. IntentUnknown means the generator failed and is treated as
// IntentUnlikely by callers.
const (
	IntentUnknown Intent = iota
	IntentLikely
	IntentUnlikely
)

// String returns a log-friendly name.
func (i Intent) String() string {
	switch i {
	case IntentLikely:
		return "likely"
	case IntentUnlikely:
		return "unlikely"
	default:
		return "unknown"
	}
}

// ParseIntent normalizes raw classifier output. Only "true", ignoring case and
// surrounding whitespace, counts as likely.
func ParseIntent(output string) Intent {
	if strings.EqualFold(strings.TrimSpace(output), "true") {
		return IntentLikely
	}
	return IntentUnlikely
}

func classificationPrompt(text string) string {
	return fmt.Sprintf("Detect whether the following message: '%s' could be identified as a command "+
		"or a request for the bot. The available functions are '/daily', which shows a list of "+
		"pending tasks, and '/recommend', which provides recommendations on how to organise "+
		"yourself. If yes, reply with just the single word 'True', otherwise reply with 'False'.", text)
}

func helpOfferPrompt(text string, lang models.Language) string {
	return fmt.Sprintf("Given the following message '%s', reply in %s in a polite way without using "+
		"very formal or technical terms, saying that you can help the user with their tasks if they "+
		"provide the information that is needed.", text, lang.OrFallback().DisplayName())
}

func conversationalPrompt(text string, lang models.Language) string {
	return fmt.Sprintf("Reply to the following message in %s in a polite way without using very "+
		"formal or technical terms: '%s'", lang.OrFallback().DisplayName(), text)
}

func recommendPrompt(tasks []models.Task, lang models.Language) string {
	var b strings.Builder
	for _, t := range tasks {
		b.WriteString("- ")
		b.WriteString(t.Name)
		b.WriteString("\n")
	}
	return fmt.Sprintf("These are the user's pending tasks:\n%s\nReply in %s in a friendly, "+
		"non-technical way with brief advice on how to organise and prioritise them today. "+
		"Keep it under 120 words.", b.String(), lang.OrFallback().DisplayName())
}

func generalTipsPrompt(lang models.Language) string {
	return fmt.Sprintf("Reply in %s in a friendly, non-technical way with three short, practical "+
		"tips on how to organise daily tasks. Keep it under 120 words.", lang.OrFallback().DisplayName())
}
