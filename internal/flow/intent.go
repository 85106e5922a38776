package flow

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/Secretario/internal/models"
)

// classify asks the generator whether text requests one of the task commands.
func (c *Conversation) classify(ctx context.Context, userID, text string) Intent {
	actx, cancel := c.adapterContext(ctx)
	defer cancel()
	out, err := c.generator.Generate(actx, classificationPrompt(text))
	if err != nil {
		slog.Warn("Conversation.classify: classification failed", "user_id", userID, "error", err)
		return IntentUnknown
	}
	return ParseIntent(out)
}

// converse answers free text: a help offer when a task request is likely, otherwise a
// plain conversational reply. Unknown intent takes the conversational branch.
func (c *Conversation) converse(ctx context.Context, sess models.Session, text string) []models.Reply {
	intent := c.classify(ctx, sess.UserID, text)
	slog.Debug("Conversation.converse: classified", "user_id", sess.UserID, "intent", intent)

	prompt := conversationalPrompt(text, sess.Language)
	if intent == IntentLikely {
		prompt = helpOfferPrompt(text, sess.Language)
	}
	out, err := c.generate(ctx, prompt)
	if err != nil {
		slog.Error("Conversation.converse: generation failed", "user_id", sess.UserID, "intent", intent, "error", err)
		return c.apology(sess.Language)
	}
	return []models.Reply{models.TextReply(out)}
}
