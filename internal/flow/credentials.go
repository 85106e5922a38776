package flow

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BTreeMap/Secretario/internal/i18n"
	"github.com/BTreeMap/Secretario/internal/models"
)

func (c *Conversation) beginLink(ctx context.Context, userID string) ([]models.Reply, error) {
	sess, err := c.sessions.Update(ctx, userID, func(s *models.Session) { s.AwaitingToken = true })
	if err != nil {
		return nil, err
	}
	slog.Debug("Conversation.beginLink: awaiting token", "user_id", userID)
	return []models.Reply{c.text(sess.Language, i18n.LinkPrompt)}, nil
}

// captureToken consumes text as the credential whatever it contains.
func (c *Conversation) captureToken(ctx context.Context, userID, text string) ([]models.Reply, error) {
	token := strings.TrimSpace(text)
	sess, err := c.sessions.Update(ctx, userID, func(s *models.Session) {
		s.AwaitingToken = false
		if token != "" {
			s.LinkedToken = token
		}
	})
	if err != nil {
		return nil, err
	}
	if token == "" {
		slog.Info("Conversation.captureToken: empty token", "user_id", userID)
		return []models.Reply{c.text(sess.Language, i18n.LinkEmpty)}, nil
	}
	slog.Info("Conversation.captureToken: credential linked", "user_id", userID, "token_set", true)
	return []models.Reply{c.text(sess.Language, i18n.LinkConfirmed)}, nil
}
