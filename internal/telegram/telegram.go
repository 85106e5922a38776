// Package telegram converts between Telegram updates and Secretario events and replies.
package telegram

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/BTreeMap/Secretario/internal/models"
)

// UserIDPrefix marks Telegram user identities.
const UserIDPrefix = "tg:"

// DefaultPollTimeout is the long-polling timeout.
const DefaultPollTimeout = 10 * time.Second

// Opts holds configuration options for the Telegram bot.
type Opts struct {
	Token       string
	PollTimeout time.Duration
	Offline     bool // skip the getMe call, for tests
}

// Option defines a configuration option for the Telegram bot.
type Option func(*Opts)

// WithToken sets the bot token.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithPollTimeout sets the long-polling timeout.
func WithPollTimeout(d time.Duration) Option {
	return func(o *Opts) { o.PollTimeout = d }
}

// WithOffline skips contacting Telegram on construction.
func WithOffline(offline bool) Option {
	return func(o *Opts) { o.Offline = offline }
}

// NewBot creates a long-polling telebot instance.
func NewBot(opts ...Option) (*tele.Bot, error) {
	cfg := Opts{PollTimeout: DefaultPollTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" && !cfg.Offline {
		return nil, fmt.Errorf("telegram bot token must be provided")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:       cfg.Token,
		Poller:      &tele.LongPoller{Timeout: cfg.PollTimeout},
		Offline:     cfg.Offline,
		Synchronous: true,
		OnError: func(err error, c tele.Context) {
			slog.Error("telegram: handler error", "error", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	slog.Debug("telegram.NewBot: created", "offline", cfg.Offline, "poll_timeout", cfg.PollTimeout)
	return b, nil
}

// UserID returns the Secretario identity of a Telegram user.
func UserID(id int64) string {
	return UserIDPrefix + strconv.FormatInt(id, 10)
}

// ParseUserID extracts the Telegram chat id from a Secretario identity.
func ParseUserID(userID string) (int64, error) {
	if !strings.HasPrefix(userID, UserIDPrefix) {
		return 0, fmt.Errorf("not a telegram user id: %q", userID)
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(userID, UserIDPrefix), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram user id %q: %w", userID, err)
	}
	return id, nil
}

func updateID(u tele.Update) string {
	return "tg:" + strconv.Itoa(u.ID)
}

// EventFromUpdate maps a Telegram update to an event. ok is false for updates that carry
// nothing to process: non-private chats, bots, empty texts and membership changes other
// than a user (re)joining.
func EventFromUpdate(u tele.Update, now time.Time) (models.Event, bool) {
	switch {
	case u.Callback != nil:
		return eventFromCallback(u, now)
	case u.Message != nil:
		return eventFromMessage(u, now)
	case u.MyChatMember != nil:
		return eventFromChatMember(u, now)
	}
	return models.Event{}, false
}

func eventFromMessage(u tele.Update, now time.Time) (models.Event, bool) {
	m := u.Message
	if m.Sender == nil || m.Sender.IsBot || m.Chat == nil || m.Chat.Type != tele.ChatPrivate {
		return models.Event{}, false
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return models.Event{}, false
	}
	ev := models.Event{ID: updateID(u), UserID: UserID(m.Sender.ID), ReceivedAt: now}
	if name, args, ok := models.ParseCommand(text); ok {
		ev.Kind = models.EventCommand
		ev.Command = name
		ev.Args = args
		return ev, true
	}
	ev.Kind = models.EventText
	ev.Text = m.Text
	return ev, true
}

func eventFromCallback(u tele.Update, now time.Time) (models.Event, bool) {
	cb := u.Callback
	if cb.Sender == nil || cb.Sender.IsBot {
		return models.Event{}, false
	}
	payload := strings.TrimPrefix(cb.Data, "\f")
	if payload == "" {
		return models.Event{}, false
	}
	return models.Event{
		ID:         updateID(u),
		UserID:     UserID(cb.Sender.ID),
		Kind:       models.EventButton,
		Payload:    payload,
		ReceivedAt: now,
	}, true
}

func eventFromChatMember(u tele.Update, now time.Time) (models.Event, bool) {
	cm := u.MyChatMember
	if cm.Chat == nil || cm.Chat.Type != tele.ChatPrivate || cm.Sender == nil || cm.NewChatMember == nil {
		return models.Event{}, false
	}
	if cm.NewChatMember.Role != tele.Member {
		return models.Event{}, false
	}
	return models.Event{
		ID:         updateID(u),
		UserID:     UserID(cm.Sender.ID),
		Kind:       models.EventLifecycle,
		ReceivedAt: now,
	}, true
}

// SendOptions renders a reply's parse mode and buttons as telebot send options.
func SendOptions(r models.Reply) *tele.SendOptions {
	opts := &tele.SendOptions{}
	if r.ParseMode == models.ParseModeHTML {
		opts.ParseMode = tele.ModeHTML
	}
	if len(r.Buttons) > 0 {
		rows := make([][]tele.InlineButton, 0, len(r.Buttons))
		for _, row := range r.Buttons {
			buttons := make([]tele.InlineButton, 0, len(row))
			for _, b := range row {
				buttons = append(buttons, tele.InlineButton{Text: b.Label, Data: b.Payload})
			}
			rows = append(rows, buttons)
		}
		opts.ReplyMarkup = &tele.ReplyMarkup{InlineKeyboard: rows}
	}
	return opts
}
