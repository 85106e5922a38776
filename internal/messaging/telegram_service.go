package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/BTreeMap/Secretario/internal/models"
	"github.com/BTreeMap/Secretario/internal/telegram"
)

// telegramBot is the subset of *tele.Bot used by TelegramService.
type telegramBot interface {
	Handle(endpoint interface{}, h tele.HandlerFunc, m ...tele.MiddlewareFunc)
	Start()
	Stop()
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Respond(c *tele.Callback, resp ...*tele.CallbackResponse) error
}

// TelegramService implements Service over a long-polling Telegram bot.
type TelegramService struct {
	bot     telegramBot
	events  chan models.Event
	mu      sync.RWMutex
	stopped bool
	running bool
	now     func() time.Time
}

// NewTelegramService wraps bot and registers its update handlers.
func NewTelegramService(bot telegramBot) *TelegramService {
	s := &TelegramService{
		bot:    bot,
		events: make(chan models.Event, DefaultChannelBufferSize),
		now:    time.Now,
	}
	handler := func(c tele.Context) error {
		s.handleUpdate(c.Update())
		return nil
	}
	bot.Handle(tele.OnText, handler)
	bot.Handle(tele.OnCallback, handler)
	bot.Handle(tele.OnMyChatMember, handler)
	return s
}

// Name returns "telegram".
func (s *TelegramService) Name() string {
	return "telegram"
}

// Start begins long polling in the background.
func (s *TelegramService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrServiceStopped
	}
	if s.running {
		return nil
	}
	s.running = true
	go s.bot.Start()
	slog.Info("TelegramService started polling")
	return nil
}

// Stop stops polling and closes the event channel.
func (s *TelegramService) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	running := s.running
	close(s.events)
	s.mu.Unlock()

	if running {
		s.bot.Stop()
	}
	slog.Info("TelegramService stopped")
	return nil
}

// Events returns the inbound event channel.
func (s *TelegramService) Events() <-chan models.Event {
	return s.events
}

// Send delivers reply as a message, with an inline keyboard when it has buttons.
func (s *TelegramService) Send(ctx context.Context, userID string, reply models.Reply) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}

	chatID, err := telegram.ParseUserID(userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrForeignUser, err)
	}
	if _, err := s.bot.Send(tele.ChatID(chatID), reply.Text, telegram.SendOptions(reply)); err != nil {
		slog.Error("TelegramService.Send failed", "user_id", userID, "error", err)
		return fmt.Errorf("failed to send telegram message to %s: %w", userID, err)
	}
	slog.Debug("TelegramService.Send succeeded", "user_id", userID, "buttons", reply.ButtonCount())
	return nil
}

// handleUpdate acknowledges button presses and forwards the update as an event.
func (s *TelegramService) handleUpdate(u tele.Update) {
	if u.Callback != nil {
		if err := s.bot.Respond(u.Callback); err != nil {
			slog.Warn("TelegramService failed to acknowledge callback", "error", err)
		}
	}
	ev, ok := telegram.EventFromUpdate(u, s.now())
	if !ok {
		slog.Debug("TelegramService ignoring update", "update_id", u.ID)
		return
	}
	s.safeEmit(ev)
}

// safeEmit pushes ev into the events channel unless the service is stopped.
func (s *TelegramService) safeEmit(ev models.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("TelegramService dropping event (service stopped)", "user_id", ev.UserID)
		return
	}
	select {
	case s.events <- ev:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TelegramService events channel blocked, dropping event", "user_id", ev.UserID, "event_id", ev.ID)
	}
}
