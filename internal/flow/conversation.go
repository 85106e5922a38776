package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/Secretario/internal/i18n"
	"github.com/BTreeMap/Secretario/internal/models"
)

// Command names.
const (
	CommandStart     = "start"
	CommandHelp      = "help"
	CommandDaily     = "daily"
	CommandRecommend = "recommend"
	CommandLink      = "link"
	CommandNewTask   = "newtask"
)

// Button payloads.
const (
	PayloadLangES        = "lang_es"
	PayloadLangGB        = "lang_gb"
	PayloadCommandPrefix = "cmd_"
	PayloadPickProject   = "pick_proj:"
	PayloadCancelProject = "cancel_proj"
)

// DefaultAdapterTimeout bounds each generator or tracker call.
const DefaultAdapterTimeout = 30 * time.Second

// buttonCommands are the commands reachable through a cmd_<name> payload.
var buttonCommands = map[string]bool{
	CommandStart:     true,
	CommandHelp:      true,
	CommandDaily:     true,
	CommandRecommend: true,
	CommandLink:      true,
}

// Opts holds configuration for a Conversation.
type Opts struct {
	AdapterTimeout time.Duration
	Catalog        *i18n.Catalog
}

// Option configures a Conversation.
type Option func(*Opts)

// WithAdapterTimeout bounds every generator and tracker call.
func WithAdapterTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.AdapterTimeout = d
	}
}

// WithCatalog overrides the message catalog.
func WithCatalog(c *i18n.Catalog) Option {
	return func(o *Opts) {
		o.Catalog = c
	}
}

// Conversation is the per-event state machine.
type Conversation struct {
	sessions       SessionManager
	generator      Generator
	trackers       TrackerFactory
	catalog        *i18n.Catalog
	adapterTimeout time.Duration
}

// NewConversation creates a Conversation over the given collaborators.
func NewConversation(sessions SessionManager, generator Generator, trackers TrackerFactory, opts ...Option) *Conversation {
	cfg := Opts{AdapterTimeout: DefaultAdapterTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Catalog == nil {
		cfg.Catalog = i18n.Default()
	}
	slog.Debug("Creating Conversation", "adapter_timeout", cfg.AdapterTimeout)
	return &Conversation{
		sessions:       sessions,
		generator:      generator,
		trackers:       trackers,
		catalog:        cfg.Catalog,
		adapterTimeout: cfg.AdapterTimeout,
	}
}

// HandleEvent processes one inbound event and returns the replies to send in order.
// The caller must not run two events for the same user concurrently.
func (c *Conversation) HandleEvent(ctx context.Context, ev models.Event) ([]models.Reply, error) {
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}
	slog.Debug("Conversation.HandleEvent", "user_id", ev.UserID, "event_id", ev.ID, "kind", ev.Kind)

	if ev.Kind != models.EventLifecycle {
		joinGreeted, err := c.takeJoinGreeting(ctx, ev.UserID)
		if err != nil {
			return nil, err
		}
		if joinGreeted && ev.Kind == models.EventCommand && ev.Command == CommandStart {
			slog.Debug("Conversation.HandleEvent: start already answered by join greeting", "user_id", ev.UserID)
			return nil, nil
		}
	}

	switch ev.Kind {
	case models.EventCommand:
		return c.handleCommand(ctx, ev.UserID, ev.Command, ev.Args)
	case models.EventButton:
		return c.handleButton(ctx, ev.UserID, ev.Payload)
	case models.EventText:
		return c.handleText(ctx, ev.UserID, ev.Text)
	case models.EventLifecycle:
		return c.handleLifecycle(ctx, ev.UserID)
	}
	return nil, nil
}

func (c *Conversation) handleCommand(ctx context.Context, userID, name, args string) ([]models.Reply, error) {
	switch name {
	case CommandStart:
		return c.start(ctx, userID)
	case CommandHelp:
		sess, err := c.sessions.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
		return []models.Reply{c.helpMenu(sess.Language)}, nil
	case CommandDaily:
		return c.daily(ctx, userID)
	case CommandRecommend:
		return c.recommend(ctx, userID)
	case CommandLink:
		return c.beginLink(ctx, userID)
	case CommandNewTask:
		return c.newTask(ctx, userID, args)
	default:
		slog.Debug("Conversation.handleCommand: ignoring unknown command", "user_id", userID, "command", name)
		return nil, nil
	}
}

func (c *Conversation) handleButton(ctx context.Context, userID, payload string) ([]models.Reply, error) {
	switch {
	case payload == PayloadLangES:
		return c.selectLanguage(ctx, userID, models.LanguageES)
	case payload == PayloadLangGB:
		return c.selectLanguage(ctx, userID, models.LanguageGB)
	case payload == PayloadCancelProject:
		slog.Debug("Conversation.handleButton: project selection cancelled", "user_id", userID)
		return nil, nil
	case strings.HasPrefix(payload, PayloadPickProject):
		projectID := strings.TrimPrefix(payload, PayloadPickProject)
		if projectID != "" {
			return c.pickProject(ctx, userID, projectID)
		}
	case strings.HasPrefix(payload, PayloadCommandPrefix):
		name := strings.TrimPrefix(payload, PayloadCommandPrefix)
		if buttonCommands[name] {
			return c.handleCommand(ctx, userID, name, "")
		}
	}
	slog.Debug("Conversation.handleButton: ignoring unknown payload", "user_id", userID, "payload", payload)
	return nil, nil
}

func (c *Conversation) handleText(ctx context.Context, userID, text string) ([]models.Reply, error) {
	sess, err := c.sessions.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sess.AwaitingToken {
		return c.captureToken(ctx, userID, text)
	}
	return c.converse(ctx, sess, text), nil
}

func (c *Conversation) handleLifecycle(ctx context.Context, userID string) ([]models.Reply, error) {
	sess, err := c.sessions.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sess.Greeted {
		slog.Debug("Conversation.handleLifecycle: already greeted", "user_id", userID)
		return nil, nil
	}
	sess, err = c.sessions.Update(ctx, userID, func(s *models.Session) {
		s.Greeted = true
		s.JoinGreetingPending = true
	})
	if err != nil {
		return nil, err
	}
	return c.greeting(sess), nil
}

// takeJoinGreeting clears the join-greeting marker and reports whether it was set.
func (c *Conversation) takeJoinGreeting(ctx context.Context, userID string) (bool, error) {
	sess, err := c.sessions.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	if !sess.JoinGreetingPending {
		return false, nil
	}
	if _, err := c.sessions.Update(ctx, userID, func(s *models.Session) { s.JoinGreetingPending = false }); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Conversation) start(ctx context.Context, userID string) ([]models.Reply, error) {
	sess, err := c.sessions.Update(ctx, userID, func(s *models.Session) { s.Greeted = true })
	if err != nil {
		return nil, err
	}
	return c.greeting(sess), nil
}

func (c *Conversation) greeting(sess models.Session) []models.Reply {
	return []models.Reply{{
		Text: c.catalog.Text(sess.Language, i18n.Greeting),
		Buttons: [][]models.Button{{
			{Label: "ES - Español", Payload: PayloadLangES},
			{Label: "GB - English", Payload: PayloadLangGB},
		}},
	}}
}

func (c *Conversation) selectLanguage(ctx context.Context, userID string, lang models.Language) ([]models.Reply, error) {
	if _, err := c.sessions.Update(ctx, userID, func(s *models.Session) { s.Language = lang }); err != nil {
		return nil, err
	}
	slog.Info("Conversation.selectLanguage: language set", "user_id", userID, "language", lang)
	return []models.Reply{
		c.text(lang, i18n.LanguageSet),
		c.helpMenu(lang),
	}, nil
}

func (c *Conversation) helpMenu(lang models.Language) models.Reply {
	return models.Reply{
		Text: c.catalog.Text(lang, i18n.Help),
		Buttons: [][]models.Button{
			{{Label: c.catalog.Text(lang, i18n.ButtonDaily), Payload: PayloadCommandPrefix + CommandDaily}},
			{{Label: c.catalog.Text(lang, i18n.ButtonRecommend), Payload: PayloadCommandPrefix + CommandRecommend}},
			{{Label: c.catalog.Text(lang, i18n.ButtonLink), Payload: PayloadCommandPrefix + CommandLink}},
		},
	}
}

func (c *Conversation) text(lang models.Language, key i18n.Key, args ...any) models.Reply {
	return models.TextReply(c.catalog.Text(lang, key, args...))
}

func (c *Conversation) apology(lang models.Language) []models.Reply {
	return []models.Reply{c.text(lang, i18n.GenericError)}
}

// adapterContext bounds one adapter call.
func (c *Conversation) adapterContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.adapterTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.adapterTimeout)
}

func (c *Conversation) generate(ctx context.Context, prompt string) (string, error) {
	actx, cancel := c.adapterContext(ctx)
	defer cancel()
	out, err := c.generator.Generate(actx, prompt)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("generator returned empty text")
	}
	return out, nil
}
