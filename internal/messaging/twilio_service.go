package messaging

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/Secretario/internal/models"
	"github.com/BTreeMap/Secretario/internal/twiliowhatsapp"
)

// WhatsAppUserIDPrefix marks WhatsApp user identities.
const WhatsAppUserIDPrefix = "wa:"

// emptyTwiML acknowledges a webhook without replying inline; replies go through the REST API.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

var (
	phoneNumberRegex = regexp.MustCompile(`[^0-9]`)
	htmlTagRegex     = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)
)

// signatureValidator checks Twilio webhook signatures.
type signatureValidator interface {
	Validate(url string, params map[string]string, signature string) bool
}

// TwilioOpts holds configuration for a TwilioService.
type TwilioOpts struct {
	Validator  signatureValidator
	WebhookURL string // public URL Twilio posts to, used for signature validation
}

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioOpts)

// WithSignatureValidation rejects webhook requests whose X-Twilio-Signature does not match.
func WithSignatureValidation(v signatureValidator, webhookURL string) TwilioOption {
	return func(o *TwilioOpts) {
		o.Validator = v
		o.WebhookURL = webhookURL
	}
}

// TwilioService implements Service for WhatsApp through Twilio. Inbound messages arrive on
// its webhook handler. Buttons are rendered as a numbered list and the user's next numeric
// reply in range is mapped back to the button payload.
type TwilioService struct {
	client     twiliowhatsapp.Sender
	validator  signatureValidator
	webhookURL string
	events     chan models.Event
	menus      map[string][]string // user id -> payloads of the last numbered menu
	mu         sync.RWMutex
	stopped    bool
	now        func() time.Time
}

// NewTwilioService creates a TwilioService sending through client.
func NewTwilioService(client twiliowhatsapp.Sender, opts ...TwilioOption) *TwilioService {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &TwilioService{
		client:     client,
		validator:  cfg.Validator,
		webhookURL: cfg.WebhookURL,
		events:     make(chan models.Event, DefaultChannelBufferSize),
		menus:      make(map[string][]string),
		now:        time.Now,
	}
}

// Name returns "whatsapp".
func (s *TwilioService) Name() string {
	return "whatsapp"
}

// Start is a no-op; inbound traffic arrives through the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrServiceStopped
	}
	return nil
}

// Stop closes the event channel.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.events)
	slog.Info("TwilioService stopped")
	return nil
}

// Events returns the inbound event channel.
func (s *TwilioService) Events() <-chan models.Event {
	return s.events
}

// WhatsAppUserID canonicalizes a phone number or "whatsapp:+..." address into a user id.
func WhatsAppUserID(from string) (string, error) {
	canonical := phoneNumberRegex.ReplaceAllString(from, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in %q", from)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	return WhatsAppUserIDPrefix + canonical, nil
}

// Send delivers reply as plain WhatsApp text. HTML is flattened and buttons become a
// numbered list that replaces any previous menu for the user.
func (s *TwilioService) Send(ctx context.Context, userID string, reply models.Reply) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}
	if !strings.HasPrefix(userID, WhatsAppUserIDPrefix) {
		return fmt.Errorf("%w: %q", ErrForeignUser, userID)
	}

	body, payloads := RenderWhatsApp(reply)
	s.mu.Lock()
	if len(payloads) > 0 {
		s.menus[userID] = payloads
	} else {
		delete(s.menus, userID)
	}
	s.mu.Unlock()

	to := strings.TrimPrefix(userID, WhatsAppUserIDPrefix)
	if err := s.client.SendMessage(ctx, to, body); err != nil {
		return fmt.Errorf("failed to send whatsapp message to %s: %w", userID, err)
	}
	return nil
}

// RenderWhatsApp flattens a reply to plain text and returns the button payloads in the
// order they were numbered.
func RenderWhatsApp(reply models.Reply) (string, []string) {
	text := reply.Text
	if reply.ParseMode == models.ParseModeHTML {
		text = html.UnescapeString(htmlTagRegex.ReplaceAllString(text, ""))
	}
	buttons := reply.FlatButtons()
	if len(buttons) == 0 {
		return text, nil
	}
	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n")
	payloads := make([]string, 0, len(buttons))
	for i, btn := range buttons {
		fmt.Fprintf(&b, "\n%d. %s", i+1, btn.Label)
		payloads = append(payloads, btn.Payload)
	}
	return b.String(), payloads
}

// ServeHTTP handles inbound Twilio webhook requests.
func (s *TwilioService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if s.validator != nil && !s.validator.Validate(s.webhookURL, formParams(r), r.Header.Get("X-Twilio-Signature")) {
		slog.Warn("Twilio webhook signature rejected", "remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	from := r.PostFormValue("From")
	body := r.PostFormValue("Body")
	if from == "" || strings.TrimSpace(body) == "" {
		slog.Warn("Twilio webhook missing fields", "from_set", from != "", "body_set", body != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	userID, err := WhatsAppUserID(from)
	if err != nil {
		slog.Warn("Twilio webhook invalid sender", "error", err)
		http.Error(w, "Invalid sender", http.StatusBadRequest)
		return
	}

	id := r.PostFormValue("MessageSid")
	if id == "" {
		id = uuid.NewString()
	}
	ev := s.eventFromBody(userID, body)
	ev.ID = "twilio:" + id
	ev.ReceivedAt = s.now()
	slog.Debug("Inbound WhatsApp message from Twilio", "user_id", userID, "kind", ev.Kind)
	s.safeEmit(ev)

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, emptyTwiML)
}

// eventFromBody classifies a message body. A number selecting an entry of the user's last
// menu consumes that menu and becomes a button event.
func (s *TwilioService) eventFromBody(userID, body string) models.Event {
	trimmed := strings.TrimSpace(body)
	if n, err := strconv.Atoi(trimmed); err == nil {
		s.mu.Lock()
		payloads := s.menus[userID]
		if n >= 1 && n <= len(payloads) {
			delete(s.menus, userID)
			s.mu.Unlock()
			return models.Event{UserID: userID, Kind: models.EventButton, Payload: payloads[n-1]}
		}
		s.mu.Unlock()
	}
	if name, args, ok := models.ParseCommand(trimmed); ok {
		return models.Event{UserID: userID, Kind: models.EventCommand, Command: name, Args: args}
	}
	return models.Event{UserID: userID, Kind: models.EventText, Text: body}
}

func formParams(r *http.Request) map[string]string {
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return params
}

// safeEmit pushes ev into the events channel unless the service is stopped.
func (s *TwilioService) safeEmit(ev models.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("TwilioService dropping inbound event (service stopped)", "user_id", ev.UserID)
		return
	}
	select {
	case s.events <- ev:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService events channel blocked, dropping event", "user_id", ev.UserID)
	}
}
