// Package api wires Secretario's modules together and runs the chat transports, their
// dispatchers and the HTTP server (health endpoint and Twilio webhook).
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/Secretario/internal/asana"
	"github.com/BTreeMap/Secretario/internal/flow"
	"github.com/BTreeMap/Secretario/internal/genai"
	"github.com/BTreeMap/Secretario/internal/messaging"
	"github.com/BTreeMap/Secretario/internal/store"
	"github.com/BTreeMap/Secretario/internal/telegram"
	"github.com/BTreeMap/Secretario/internal/twiliowhatsapp"
)

// Default server settings.
const (
	DefaultAddr            = ":8081"
	DefaultPruneInterval   = time.Hour
	DefaultDedupRetention  = 72 * time.Hour
	DefaultShutdownTimeout = 10 * time.Second
)

// WebhookPath is where Twilio posts inbound WhatsApp messages.
const WebhookPath = "/twilio/whatsapp"

// ErrNoTransports is returned when neither Telegram nor WhatsApp is configured.
var ErrNoTransports = errors.New("no chat transport configured")

// Opts holds configuration for the API server and the run loop.
type Opts struct {
	Addr             string
	PruneInterval    time.Duration
	DedupRetention   time.Duration
	HandlerTimeout   time.Duration
	TwilioAuthToken  string
	TwilioWebhookURL string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithPruneInterval sets how often old de-duplication records are deleted.
func WithPruneInterval(d time.Duration) Option {
	return func(o *Opts) {
		o.PruneInterval = d
	}
}

// WithDedupRetention sets how long de-duplication records are kept.
func WithDedupRetention(d time.Duration) Option {
	return func(o *Opts) {
		o.DedupRetention = d
	}
}

// WithHandlerTimeout bounds the processing of one inbound event.
func WithHandlerTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.HandlerTimeout = d
	}
}

// WithTwilioSignature enables X-Twilio-Signature validation on the webhook. webhookURL must
// be the public URL configured in the Twilio console.
func WithTwilioSignature(authToken, webhookURL string) Option {
	return func(o *Opts) {
		o.TwilioAuthToken = authToken
		o.TwilioWebhookURL = webhookURL
	}
}

func buildOpts(opts []Option) Opts {
	cfg := Opts{
		Addr:           DefaultAddr,
		PruneInterval:  DefaultPruneInterval,
		DedupRetention: DefaultDedupRetention,
		HandlerTimeout: messaging.DefaultHandlerTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Modules carries the options of every module Run constructs. A transport is started only
// when its Enabled flag is set.
type Modules struct {
	TelegramEnabled bool
	Telegram        []telegram.Option
	WhatsAppEnabled bool
	WhatsApp        []twiliowhatsapp.Option
	Store           []store.Option
	Backend         genai.Backend
	GenAI           []genai.Option
	Asana           []asana.Option
	Flow            []flow.Option
}

type sessionCounter interface {
	Count() int
}

// Server serves the health endpoint and, when WhatsApp is enabled, the Twilio webhook.
type Server struct {
	sessions  sessionCounter
	services  []messaging.Service
	startedAt time.Time
	mux       *http.ServeMux
}

// NewServer creates a Server. webhook may be nil.
func NewServer(sessions sessionCounter, services []messaging.Service, webhook http.Handler) *Server {
	s := &Server{
		sessions:  sessions,
		services:  services,
		startedAt: time.Now().UTC(),
		mux:       http.NewServeMux(),
	}
	s.mux.HandleFunc("/health", s.healthHandler)
	if webhook != nil {
		s.mux.Handle(WebhookPath, webhook)
	}
	s.mux.HandleFunc("/", s.notFoundHandler)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Run builds every module from m and serves until ctx is cancelled or SIGINT/SIGTERM.
func Run(ctx context.Context, m Modules, opts ...Option) error {
	cfg := buildOpts(opts)

	var storeCfg store.Opts
	for _, opt := range m.Store {
		opt(&storeCfg)
	}
	dedup, err := store.New(storeCfg.DSN)
	if err != nil {
		return fmt.Errorf("failed to open dedup store: %w", err)
	}
	defer func() {
		if err := dedup.Close(); err != nil {
			slog.Warn("api.Run: failed to close dedup store", "error", err)
		}
	}()

	gen, err := genai.New(ctx, m.Backend, m.GenAI...)
	if err != nil {
		return fmt.Errorf("failed to create %s generator: %w", m.Backend, err)
	}

	factory := asana.NewFactory(m.Asana...)
	trackers := flow.TrackerFactoryFunc(func(token string) (flow.TaskTracker, error) {
		c, err := factory.NewClient(token)
		if err != nil {
			return nil, err
		}
		return c, nil
	})

	sessions := flow.NewInMemorySessionManager()
	conv := flow.NewConversation(sessions, gen, trackers, m.Flow...)

	services, webhook, err := buildServices(m, cfg)
	if err != nil {
		return err
	}

	srv := NewServer(sessions, services, webhook)
	slog.Info("api.Run: starting", "addr", cfg.Addr, "backend", m.Backend, "transports", len(services))
	return serve(ctx, srv, conv, dedup, cfg)
}

func buildServices(m Modules, cfg Opts) ([]messaging.Service, http.Handler, error) {
	var (
		services []messaging.Service
		webhook  http.Handler
	)
	if m.TelegramEnabled {
		bot, err := telegram.NewBot(m.Telegram...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create telegram bot: %w", err)
		}
		services = append(services, messaging.NewTelegramService(bot))
	}
	if m.WhatsAppEnabled {
		client, err := twiliowhatsapp.NewClient(m.WhatsApp...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create twilio client: %w", err)
		}
		var twOpts []messaging.TwilioOption
		if cfg.TwilioAuthToken != "" && cfg.TwilioWebhookURL != "" {
			twOpts = append(twOpts, messaging.WithSignatureValidation(
				twiliowhatsapp.NewSignatureValidator(cfg.TwilioAuthToken), cfg.TwilioWebhookURL))
		} else {
			slog.Warn("api.buildServices: Twilio webhook signature validation disabled", "webhook_url_set", cfg.TwilioWebhookURL != "")
		}
		svc := messaging.NewTwilioService(client, twOpts...)
		services = append(services, svc)
		webhook = svc
	}
	if len(services) == 0 {
		return nil, nil, ErrNoTransports
	}
	return services, webhook, nil
}

// serve runs each service with its dispatcher, the HTTP server and the dedup pruner until
// ctx ends or one of them fails.
func serve(ctx context.Context, srv *Server, handler messaging.Handler, dedup store.DedupRepo, cfg Opts) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	for i, svc := range srv.services {
		if err := svc.Start(gctx); err != nil {
			for _, started := range srv.services[:i] {
				_ = started.Stop()
			}
			return fmt.Errorf("failed to start %s: %w", svc.Name(), err)
		}
	}
	for _, svc := range srv.services {
		d := messaging.NewDispatcher(svc, handler,
			messaging.WithDedup(dedup),
			messaging.WithHandlerTimeout(cfg.HandlerTimeout))
		g.Go(func() error {
			return d.Run(gctx)
		})
	}

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		slog.Info("api.serve: HTTP server listening", "addr", cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		pruneLoop(gctx, dedup, cfg.PruneInterval, cfg.DedupRetention)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("api.serve: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("api.serve: HTTP shutdown failed", "error", err)
		}
		for _, svc := range srv.services {
			if err := svc.Stop(); err != nil {
				slog.Warn("api.serve: service stop failed", "service", svc.Name(), "error", err)
			}
		}
		return nil
	})

	return g.Wait()
}

// pruneLoop deletes de-duplication records older than retention every interval.
func pruneLoop(ctx context.Context, dedup store.DedupRepo, interval, retention time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := dedup.PruneBefore(now.Add(-retention))
			if err != nil {
				slog.Warn("api.pruneLoop: prune failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("api.pruneLoop: pruned dedup records", "count", n)
			}
		}
	}
}
