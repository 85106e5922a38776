package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/Secretario/internal/models"
	"github.com/BTreeMap/Secretario/internal/store"
)

// DefaultHandlerTimeout bounds the processing of one event.
const DefaultHandlerTimeout = 2 * time.Minute

// DefaultFallbackMessage is sent when an event fails outside the state machine's own
// error handling.
const DefaultFallbackMessage = "Sorry, something went wrong. Please try again later."

// Handler processes one event and returns the replies to send.
type Handler interface {
	HandleEvent(ctx context.Context, ev models.Event) ([]models.Reply, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, ev models.Event) ([]models.Reply, error)

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, ev models.Event) ([]models.Reply, error) {
	return f(ctx, ev)
}

// DispatcherOpts holds configuration for a Dispatcher.
type DispatcherOpts struct {
	HandlerTimeout  time.Duration
	Dedup           store.DedupRepo
	FallbackMessage string
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*DispatcherOpts)

// WithHandlerTimeout bounds each event's processing.
func WithHandlerTimeout(d time.Duration) DispatcherOption {
	return func(o *DispatcherOpts) {
		o.HandlerTimeout = d
	}
}

// WithDedup sets the repo used to drop redelivered events.
func WithDedup(repo store.DedupRepo) DispatcherOption {
	return func(o *DispatcherOpts) {
		o.Dedup = repo
	}
}

// WithFallbackMessage overrides the text sent when processing fails.
func WithFallbackMessage(msg string) DispatcherOption {
	return func(o *DispatcherOpts) {
		o.FallbackMessage = msg
	}
}

// Dispatcher feeds a Service's events to a Handler. Events of one user are processed one
// at a time in arrival order; different users proceed concurrently. A worker goroutine
// exists only while its user has queued events.
type Dispatcher struct {
	svc      Service
	handler  Handler
	dedup    store.DedupRepo
	timeout  time.Duration
	fallback string

	mu     sync.Mutex
	queues map[string][]models.Event
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher for svc.
func NewDispatcher(svc Service, handler Handler, opts ...DispatcherOption) *Dispatcher {
	cfg := DispatcherOpts{HandlerTimeout: DefaultHandlerTimeout, FallbackMessage: DefaultFallbackMessage}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Dedup == nil {
		cfg.Dedup = store.NewInMemoryDedupRepo()
	}
	return &Dispatcher{
		svc:      svc,
		handler:  handler,
		dedup:    cfg.Dedup,
		timeout:  cfg.HandlerTimeout,
		fallback: cfg.FallbackMessage,
		queues:   make(map[string][]models.Event),
	}
}

// Run consumes events until ctx is cancelled or the event channel closes, then waits for
// in-flight workers to finish.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("Dispatcher.Run: started", "service", d.svc.Name())
	defer slog.Info("Dispatcher.Run: stopped", "service", d.svc.Name())
	defer d.wg.Wait()

	events := d.svc.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				slog.Debug("Dispatcher.Run: events channel closed", "service", d.svc.Name())
				return nil
			}
			d.Dispatch(ctx, ev)
		case <-ctx.Done():
			return nil
		}
	}
}

// Dispatch de-duplicates ev and queues it for its user.
func (d *Dispatcher) Dispatch(ctx context.Context, ev models.Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	isNew, err := d.dedup.RecordInbound(ev.ID, ev.UserID)
	if err != nil {
		slog.Warn("Dispatcher.Dispatch: dedup record failed, processing anyway", "event_id", ev.ID, "error", err)
	} else if !isNew {
		slog.Info("Dispatcher.Dispatch: dropping duplicate event", "event_id", ev.ID, "user_id", ev.UserID)
		return
	}

	d.mu.Lock()
	q, busy := d.queues[ev.UserID]
	d.queues[ev.UserID] = append(q, ev)
	if !busy {
		d.wg.Add(1)
		go d.work(ctx, ev.UserID)
	}
	d.mu.Unlock()
}

// Pending returns the number of users with queued or running events.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}

// Wait blocks until all workers have exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) work(ctx context.Context, userID string) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		q := d.queues[userID]
		if len(q) == 0 {
			delete(d.queues, userID)
			d.mu.Unlock()
			return
		}
		ev := q[0]
		d.queues[userID] = q[1:]
		d.mu.Unlock()

		d.process(ctx, ev)
	}
}

func (d *Dispatcher) process(ctx context.Context, ev models.Event) {
	hctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	replies, err := d.safeHandle(hctx, ev)
	if err != nil {
		slog.Error("Dispatcher.process: handler failed", "event_id", ev.ID, "user_id", ev.UserID, "kind", ev.Kind, "error", err)
		replies = []models.Reply{models.TextReply(d.fallback)}
	}
	for i, r := range replies {
		if err := r.Validate(); err != nil {
			slog.Error("Dispatcher.process: invalid reply replaced by fallback", "event_id", ev.ID, "user_id", ev.UserID, "error", err)
			replies[i] = models.TextReply(d.fallback)
		}
	}

	for _, r := range replies {
		if err := d.svc.Send(ctx, ev.UserID, r); err != nil {
			slog.Error("Dispatcher.process: send failed", "event_id", ev.ID, "user_id", ev.UserID, "error", err)
			break
		}
	}

	if err := d.dedup.MarkProcessed(ev.ID); err != nil {
		slog.Warn("Dispatcher.process: mark processed failed", "event_id", ev.ID, "error", err)
	}
	slog.Debug("Dispatcher.process: done", "event_id", ev.ID, "user_id", ev.UserID, "replies", len(replies), "elapsed_ms", time.Since(start).Milliseconds())
}

// safeHandle runs the handler, converting a panic into an error.
func (d *Dispatcher) safeHandle(ctx context.Context, ev models.Event) (replies []models.Reply, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatcher.safeHandle: handler panic", "event_id", ev.ID, "user_id", ev.UserID, "panic", r, "stack", string(debug.Stack()))
			replies = nil
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return d.handler.HandleEvent(ctx, ev)
}
