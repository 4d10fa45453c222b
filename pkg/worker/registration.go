package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/kevohmutwiri9-creator/Klaus/pkg/background"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/logging"
	"github.com/rs/zerolog"
)

// ErrNoActiveWorker is returned when no worker controls requests yet.
var ErrNoActiveWorker = errors.New("no active worker")

// EventType names a registration event.
type EventType string

const (
	// EventUpdateAvailable: a new worker installed and is waiting
	EventUpdateAvailable EventType = "UPDATE_AVAILABLE"

	// EventControllerChange: a new worker now answers requests
	EventControllerChange EventType = "controllerchange"
)

// Event is delivered to registration subscribers.
type Event struct {
	Type     EventType `json:"type"`
	WorkerID string    `json:"worker_id"`
	Version  string    `json:"version"`
	Time     time.Time `json:"time"`
}

const subscriberBuffer = 16

// Registration holds the active and the waiting worker. Requests always go
// to the active worker; swapping it needs no restart.
type Registration struct {
	skipWaiting bool
	background  *background.Group
	logger      zerolog.Logger

	// lifecycle serializes Register and SkipWaiting
	lifecycle sync.Mutex

	mu          sync.RWMutex
	active      *Worker
	waiting     *Worker
	subscribers map[int]chan Event
	nextSub     int
}

// NewRegistration creates an empty registration. With skipWaiting, every
// newly installed worker is activated at once.
func NewRegistration(skipWaiting bool, bg *background.Group) *Registration {
	if bg == nil {
		bg = background.NewGroup(background.DefaultTimeout)
	}
	return &Registration{
		skipWaiting: skipWaiting,
		background:  bg,
		logger:      logging.NewLogger("registration"),
		subscribers: make(map[int]chan Event),
	}
}

// Register installs w. The first worker, or any worker when skip-waiting is
// configured, is activated immediately; otherwise w waits for SkipWaiting.
func (r *Registration) Register(ctx context.Context, w *Worker) (InstallReport, error) {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	report, err := w.Install(ctx)
	if err != nil {
		return report, err
	}

	r.mu.RLock()
	hasActive := r.active != nil
	previous := r.waiting
	r.mu.RUnlock()

	if !hasActive || r.skipWaiting {
		return report, r.promote(ctx, w)
	}

	r.mu.Lock()
	r.waiting = w
	r.mu.Unlock()
	if previous != nil {
		previous.markRedundant()
	}

	r.logger.Info().Str("version", w.Version()).Msg("Worker installed and waiting")
	r.emit(Event{Type: EventUpdateAvailable, WorkerID: w.ID(), Version: w.Version()})
	return report, nil
}

// SkipWaiting activates the waiting worker, if any.
func (r *Registration) SkipWaiting(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.mu.RLock()
	w := r.waiting
	r.mu.RUnlock()
	if w == nil {
		r.logger.Debug().Msg("Skip waiting with no waiting worker")
		return nil
	}
	return r.promote(ctx, w)
}

// promote activates w and makes it the request target. Callers hold lifecycle.
func (r *Registration) promote(ctx context.Context, w *Worker) error {
	if _, err := w.Activate(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	previous, superseded := r.active, r.waiting
	r.active = w
	r.waiting = nil
	r.mu.Unlock()

	for _, old := range []*Worker{previous, superseded} {
		if old != nil && old != w {
			old.markRedundant()
		}
	}

	r.logger.Info().Str("version", w.Version()).Msg("Worker now controls requests")
	r.emit(Event{Type: EventControllerChange, WorkerID: w.ID(), Version: w.Version()})
	return nil
}

// Active returns the worker answering requests, or nil.
func (r *Registration) Active() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Waiting returns the installed worker waiting to activate, or nil.
func (r *Registration) Waiting() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waiting
}

// Fetch routes an intercepted request to the active worker.
func (r *Registration) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	w := r.Active()
	if w == nil {
		return nil, ErrNoActiveWorker
	}
	return w.Fetch(ctx, req)
}

// HandleMessage runs a control message to completion. Unknown types are
// ignored.
func (r *Registration) HandleMessage(ctx context.Context, msg Message) error {
	switch msg.Type {
	case MessageSkipWaiting:
		Messages.WithLabelValues(string(msg.Type)).Inc()
		return r.SkipWaiting(ctx)
	case MessageCacheUpdate:
		Messages.WithLabelValues(string(msg.Type)).Inc()
		w := r.Active()
		if w == nil {
			return ErrNoActiveWorker
		}
		return w.Refresh(ctx, msg.URL)
	default:
		Messages.WithLabelValues("ignored").Inc()
		r.logger.Debug().Str("type", string(msg.Type)).Msg("Ignoring unknown message")
		return nil
	}
}

// PostMessage handles msg in the background; the sender gets no answer.
func (r *Registration) PostMessage(ctx context.Context, msg Message) {
	r.background.Go(ctx, "message", func(ctx context.Context) error {
		if err := r.HandleMessage(ctx, msg); err != nil {
			return fmt.Errorf("message %s: %w", msg.Type, err)
		}
		return nil
	})
}

// Sync delivers a wake trigger to the active worker.
func (r *Registration) Sync(ctx context.Context, tag string) error {
	w := r.Active()
	if w == nil {
		return ErrNoActiveWorker
	}
	return w.HandleSync(ctx, tag)
}

// Ready reports whether a worker is active and its storage answers.
func (r *Registration) Ready(ctx context.Context) error {
	w := r.Active()
	if w == nil {
		return ErrNoActiveWorker
	}
	return w.Ping(ctx)
}

// Subscribe returns a channel of registration events and a function that
// ends the subscription. Events are dropped for subscribers that fall
// behind.
func (r *Registration) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subscribers[id] = ch
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subscribers, id)
			r.mu.Unlock()
			close(ch)
		})
	}
}

func (r *Registration) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ch := range r.subscribers {
		select {
		case ch <- ev:
		default:
			r.logger.Warn().Str("event", string(ev.Type)).Msg("Dropping event for slow subscriber")
		}
	}
}
