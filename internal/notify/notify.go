// Package notify delivers new notifications outside the app, by SMS when
// Twilio is configured and to the log otherwise.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/emilythestrangee/campusnet/backend/internal/backend"
	"github.com/emilythestrangee/campusnet/backend/internal/models"
	"github.com/emilythestrangee/campusnet/backend/internal/observability"
	"github.com/emilythestrangee/campusnet/backend/internal/service"
)

// ErrNoRecipient is returned by a Sender that cannot reach the user, for
// example a user without a phone number. The Dispatcher skips such
// notifications.
var ErrNoRecipient = errors.New("notify: no recipient address")

// Message is one outbound notification.
type Message struct {
	UserID string
	Phone  string
	Title  string
	Body   string
}

// Text renders the message as a single line.
func (m Message) Text() string {
	if m.Body == "" {
		return m.Title
	}
	return m.Title + ": " + m.Body
}

type Sender interface {
	Name() string
	Send(ctx context.Context, m Message) error
}

// LogSender writes messages to a logger.
type LogSender struct {
	Logger *slog.Logger
}

func (LogSender) Name() string { return "log" }

func (s LogSender) Send(_ context.Context, m Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification", "user_id", m.UserID, "text", m.Text())
	return nil
}

const queueSize = 256

// Dispatcher subscribes to notification inserts and hands each one to a
// Sender from a single worker. Failures are logged and counted, never
// retried.
type Dispatcher struct {
	client   backend.Client
	profiles *service.Profiles
	sender   Sender
	metrics  *observability.Metrics
	log      *slog.Logger

	queue chan models.Notification

	mu  sync.Mutex
	sub backend.Subscription
}

func NewDispatcher(client backend.Client, profiles *service.Profiles, sender Sender, metrics *observability.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		client:   client,
		profiles: profiles,
		sender:   sender,
		metrics:  metrics,
		log:      logger.With("component", "notify", "sender", sender.Name()),
		queue:    make(chan models.Notification, queueSize),
	}
}

// Start subscribes to notification inserts. Events are queued until Run
// consumes them.
func (d *Dispatcher) Start() error {
	sub, err := d.client.Subscribe(backend.Filter{
		Kind:  backend.Notifications,
		Event: backend.EventInsert,
	}, d.enqueue)
	if err != nil {
		return fmt.Errorf("failed to subscribe to notifications: %w", err)
	}
	d.mu.Lock()
	d.sub = sub
	d.mu.Unlock()
	return nil
}

func (d *Dispatcher) enqueue(ev backend.Event) {
	var n models.Notification
	if err := ev.New.Decode(&n); err != nil {
		d.log.Warn("undecodable notification", "error", err)
		return
	}
	select {
	case d.queue <- n:
	default:
		d.log.Warn("queue full, dropping notification", "id", n.ID)
		d.metrics.NotificationSent(d.sender.Name(), errors.New("dropped"))
	}
}

// Run delivers queued notifications until ctx is done, then unsubscribes.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-d.queue:
			d.deliver(ctx, n)
		}
	}
}

func (d *Dispatcher) stop() {
	d.mu.Lock()
	sub := d.sub
	d.sub = nil
	d.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n models.Notification) {
	m := Message{UserID: n.UserID, Title: n.Title}
	if n.Content != nil {
		m.Body = *n.Content
	}
	p, err := d.profiles.Get(ctx, n.UserID)
	if err != nil {
		d.log.Warn("recipient lookup failed", "user_id", n.UserID, "error", err)
	} else if p.Phone != nil {
		m.Phone = *p.Phone
	}

	err = d.sender.Send(ctx, m)
	if errors.Is(err, ErrNoRecipient) {
		d.log.Debug("no recipient address", "user_id", n.UserID)
		return
	}
	d.metrics.NotificationSent(d.sender.Name(), err)
	if err != nil {
		d.log.Error("delivery failed", "id", n.ID, "user_id", n.UserID, "error", err)
	}
}
