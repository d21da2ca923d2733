package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/emilythestrangee/campusnet/backend/internal/backend"
)

// Channel is the NOTIFY channel written by the notify_change trigger.
const Channel = "campusnet_changes"

type notification struct {
	Table     string      `json:"table"`
	Type      string      `json:"type"`
	Old       backend.Row `json:"old"`
	New       backend.Row `json:"new"`
	Truncated bool        `json:"truncated"`
}

// Listener turns trigger notifications into backend events. It holds one
// dedicated connection outside the gorm pool, since LISTEN is bound to a
// session.
type Listener struct {
	connString string
	hub        *backend.Hub
	reader     backend.Client
	retry      time.Duration
	logger     *slog.Logger
	ready      chan struct{}
	readyOnce  sync.Once
}

// NewListener publishes to hub. reader is used to load full rows for payloads
// that were truncated to fit the NOTIFY limit.
func NewListener(connString string, hub *backend.Hub, reader backend.Client, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		connString: connString,
		hub:        hub,
		reader:     reader,
		retry:      5 * time.Second,
		logger:     logger.With("component", "listener"),
		ready:      make(chan struct{}),
	}
}

// Ready is closed once the first LISTEN succeeded.
func (l *Listener) Ready() <-chan struct{} { return l.ready }

// Run listens until ctx is done. A lost connection is logged and retried after
// a fixed pause; events emitted while disconnected are not replayed.
func (l *Listener) Run(ctx context.Context) error {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Error("change feed disconnected", "error", err, "retry_in", l.retry)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.retry):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{Channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	l.logger.Info("listening for changes", "channel", Channel)
	l.readyOnce.Do(func() { close(l.ready) })

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		ev, err := l.decode(ctx, n.Payload)
		if err != nil {
			l.logger.Warn("skipping malformed change", "error", err)
			continue
		}
		l.hub.Publish(ev)
	}
}

func (l *Listener) decode(ctx context.Context, payload string) (backend.Event, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return backend.Event{}, fmt.Errorf("decode payload: %w", err)
	}
	ev := backend.Event{
		Kind: backend.Kind(n.Table),
		Type: backend.EventType(n.Type),
		Old:  n.Old,
		New:  n.New,
	}
	switch ev.Type {
	case backend.EventInsert, backend.EventUpdate, backend.EventDelete:
	default:
		return backend.Event{}, fmt.Errorf("unknown change type %q", n.Type)
	}
	if n.Truncated && ev.New != nil {
		rows, err := l.reader.Select(ctx, backend.Query{Kind: ev.Kind, Where: backend.Eq("id", ev.New.ID())})
		if err != nil {
			return backend.Event{}, fmt.Errorf("reload %s %s: %w", ev.Kind, ev.New.ID(), err)
		}
		// A row deleted since the notification keeps its partial form.
		if len(rows) == 1 {
			ev.New = rows[0]
		}
	}
	return ev, nil
}
