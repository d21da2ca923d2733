// Package backend is the data-access contract shared by services and realtime
// synchronizers: select, write, subscribe. The database package implements it
// on PostgreSQL; Memory implements it in process.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind names a table.
type Kind string

const (
	Accounts      Kind = "accounts"
	Profiles      Kind = "profiles"
	Posts         Kind = "posts"
	Comments      Kind = "comments"
	PostReactions Kind = "post_reactions"
	Messages      Kind = "messages"
	Schedules     Kind = "schedules"
	Notifications Kind = "notifications"
	Friendships   Kind = "friendships"
	Groups        Kind = "groups"
	GroupMembers  Kind = "group_members"
)

// Realtime reports whether changes to k are published to subscribers.
// Credentials never leave the database.
func (k Kind) Realtime() bool {
	return k != Accounts
}

// ErrConflict is returned by Write when a unique constraint is violated.
var ErrConflict = errors.New("backend: unique constraint violated")

// ErrCapacity is returned by Write when a group member insert would exceed
// the group's max_members.
var ErrCapacity = errors.New("backend: group is full")

// Row is a JSON-shaped record as it travels over the wire.
type Row map[string]any

// RowOf converts a tagged struct into a Row through its json encoding.
func RowOf(v any) (Row, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	var r Row
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	return r, nil
}

// Decode fills dst (a pointer to a tagged struct) from the row.
func (r Row) Decode(dst any) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("decode row: %w", err)
	}
	return nil
}

func (r Row) ID() string { return r.String("id") }

func (r Row) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Clone is a shallow copy.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// DecodeRows decodes every row into a T.
func DecodeRows[T any](rows []Row) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		var v T
		if err := r.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

type Order struct {
	Column string
	Desc   bool
}

func Asc(col string) Order  { return Order{Column: col} }
func Desc(col string) Order { return Order{Column: col, Desc: true} }

// Query selects rows of one kind. A nil Where selects everything; Limit 0 means
// no limit.
type Query struct {
	Kind  Kind
	Where Predicate
	Order []Order
	Limit int
}

type Op int

const (
	Insert Op = iota
	Update
	Upsert
	Delete
)

func (o Op) String() string {
	switch o {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Upsert:
		return "upsert"
	case Delete:
		return "delete"
	}
	return "unknown"
}

// Mutation is one write. Insert and Upsert use Values; Update uses Values and
// Where; Delete uses Where. ConflictOn names the unique columns for Upsert.
type Mutation struct {
	Kind       Kind
	Op         Op
	Values     Row
	Where      Predicate
	ConflictOn []string
}

// Validate rejects malformed mutations, including ones that would touch an
// unbounded row set.
func (m Mutation) Validate() error {
	switch m.Op {
	case Insert:
		if len(m.Values) == 0 {
			return fmt.Errorf("%s %s: no values", m.Op, m.Kind)
		}
	case Upsert:
		if len(m.Values) == 0 || len(m.ConflictOn) == 0 {
			return fmt.Errorf("%s %s: values and conflict columns required", m.Op, m.Kind)
		}
	case Update:
		if len(m.Values) == 0 || m.Where == nil {
			return fmt.Errorf("%s %s: values and predicate required", m.Op, m.Kind)
		}
	case Delete:
		if m.Where == nil {
			return fmt.Errorf("%s %s: predicate required", m.Op, m.Kind)
		}
	default:
		return fmt.Errorf("unknown op %d", m.Op)
	}
	return nil
}

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	EventAll    EventType = "*"
)

// Event describes one row change. Old is set for updates and deletes when the
// source provides it, New for inserts and updates.
type Event struct {
	Kind Kind
	Type EventType
	Old  Row
	New  Row
}

// Row is the row the event is about: Old for deletes, New otherwise.
func (e Event) Row() Row {
	if e.Type == EventDelete {
		return e.Old
	}
	return e.New
}

// Filter selects events for a subscription.
type Filter struct {
	Kind  Kind
	Event EventType
	Where Predicate
}

func (f Filter) Match(ev Event) bool {
	if ev.Kind != f.Kind {
		return false
	}
	if f.Event != "" && f.Event != EventAll && f.Event != ev.Type {
		return false
	}
	if f.Where == nil {
		return true
	}
	r := ev.Row()
	if r == nil {
		return false
	}
	return f.Where.Match(r)
}

type Handler func(Event)

type Subscription interface {
	// Unsubscribe stops delivery. Calling it more than once is a no-op.
	Unsubscribe()
}

// Client is the data-access contract.
type Client interface {
	Select(ctx context.Context, q Query) ([]Row, error)
	Write(ctx context.Context, m Mutation) ([]Row, error)
	Subscribe(f Filter, fn Handler) (Subscription, error)
	Close() error
}
