package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// table describes the columns the database fills in for a kind.
type table struct {
	defaults Row
	created  string // column stamped on insert
	updated  bool   // stamps updated_at on insert and update
	unique   [][]string
}

var tables = map[Kind]table{
	Accounts:      {created: "created_at", updated: true, unique: [][]string{{"email"}}, defaults: Row{"auth_provider": "email"}},
	Profiles:      {created: "created_at", updated: true, unique: [][]string{{"username"}}},
	Posts:         {created: "created_at", updated: true, defaults: Row{"likes_count": 0, "dislikes_count": 0, "comments_count": 0, "is_anonymous": false}},
	Comments:      {created: "created_at", updated: true, defaults: Row{"is_anonymous": false}},
	PostReactions: {created: "created_at", unique: [][]string{{"post_id", "user_id"}}},
	Messages:      {created: "created_at", defaults: Row{"is_read": false, "message_type": "dm"}},
	Schedules:     {created: "created_at", updated: true},
	Notifications: {created: "created_at", defaults: Row{"is_read": false}},
	Friendships:   {created: "created_at", updated: true, unique: [][]string{{"requester_id", "addressee_id"}}, defaults: Row{"status": "pending", "is_starred": false}},
	Groups:        {created: "created_at", updated: true, defaults: Row{"current_members": 0}},
	GroupMembers:  {created: "joined_at", unique: [][]string{{"group_id", "user_id"}}, defaults: Row{"role": "member"}},
}

// Memory is an in-process Client. It mirrors what the PostgreSQL schema does
// on the server side: id and timestamp defaults, unique constraints, and the
// counter columns kept on posts and groups.
//
// Events are published synchronously after the write returns its lock, unless
// delivery is held with Hold.
type Memory struct {
	mu      sync.Mutex
	rows    map[Kind][]Row
	hub     *Hub
	last    time.Time
	now     func() time.Time
	held    bool
	queue   []Event
	selects map[Kind]int
	failSel map[Kind]error
	failWr  map[Kind]error
}

func NewMemory(opts ...HubOption) *Memory {
	return &Memory{
		rows:    make(map[Kind][]Row),
		hub:     NewHub(opts...),
		now:     time.Now,
		selects: make(map[Kind]int),
		failSel: make(map[Kind]error),
		failWr:  make(map[Kind]error),
	}
}

// Seed stores rows as-is without publishing events.
func (m *Memory) Seed(kind Kind, rows ...Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		r = r.Clone()
		m.fill(kind, r)
		m.rows[kind] = append(m.rows[kind], r)
	}
}

// Hold queues events instead of delivering them until Flush.
func (m *Memory) Hold() {
	m.mu.Lock()
	m.held = true
	m.mu.Unlock()
}

// Flush delivers every queued event and resumes immediate delivery.
func (m *Memory) Flush() {
	m.mu.Lock()
	q := m.queue
	m.queue = nil
	m.held = false
	m.mu.Unlock()
	for _, ev := range q {
		m.hub.Publish(ev)
	}
}

// Emit publishes an arbitrary event, as if another writer produced it.
func (m *Memory) Emit(ev Event) { m.publish([]Event{ev}) }

// FailSelect makes every Select on kind return err until cleared with nil.
func (m *Memory) FailSelect(kind Kind, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failSel, kind)
		return
	}
	m.failSel[kind] = err
}

// FailWrite makes every Write on kind return err until cleared with nil.
func (m *Memory) FailWrite(kind Kind, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failWr, kind)
		return
	}
	m.failWr[kind] = err
}

// Selects reports how many reads were issued against kind.
func (m *Memory) Selects(kind Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selects[kind]
}

// Subscribers reports the number of live subscriptions.
func (m *Memory) Subscribers() int { return m.hub.Len() }

func (m *Memory) Select(ctx context.Context, q Query) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selects[q.Kind]++
	if err := m.failSel[q.Kind]; err != nil {
		return nil, err
	}
	var out []Row
	for _, r := range m.rows[q.Kind] {
		if q.Where == nil || q.Where.Match(r) {
			out = append(out, r.Clone())
		}
	}
	if len(q.Order) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, o := range q.Order {
				c := compareValues(out[i][o.Column], out[j][o.Column])
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) Write(ctx context.Context, mut Mutation) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := mut.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	if err := m.failWr[mut.Kind]; err != nil {
		m.mu.Unlock()
		return nil, err
	}
	var (
		out    []Row
		events []Event
		err    error
	)
	switch mut.Op {
	case Insert:
		out, events, err = m.insert(mut.Kind, mut.Values)
	case Update:
		out, events, err = m.update(mut.Kind, mut.Where, mut.Values)
	case Upsert:
		out, events, err = m.upsert(mut.Kind, mut.ConflictOn, mut.Values)
	case Delete:
		out, events = m.remove(mut.Kind, mut.Where)
	}
	if err == nil {
		events = append(events, m.sideEffects(events)...)
	}
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	m.publish(events)
	return out, nil
}

func (m *Memory) Subscribe(f Filter, fn Handler) (Subscription, error) {
	return m.hub.Subscribe(f, fn)
}

func (m *Memory) Close() error {
	m.hub.Close()
	return nil
}

func (m *Memory) publish(events []Event) {
	m.mu.Lock()
	if m.held {
		for _, ev := range events {
			if ev.Kind.Realtime() {
				m.queue = append(m.queue, ev)
			}
		}
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	for _, ev := range events {
		if ev.Kind.Realtime() {
			m.hub.Publish(ev)
		}
	}
}

func (m *Memory) stamp() string {
	t := m.now().UTC().Truncate(time.Microsecond)
	if !t.After(m.last) {
		t = m.last.Add(time.Microsecond)
	}
	m.last = t
	return t.Format(timestampLayout)
}

func (m *Memory) fill(kind Kind, r Row) {
	t := tables[kind]
	if _, ok := r["id"]; !ok {
		r["id"] = uuid.NewString()
	}
	for k, v := range t.defaults {
		if _, ok := r[k]; !ok {
			r[k] = v
		}
	}
	if t.created != "" {
		if _, ok := r[t.created]; !ok {
			r[t.created] = m.stamp()
		}
	}
	if t.updated {
		if _, ok := r["updated_at"]; !ok {
			r["updated_at"] = r[t.created]
		}
	}
}

// conflict returns the index of a stored row that shares a unique key with r,
// skipping index skip.
func (m *Memory) conflict(kind Kind, r Row, skip int) int {
	keys := tables[kind].unique
	keys = append([][]string{{"id"}}, keys...)
	for i, existing := range m.rows[kind] {
		if i == skip {
			continue
		}
		for _, cols := range keys {
			if sameOn(existing, r, cols) {
				return i
			}
		}
	}
	return -1
}

func sameOn(a, b Row, cols []string) bool {
	for _, c := range cols {
		av, aok := a[c]
		bv, bok := b[c]
		if !aok || !bok || av == nil || bv == nil || !equalValues(av, bv) {
			return false
		}
	}
	return true
}

func (m *Memory) insert(kind Kind, values Row) ([]Row, []Event, error) {
	r := values.Clone()
	m.fill(kind, r)
	if m.conflict(kind, r, -1) >= 0 {
		return nil, nil, fmt.Errorf("insert %s: %w", kind, ErrConflict)
	}
	if kind == GroupMembers && m.groupFull(r.String("group_id")) {
		return nil, nil, fmt.Errorf("insert %s: %w", kind, ErrCapacity)
	}
	m.rows[kind] = append(m.rows[kind], r)
	return []Row{r.Clone()}, []Event{{Kind: kind, Type: EventInsert, New: r.Clone()}}, nil
}

// groupFull reports whether the group already holds max_members rows.
// Callers hold m.mu.
func (m *Memory) groupFull(groupID string) bool {
	for _, g := range m.rows[Groups] {
		if g.ID() != groupID {
			continue
		}
		limit, ok := toFloat(g["max_members"])
		if !ok {
			return false
		}
		n := 0
		for _, r := range m.rows[GroupMembers] {
			if r.String("group_id") == groupID {
				n++
			}
		}
		return float64(n) >= limit
	}
	return false
}

func (m *Memory) update(kind Kind, where Predicate, values Row) ([]Row, []Event, error) {
	var (
		out    []Row
		events []Event
	)
	rows := m.rows[kind]
	for i, r := range rows {
		if !where.Match(r) {
			continue
		}
		next := r.Clone()
		for k, v := range values {
			if k == "id" {
				continue
			}
			next[k] = v
		}
		if tables[kind].updated {
			next["updated_at"] = m.stamp()
		}
		if m.conflict(kind, next, i) >= 0 {
			return nil, nil, fmt.Errorf("update %s: %w", kind, ErrConflict)
		}
		rows[i] = next
		out = append(out, next.Clone())
		events = append(events, Event{Kind: kind, Type: EventUpdate, Old: r, New: next.Clone()})
	}
	return out, events, nil
}

func (m *Memory) upsert(kind Kind, on []string, values Row) ([]Row, []Event, error) {
	for _, r := range m.rows[kind] {
		if sameOn(r, values, on) {
			var conds []Predicate
			for _, c := range on {
				conds = append(conds, Eq(c, values[c]))
			}
			set := values.Clone()
			delete(set, "id")
			return m.update(kind, And(conds...), set)
		}
	}
	return m.insert(kind, values)
}

func (m *Memory) remove(kind Kind, where Predicate) ([]Row, []Event) {
	var (
		keep   []Row
		out    []Row
		events []Event
	)
	for _, r := range m.rows[kind] {
		if where.Match(r) {
			out = append(out, r.Clone())
			events = append(events, Event{Kind: kind, Type: EventDelete, Old: r})
			continue
		}
		keep = append(keep, r)
	}
	m.rows[kind] = keep
	return out, events
}

// sideEffects recomputes denormalized counters touched by events, the way the
// schema triggers do, and returns the resulting parent updates.
func (m *Memory) sideEffects(events []Event) []Event {
	posts := map[string]bool{}
	groups := map[string]bool{}
	for _, ev := range events {
		for _, r := range []Row{ev.Old, ev.New} {
			if r == nil {
				continue
			}
			switch ev.Kind {
			case PostReactions, Comments:
				if id := r.String("post_id"); id != "" {
					posts[id] = true
				}
			case GroupMembers:
				if id := r.String("group_id"); id != "" {
					groups[id] = true
				}
			}
		}
	}
	var out []Event
	for id := range posts {
		likes, dislikes, comments := 0, 0, 0
		for _, r := range m.rows[PostReactions] {
			if r.String("post_id") != id {
				continue
			}
			switch r.String("reaction_type") {
			case "like":
				likes++
			case "dislike":
				dislikes++
			}
		}
		for _, r := range m.rows[Comments] {
			if r.String("post_id") == id {
				comments++
			}
		}
		_, evs, _ := m.update(Posts, Eq("id", id), Row{
			"likes_count":    likes,
			"dislikes_count": dislikes,
			"comments_count": comments,
		})
		out = append(out, evs...)
	}
	for id := range groups {
		n := 0
		for _, r := range m.rows[GroupMembers] {
			if r.String("group_id") == id {
				n++
			}
		}
		_, evs, _ := m.update(Groups, Eq("id", id), Row{"current_members": n})
		out = append(out, evs...)
	}
	return out
}
