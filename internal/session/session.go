// Package session holds the signed-in user of one client.
//
// A Session moves Uninitialized -> Resolving -> SignedIn | SignedOut. After
// that it only changes through Apply (auth events) and SignOut. Close tears
// down every listener; a closed session reports SignedOut.
package session

import (
	"context"
	"sync"
)

type Status int

const (
	Uninitialized Status = iota
	Resolving
	SignedIn
	SignedOut
)

func (s Status) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Resolving:
		return "resolving"
	case SignedIn:
		return "signed_in"
	case SignedOut:
		return "signed_out"
	}
	return "unknown"
}

type User struct {
	ID       string `json:"id"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
}

type State struct {
	Status Status
	User   *User
}

// Provider is the source of truth for who is signed in.
type Provider interface {
	// Current returns the signed-in user, or nil when there is none.
	Current(ctx context.Context) (*User, error)
	SignOut(ctx context.Context) error
}

// Event is an auth change pushed by the identity provider.
type Event struct {
	Status Status // SignedIn or SignedOut
	User   *User
}

type Session struct {
	provider Provider

	mu        sync.Mutex
	state     State
	listeners map[int]func(State)
	next      int
	closed    bool
}

func New(p Provider) *Session {
	return &Session{provider: p, listeners: make(map[int]func(State))}
}

// Resolve asks the provider for the current user. It runs once; later calls
// return immediately. A provider failure leaves the session signed out and is
// returned.
func (s *Session) Resolve(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || s.state.Status != Uninitialized {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	s.set(State{Status: Resolving})

	u, err := s.provider.Current(ctx)
	if err != nil || u == nil {
		s.set(State{Status: SignedOut})
		return err
	}
	s.set(State{Status: SignedIn, User: u})
	return nil
}

// Apply records an auth event.
func (s *Session) Apply(ev Event) {
	if ev.Status == SignedIn && ev.User != nil {
		s.set(State{Status: SignedIn, User: ev.User})
		return
	}
	s.set(State{Status: SignedOut})
}

func (s *Session) SignOut(ctx context.Context) error {
	err := s.provider.SignOut(ctx)
	s.set(State{Status: SignedOut})
	return err
}

func (s *Session) set(st State) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.state = st
	fns := make([]func(State), 0, len(s.listeners))
	for i := 0; i < s.next; i++ {
		if fn, ok := s.listeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

// OnChange registers fn for every state change. The returned func removes it.
func (s *Session) OnChange(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() {}
	}
	id := s.next
	s.next++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return State{Status: SignedOut}
	}
	return s.state
}

func (s *Session) Status() Status { return s.State().Status }

// User returns the signed-in user, or nil.
func (s *Session) User() *User {
	st := s.State()
	if st.Status != SignedIn {
		return nil
	}
	return st.User
}

// UserID returns the signed-in user's id, or "".
func (s *Session) UserID() string {
	if u := s.User(); u != nil {
		return u.ID
	}
	return ""
}

// Close drops every listener. The session stays signed out afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.listeners = make(map[int]func(State))
	s.state = State{Status: SignedOut}
}

// Static is a Provider with a fixed user; nil means signed out.
type Static struct {
	mu   sync.Mutex
	user *User
}

func NewStatic(u *User) *Static { return &Static{user: u} }

func (p *Static) Current(context.Context) (*User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.user, nil
}

func (p *Static) SignOut(context.Context) error {
	p.mu.Lock()
	p.user = nil
	p.mu.Unlock()
	return nil
}

// Resolved returns a session already resolved against a Static provider.
func Resolved(u *User) *Session {
	s := New(NewStatic(u))
	_ = s.Resolve(context.Background())
	return s
}
