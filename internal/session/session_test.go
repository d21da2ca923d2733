package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingProvider struct{}

func (failingProvider) Current(context.Context) (*User, error) { return nil, errors.New("expired") }
func (failingProvider) SignOut(context.Context) error          { return nil }

func TestResolveTransitions(t *testing.T) {
	s := New(NewStatic(&User{ID: "u1"}))
	assert.Equal(t, Uninitialized, s.Status())

	var seen []Status
	s.OnChange(func(st State) { seen = append(seen, st.Status) })

	require.NoError(t, s.Resolve(context.Background()))
	assert.Equal(t, []Status{Resolving, SignedIn}, seen)
	assert.Equal(t, "u1", s.UserID())

	// second resolve is a no-op
	require.NoError(t, s.Resolve(context.Background()))
	assert.Len(t, seen, 2)
}

func TestResolveSignedOut(t *testing.T) {
	s := New(NewStatic(nil))
	require.NoError(t, s.Resolve(context.Background()))
	assert.Equal(t, SignedOut, s.Status())
	assert.Nil(t, s.User())

	s = New(failingProvider{})
	assert.Error(t, s.Resolve(context.Background()))
	assert.Equal(t, SignedOut, s.Status())
}

func TestApplyAndSignOut(t *testing.T) {
	s := Resolved(nil)
	s.Apply(Event{Status: SignedIn, User: &User{ID: "u2"}})
	assert.Equal(t, SignedIn, s.Status())
	assert.Equal(t, "u2", s.UserID())

	require.NoError(t, s.SignOut(context.Background()))
	assert.Equal(t, SignedOut, s.Status())
	assert.Equal(t, "", s.UserID())
}

func TestUnsubscribeAndClose(t *testing.T) {
	s := Resolved(&User{ID: "u1"})
	calls := 0
	unsubscribe := s.OnChange(func(State) { calls++ })
	s.Apply(Event{Status: SignedOut})
	unsubscribe()
	s.Apply(Event{Status: SignedIn, User: &User{ID: "u1"}})
	assert.Equal(t, 1, calls)

	s.OnChange(func(State) { calls++ })
	s.Close()
	s.Apply(Event{Status: SignedIn, User: &User{ID: "u1"}})
	assert.Equal(t, 1, calls)
	assert.Equal(t, SignedOut, s.Status())
}
