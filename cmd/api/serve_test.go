package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/emilythestrangee/campusnet/backend/internal/backend"
	"github.com/emilythestrangee/campusnet/backend/internal/config"
)

func TestMemoryBackendDeliversAsynchronously(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = "memory"
	g, ctx := errgroup.WithContext(context.Background())

	b, err := openBackend(ctx, g, cfg, slog.Default())
	require.NoError(t, err)
	defer b.closer()
	assert.Equal(t, "up", b.health(ctx)["status"])

	release := make(chan struct{})
	delivered := make(chan struct{}, 1)
	_, err = b.client.Subscribe(backend.Filter{Kind: backend.Posts, Event: backend.EventInsert}, func(backend.Event) {
		<-release
		delivered <- struct{}{}
	})
	require.NoError(t, err)

	written := make(chan error, 1)
	go func() {
		_, err := b.client.Write(ctx, backend.Mutation{Kind: backend.Posts, Op: backend.Insert, Values: backend.Row{
			"title": "t", "content": "c", "board_type": "campus",
		}})
		written <- err
	}()

	// The write completes while the subscriber is still blocked.
	select {
	case err := <-written:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("write blocked on a slow subscriber")
	}
	close(release)
	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("event never delivered")
	}
}

func TestOpenBackendRejectsUnknownType(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = "mongo"
	g, ctx := errgroup.WithContext(context.Background())

	_, err := openBackend(ctx, g, cfg, slog.Default())
	assert.ErrorContains(t, err, "unknown backend")
}
