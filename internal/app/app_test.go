package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentpilot/internal/config"
	"contentpilot/internal/content"
	"contentpilot/internal/dispatch"
	"contentpilot/internal/schedule"
)

const testConfig = `{
  "logging": {"level": "error", "console": true},
  "storage": {"driver": "memory"},
  "dispatcher": {"enabled": true, "tick": "1h", "max_attempts": 5},
  "publish": {"routes": {"post": "dryrun"}}
}`

func newTestApp(t *testing.T) *App {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	a, err := New(context.Background(), path, WithOfflineBot())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopCommandDone)
	})
	return a
}

func TestScheduleAndTick(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)
	assert.Nil(t, a.Orchestrator())

	c, err := a.CreateContent(ctx, content.Content{Type: content.TypePost, Caption: "hello"})
	require.NoError(t, err)
	it, err := a.Schedule(ctx, schedule.Item{ContentID: c.ID, ScheduledFor: time.Now().Add(-time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, content.TypePost, it.ContentType)
	assert.Equal(t, 5, it.MaxAttempts)

	rep := a.RunTick(ctx)
	require.NoError(t, rep.Err)
	assert.Equal(t, 1, rep.Count(dispatch.OutcomeCompleted))

	got, err := a.Store().GetItem(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusCompleted, got.Status)
	pub, err := a.Store().FindContent(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, content.StatusPublished, pub.Status)
	assert.Equal(t, "dryrun:"+c.ID, pub.ProviderID)
}

func TestScheduleValidatesContent(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)

	_, err := a.Schedule(ctx, schedule.Item{ContentID: "missing", ScheduledFor: time.Now()})
	assert.True(t, errors.Is(err, content.ErrNotFound))

	c, err := a.CreateContent(ctx, content.Content{Type: content.TypeReel})
	require.NoError(t, err)
	_, err = a.Schedule(ctx, schedule.Item{ContentID: c.ID, ContentType: content.TypePost, ScheduledFor: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is a reel")
}

func TestUnroutedContentFailsPermanently(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)
	c, err := a.CreateContent(ctx, content.Content{Type: content.TypeStory})
	require.NoError(t, err)
	it, err := a.Schedule(ctx, schedule.Item{ContentID: c.ID, ScheduledFor: time.Now().Add(-time.Second)})
	require.NoError(t, err)

	rep := a.RunTick(ctx)
	assert.Equal(t, 1, rep.Count(dispatch.OutcomeFailed))
	got, err := a.Store().GetItem(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestStartReloadAndHealth(t *testing.T) {
	a := newTestApp(t)
	require.NoError(t, a.Start(context.Background()))

	body, err := a.Health(context.Background())
	require.NoError(t, err)
	h := body.(Health)
	assert.Equal(t, "ok", h.Status)
	require.Len(t, h.Triggers, 1)
	assert.Equal(t, "@every 1h0m0s", h.Triggers[0].Spec)
	assert.Equal(t, "not_configured", h.Breakers["video"])
	require.Len(t, h.Events.Subscribers, 1)
	assert.Empty(t, h.Events.Subscribers[0].Types)

	prev := a.cfgm.Get()
	next := *prev
	next.Dispatcher.Tick = "30m"
	next.Dispatcher.BatchSize = 3
	a.applyConfig(context.Background(), prev, &next)

	assert.Equal(t, 30*time.Minute, a.Runtime().Tick)
	assert.Equal(t, 3, a.Runtime().BatchSize)
	snap := a.trigger.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "@every 30m0s", snap[0].Spec)

	off := next
	off.Dispatcher.Enabled = false
	a.applyConfig(context.Background(), &next, &off)
	assert.False(t, a.Runtime().DispatchActive)
}

func TestReloadRejectsInvalidConfig(t *testing.T) {
	a := newTestApp(t)
	prev := a.cfgm.Get()
	bad := *prev
	bad.Storage = config.StorageConfig{Driver: "mongo"}
	a.applyConfig(context.Background(), prev, &bad)
	assert.Equal(t, "memory", a.Runtime().StorageDriver)
}

func TestNewRejectsMissingConfig(t *testing.T) {
	_, err := New(context.Background(), filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}
