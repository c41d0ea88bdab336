package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentpilot/internal/content"
	"contentpilot/internal/schedule"
	logx "contentpilot/pkg/logx"
)

func drivers(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"sqlite": func(t *testing.T) Store {
			st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "cp.db")}, logx.Nop())
			require.NoError(t, err)
			t.Cleanup(func() { _ = st.Close() })
			return st
		},
	}
}

var t0 = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func newItem(contentID string, at time.Time) schedule.Item {
	return schedule.Item{ContentType: content.TypePost, ContentID: contentID, ScheduledFor: at}
}

func TestStoreListDueOrderAndLimit(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)
			for i := 5; i >= 0; i-- {
				_, err := st.CreateItem(ctx, newItem("c", t0.Add(time.Duration(i)*time.Minute)))
				require.NoError(t, err)
			}
			_, err := st.CreateItem(ctx, newItem("future", t0.Add(time.Hour)))
			require.NoError(t, err)

			due, err := st.ListDue(ctx, t0.Add(10*time.Minute), 4)
			require.NoError(t, err)
			require.Len(t, due, 4)
			for i := 1; i < len(due); i++ {
				assert.True(t, due[i-1].ScheduledFor.Before(due[i].ScheduledFor))
			}
			assert.True(t, due[0].ScheduledFor.Equal(t0))

			all, err := st.ListDue(ctx, t0.Add(10*time.Minute), 0)
			require.NoError(t, err)
			assert.Len(t, all, 6)
		})
	}
}

func TestStoreGuardedTransitions(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)
			it, err := st.CreateItem(ctx, newItem("c", t0))
			require.NoError(t, err)
			assert.Equal(t, schedule.StatusPending, it.Status)
			assert.Equal(t, schedule.DefaultMaxAttempts, it.MaxAttempts)

			claimed, err := st.Claim(ctx, it.ID, t0)
			require.NoError(t, err)
			assert.Equal(t, schedule.StatusProcessing, claimed.Status)
			assert.Equal(t, 1, claimed.Attempts)
			require.NotNil(t, claimed.LastAttempt)
			assert.True(t, claimed.LastAttempt.Equal(t0))

			// second claim loses the guard
			_, err = st.Claim(ctx, it.ID, t0)
			assert.True(t, errors.Is(err, schedule.ErrConflict))
			// cancel only from pending
			assert.True(t, errors.Is(st.Cancel(ctx, it.ID, t0), schedule.ErrConflict))

			next := t0.Add(5 * time.Minute)
			require.NoError(t, st.Reschedule(ctx, it.ID, next, "boom", t0))
			got, err := st.GetItem(ctx, it.ID)
			require.NoError(t, err)
			assert.Equal(t, schedule.StatusPending, got.Status)
			assert.Equal(t, "boom", got.ErrorMessage)
			assert.True(t, got.ScheduledFor.Equal(next))

			_, err = st.Claim(ctx, it.ID, next)
			require.NoError(t, err)
			require.NoError(t, st.Complete(ctx, it.ID, next))
			got, err = st.GetItem(ctx, it.ID)
			require.NoError(t, err)
			assert.Equal(t, schedule.StatusCompleted, got.Status)
			assert.Equal(t, 2, got.Attempts)
			assert.Empty(t, got.ErrorMessage)
			require.NotNil(t, got.CompletedAt)

			// terminal items are immutable
			assert.True(t, errors.Is(st.Fail(ctx, it.ID, "x", next), schedule.ErrConflict))
			assert.True(t, errors.Is(st.Cancel(ctx, "missing", next), schedule.ErrNotFound))
		})
	}
}

func TestStoreCancelAndStale(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)
			a, err := st.CreateItem(ctx, newItem("a", t0))
			require.NoError(t, err)
			b, err := st.CreateItem(ctx, newItem("b", t0))
			require.NoError(t, err)

			require.NoError(t, st.Cancel(ctx, a.ID, t0))
			_, err = st.Claim(ctx, a.ID, t0)
			assert.True(t, errors.Is(err, schedule.ErrConflict))

			_, err = st.Claim(ctx, b.ID, t0)
			require.NoError(t, err)
			stale, err := st.ListStale(ctx, t0.Add(time.Minute))
			require.NoError(t, err)
			require.Len(t, stale, 1)
			assert.Equal(t, b.ID, stale[0].ID)

			stale, err = st.ListStale(ctx, t0)
			require.NoError(t, err)
			assert.Empty(t, stale)

			cancelled, err := st.ListItems(ctx, schedule.Filter{Status: schedule.StatusCancelled})
			require.NoError(t, err)
			require.Len(t, cancelled, 1)
			assert.Equal(t, a.ID, cancelled[0].ID)
		})
	}
}

func TestStoreUniqueParent(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)
			end := t0.AddDate(0, 1, 0)
			child := newItem("c2", t0.Add(24*time.Hour))
			child.ParentID = "parent-1"
			child.Recurring = &schedule.Recurrence{Enabled: true, Frequency: schedule.Weekly, DaysOfWeek: []int{1, 3}, EndDate: &end}

			got, err := st.CreateItem(ctx, child)
			require.NoError(t, err)
			again := child
			again.ID = ""
			_, err = st.CreateItem(ctx, again)
			assert.True(t, errors.Is(err, schedule.ErrConflict))

			back, err := st.GetItem(ctx, got.ID)
			require.NoError(t, err)
			require.NotNil(t, back.Recurring)
			assert.Equal(t, []int{1, 3}, back.Recurring.DaysOfWeek)
			assert.True(t, back.Recurring.EndDate.Equal(end))
			assert.Equal(t, "parent-1", back.ParentID)
		})
	}
}

func TestStoreContentLifecycle(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)
			c, err := st.CreateContent(ctx, content.Content{
				Type:      content.TypeReel,
				Caption:   "hi",
				MediaURLs: []string{"https://cdn/x.mp4"},
				Payload:   map[string]string{"topic": "coffee"},
			})
			require.NoError(t, err)
			assert.Equal(t, content.StatusDraft, c.Status)

			_, err = st.FindContent(ctx, "nope")
			assert.True(t, errors.Is(err, content.ErrNotFound))

			require.NoError(t, st.MarkPublished(ctx, c.ID, content.Publication{ProviderID: "tg:1", Permalink: "https://t.me/x/1", PublishedAt: t0}))
			got, err := st.FindContent(ctx, c.ID)
			require.NoError(t, err)
			assert.Equal(t, content.StatusPublished, got.Status)
			assert.Equal(t, "tg:1", got.ProviderID)
			require.NotNil(t, got.PublishedAt)
			assert.True(t, got.PublishedAt.Equal(t0))

			cl, err := st.CloneContent(ctx, c.ID)
			require.NoError(t, err)
			assert.NotEqual(t, c.ID, cl.ID)
			assert.Empty(t, cl.ProviderID)
			assert.Equal(t, "coffee", cl.Payload["topic"])
			assert.Equal(t, []string{"https://cdn/x.mp4"}, cl.MediaURLs)

			require.NoError(t, st.MarkFailed(ctx, cl.ID, "rejected"))
			got, err = st.FindContent(ctx, cl.ID)
			require.NoError(t, err)
			assert.Equal(t, content.StatusFailed, got.Status)
			assert.Equal(t, "rejected", got.PublishError)
			assert.True(t, errors.Is(st.MarkFailed(ctx, "nope", "x"), content.ErrNotFound))
		})
	}
}

func TestStoreDedup(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)
			_, ok, err := st.GetDedup(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, st.PutDedup(ctx, "k", t0))
			until, ok, err := st.GetDedup(ctx, "k")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, t0.UnixMilli(), until.UnixMilli())
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "mongo"}, logx.Nop())
	require.Error(t, err)
}

func TestStoreUnexpandedAndChildren(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)
			daily := func() *schedule.Recurrence { return &schedule.Recurrence{Enabled: true, Frequency: schedule.Daily} }

			complete := func(it schedule.Item, at time.Time) {
				_, err := st.Claim(ctx, it.ID, at)
				require.NoError(t, err)
				require.NoError(t, st.Complete(ctx, it.ID, at))
			}
			mk := func(contentID string, rec *schedule.Recurrence) schedule.Item {
				it := newItem(contentID, t0)
				it.Recurring = rec
				got, err := st.CreateItem(ctx, it)
				require.NoError(t, err)
				return got
			}

			expanded := mk("a", daily())
			missed := mk("b", daily())
			old := mk("c", daily())
			plain := mk("d", nil)
			off := mk("e", &schedule.Recurrence{Enabled: false, Frequency: schedule.Daily})
			complete(expanded, t0)
			complete(missed, t0)
			complete(old, t0.Add(-48*time.Hour))
			complete(plain, t0)
			complete(off, t0)

			child := newItem("a2", t0.Add(24*time.Hour))
			child.ParentID = expanded.ID
			child.Recurring = daily()
			created, err := st.CreateItem(ctx, child)
			require.NoError(t, err)

			got, err := st.FindChild(ctx, expanded.ID)
			require.NoError(t, err)
			assert.Equal(t, created.ID, got.ID)
			_, err = st.FindChild(ctx, missed.ID)
			assert.True(t, errors.Is(err, schedule.ErrNotFound))

			list, err := st.ListUnexpanded(ctx, t0.Add(-time.Hour))
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, missed.ID, list[0].ID)
		})
	}
}

func TestStoreDeleteContent(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)
			c, err := st.CreateContent(ctx, content.Content{Type: content.TypePost})
			require.NoError(t, err)
			require.NoError(t, st.DeleteContent(ctx, c.ID))
			_, err = st.FindContent(ctx, c.ID)
			assert.True(t, errors.Is(err, content.ErrNotFound))
			require.NoError(t, st.DeleteContent(ctx, c.ID))
		})
	}
}
