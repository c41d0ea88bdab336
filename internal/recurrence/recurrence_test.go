package recurrence

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentpilot/internal/content"
	"contentpilot/internal/schedule"
	"contentpilot/internal/storage"
	logx "contentpilot/pkg/logx"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 30, 0, 0, time.UTC)
}

func TestNextDate(t *testing.T) {
	// 2024-05-15 is a Wednesday.
	wed := date(2024, 5, 15)
	tests := []struct {
		name string
		rec  schedule.Recurrence
		from time.Time
		want time.Time
	}{
		{"daily", schedule.Recurrence{Frequency: schedule.Daily}, wed, date(2024, 5, 16)},
		{"daily month end", schedule.Recurrence{Frequency: schedule.Daily}, date(2024, 2, 29), date(2024, 3, 1)},
		{"weekly later same week", schedule.Recurrence{Frequency: schedule.Weekly, DaysOfWeek: []int{1, 5}}, wed, date(2024, 5, 17)},
		{"weekly wraps to monday", schedule.Recurrence{Frequency: schedule.Weekly, DaysOfWeek: []int{1}}, wed, date(2024, 5, 20)},
		{"weekly unsorted wraps to smallest", schedule.Recurrence{Frequency: schedule.Weekly, DaysOfWeek: []int{3, 2, 1}}, wed, date(2024, 5, 20)},
		{"weekly same day is next week", schedule.Recurrence{Frequency: schedule.Weekly, DaysOfWeek: []int{3}}, wed, date(2024, 5, 22)},
		{"weekly no days", schedule.Recurrence{Frequency: schedule.Weekly}, wed, date(2024, 5, 22)},
		{"weekly saturday to sunday", schedule.Recurrence{Frequency: schedule.Weekly, DaysOfWeek: []int{0}}, date(2024, 5, 18), date(2024, 5, 19)},
		{"monthly", schedule.Recurrence{Frequency: schedule.Monthly}, wed, date(2024, 6, 15)},
		{"monthly clamp leap", schedule.Recurrence{Frequency: schedule.Monthly}, date(2024, 1, 31), date(2024, 2, 29)},
		{"monthly clamp", schedule.Recurrence{Frequency: schedule.Monthly}, date(2023, 1, 31), date(2023, 2, 28)},
		{"monthly 30 day month", schedule.Recurrence{Frequency: schedule.Monthly}, date(2024, 3, 31), date(2024, 4, 30)},
		{"monthly year wrap", schedule.Recurrence{Frequency: schedule.Monthly}, date(2024, 12, 31), date(2025, 1, 31)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextDate(tt.rec, tt.from)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
			assert.True(t, got.After(tt.from))
		})
	}

	_, err := NextDate(schedule.Recurrence{Frequency: "yearly"}, wed)
	require.Error(t, err)
}

func setup(t *testing.T, rec *schedule.Recurrence) (*storage.Memory, *Expander, schedule.Item) {
	t.Helper()
	ctx := context.Background()
	st := storage.NewMemory()
	c, err := st.CreateContent(ctx, content.Content{Type: content.TypePost, Caption: "weekly tip"})
	require.NoError(t, err)
	require.NoError(t, st.MarkPublished(ctx, c.ID, content.Publication{ProviderID: "p1"}))
	it, err := st.CreateItem(ctx, schedule.Item{
		ContentType:  content.TypePost,
		ContentID:    c.ID,
		ScheduledFor: date(2024, 5, 15),
		Recurring:    rec,
		MaxAttempts:  5,
		Timezone:     "Asia/Jakarta",
	})
	require.NoError(t, err)
	return st, NewExpander(st, st, logx.Nop()), it
}

func TestExpandCreatesNextOccurrence(t *testing.T) {
	ctx := context.Background()
	st, ex, it := setup(t, &schedule.Recurrence{Enabled: true, Frequency: schedule.Weekly, DaysOfWeek: []int{1}})

	next, created, err := ex.Expand(ctx, it)
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, it.ID, next.ParentID)
	assert.Equal(t, schedule.StatusPending, next.Status)
	assert.Equal(t, 0, next.Attempts)
	assert.Equal(t, 5, next.MaxAttempts)
	assert.Equal(t, "Asia/Jakarta", next.Timezone)
	assert.True(t, date(2024, 5, 20).Equal(next.ScheduledFor))
	assert.NotEqual(t, it.ContentID, next.ContentID)

	c, err := st.FindContent(ctx, next.ContentID)
	require.NoError(t, err)
	assert.Equal(t, "weekly tip", c.Caption)
	assert.Empty(t, c.ProviderID)
	assert.Equal(t, content.StatusDraft, c.Status)

	// expanding the same parent again is a no-op
	_, created, err = ex.Expand(ctx, it)
	require.NoError(t, err)
	assert.False(t, created)
	pending, err := st.ListItems(ctx, schedule.Filter{Status: schedule.StatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestExpandStopsAfterEndDate(t *testing.T) {
	end := date(2024, 5, 15).Add(12 * time.Hour)
	_, ex, it := setup(t, &schedule.Recurrence{Enabled: true, Frequency: schedule.Daily, EndDate: &end})
	_, created, err := ex.Expand(context.Background(), it)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestExpandEndDateInclusive(t *testing.T) {
	end := date(2024, 5, 16)
	_, ex, it := setup(t, &schedule.Recurrence{Enabled: true, Frequency: schedule.Daily, EndDate: &end})
	_, created, err := ex.Expand(context.Background(), it)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestExpandNonRecurring(t *testing.T) {
	_, ex, it := setup(t, &schedule.Recurrence{Enabled: false, Frequency: schedule.Daily})
	_, created, err := ex.Expand(context.Background(), it)
	require.NoError(t, err)
	assert.False(t, created)
}

type cloneSpy struct {
	*storage.Memory
	clones []string
}

func (s *cloneSpy) CloneContent(ctx context.Context, id string) (content.Content, error) {
	c, err := s.Memory.CloneContent(ctx, id)
	if err == nil {
		s.clones = append(s.clones, c.ID)
	}
	return c, err
}

// blindChildren never reports an existing child, so only the unique parent
// constraint stops a second expansion.
type blindChildren struct{ *storage.Memory }

func (blindChildren) FindChild(ctx context.Context, parentID string) (schedule.Item, error) {
	return schedule.Item{}, schedule.ErrNotFound
}

func TestExpandTwiceClonesOnce(t *testing.T) {
	ctx := context.Background()
	st, _, it := setup(t, &schedule.Recurrence{Enabled: true, Frequency: schedule.Daily})
	spy := &cloneSpy{Memory: st}
	ex := NewExpander(st, spy, logx.Nop())

	_, created, err := ex.Expand(ctx, it)
	require.NoError(t, err)
	require.True(t, created)
	_, created, err = ex.Expand(ctx, it)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, spy.clones, 1)
}

func TestExpandConflictDropsClone(t *testing.T) {
	ctx := context.Background()
	st, ex, it := setup(t, &schedule.Recurrence{Enabled: true, Frequency: schedule.Daily})
	first, created, err := ex.Expand(ctx, it)
	require.NoError(t, err)
	require.True(t, created)

	spy := &cloneSpy{Memory: st}
	racer := NewExpander(blindChildren{st}, spy, logx.Nop())
	_, created, err = racer.Expand(ctx, it)
	require.NoError(t, err)
	assert.False(t, created)
	require.Len(t, spy.clones, 1)

	_, err = st.FindContent(ctx, spy.clones[0])
	assert.True(t, errors.Is(err, content.ErrNotFound))
	_, err = st.FindContent(ctx, first.ContentID)
	require.NoError(t, err)
}
