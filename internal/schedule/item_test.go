package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentpilot/internal/content"
)

func TestNormalizeDefaults(t *testing.T) {
	loc := time.FixedZone("WIB", 7*3600)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	it := Item{ContentType: content.TypePost, ContentID: "c", ScheduledFor: time.Date(2024, 1, 2, 9, 0, 0, 0, loc)}
	it.Normalize(now)

	assert.NotEmpty(t, it.ID)
	assert.Equal(t, StatusPending, it.Status)
	assert.Equal(t, DefaultMaxAttempts, it.MaxAttempts)
	assert.Equal(t, time.UTC, it.ScheduledFor.Location())
	assert.Equal(t, 2, it.ScheduledFor.Hour())
	require.NoError(t, it.Validate())
}

func TestValidate(t *testing.T) {
	base := Item{ContentType: content.TypeReel, ContentID: "c", ScheduledFor: time.Now(), MaxAttempts: 3}
	require.NoError(t, base.Validate())

	bad := base
	bad.ContentType = "tweet"
	assert.Error(t, bad.Validate())

	bad = base
	bad.Recurring = &Recurrence{Enabled: true, Frequency: "hourly"}
	assert.Error(t, bad.Validate())

	bad = base
	bad.Recurring = &Recurrence{Enabled: true, Frequency: Weekly, DaysOfWeek: []int{7}}
	assert.Error(t, bad.Validate())

	bad = base
	bad.Attempts = 4
	assert.Error(t, bad.Validate())
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}
