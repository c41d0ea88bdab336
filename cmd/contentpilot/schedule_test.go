package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentpilot/internal/content"
	"contentpilot/internal/schedule"
)

func TestScheduleFlagsExistingContent(t *testing.T) {
	f := scheduleFlags{contentID: "c1", at: "2024-05-15 09:30", tz: "Europe/Berlin", repeat: "weekly", days: "1,3", until: "2024-06-30"}
	it, draft, err := f.item(time.Now())
	require.NoError(t, err)
	assert.Nil(t, draft)
	assert.Equal(t, "c1", it.ContentID)
	assert.True(t, it.ScheduledFor.Equal(time.Date(2024, 5, 15, 7, 30, 0, 0, time.UTC)))
	assert.Equal(t, "Europe/Berlin", it.Timezone)
	require.NotNil(t, it.Recurring)
	assert.Equal(t, schedule.Weekly, it.Recurring.Frequency)
	assert.Equal(t, []int{1, 3}, it.Recurring.DaysOfWeek)
	require.NotNil(t, it.Recurring.EndDate)
	assert.True(t, it.Recurring.EndDate.Equal(time.Date(2024, 6, 29, 22, 0, 0, 0, time.UTC)))
}

func TestScheduleFlagsDraft(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := scheduleFlags{caption: "hi", contentType: "Story", tz: "UTC"}
	it, draft, err := f.item(now)
	require.NoError(t, err)
	require.NotNil(t, draft)
	assert.Equal(t, content.TypeStory, draft.Type)
	assert.Equal(t, content.TypeStory, it.ContentType)
	assert.True(t, it.ScheduledFor.Equal(now))

	_, _, err = scheduleFlags{tz: "UTC"}.item(now)
	require.Error(t, err)
	_, _, err = scheduleFlags{caption: "x", contentType: "tweet", tz: "UTC"}.item(now)
	require.Error(t, err)
	_, _, err = scheduleFlags{contentID: "c", at: "tomorrow", tz: "UTC"}.item(now)
	require.Error(t, err)
}

func TestScheduleAndTickCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging: {level: error, console: true}
storage: {driver: memory}
dispatcher: {enabled: true}
publish:
  routes: {post: dryrun}
`), 0o600))

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"--config", path, "schedule", "--caption", "hello"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), `"status": "pending"`)

	out.Reset()
	root = newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"--config", path, "tick"})
	require.NoError(t, root.Execute())
	// memory storage does not survive between commands
	assert.Contains(t, out.String(), `"due": 0`)
}
