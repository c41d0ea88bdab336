package content

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCloneResetsPublishFields(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	orig := Content{
		ID:          "c1",
		Type:        TypePost,
		Caption:     "hello",
		MediaURLs:   []string{"https://x/1.jpg"},
		Payload:     map[string]string{"k": "v"},
		Status:      StatusPublished,
		ProviderID:  "tg:42",
		Permalink:   "https://t.me/c/1/42",
		PublishedAt: &at,
		Metrics:     map[string]int64{"views": 10},
	}
	now := at.Add(time.Hour)
	c := orig.Clone(now)

	assert.NotEqual(t, orig.ID, c.ID)
	assert.Equal(t, StatusDraft, c.Status)
	assert.Empty(t, c.ProviderID)
	assert.Empty(t, c.Permalink)
	assert.Nil(t, c.PublishedAt)
	assert.Nil(t, c.Metrics)
	assert.Equal(t, "hello", c.Caption)
	assert.Equal(t, now, c.CreatedAt)

	c.Payload["k"] = "changed"
	c.MediaURLs[0] = "changed"
	assert.Equal(t, "v", orig.Payload["k"])
	assert.Equal(t, "https://x/1.jpg", orig.MediaURLs[0])
}

func TestTypeValid(t *testing.T) {
	assert.True(t, TypeReel.Valid())
	assert.False(t, Type("carousel").Valid())
}
