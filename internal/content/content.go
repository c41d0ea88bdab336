// Package content holds the publishable content entity and the repository
// contract the dispatcher and workflows depend on.
package content

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("content not found")

type Type string

const (
	TypePost  Type = "post"
	TypeReel  Type = "reel"
	TypeStory Type = "story"
)

func (t Type) Valid() bool {
	switch t {
	case TypePost, TypeReel, TypeStory:
		return true
	}
	return false
}

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

type Content struct {
	ID        string            `json:"id"`
	Type      Type              `json:"type"`
	OwnerID   string            `json:"owner_id,omitempty"`
	Caption   string            `json:"caption"`
	MediaURLs []string          `json:"media_urls,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
	Status    Status            `json:"status"`

	// publish-specific
	ProviderID   string           `json:"provider_id,omitempty"`
	Permalink    string           `json:"permalink,omitempty"`
	PublishedAt  *time.Time       `json:"published_at,omitempty"`
	PublishError string           `json:"publish_error,omitempty"`
	Metrics      map[string]int64 `json:"metrics,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Publication is what a publisher reports back on success.
type Publication struct {
	ProviderID  string
	Permalink   string
	PublishedAt time.Time
}

// Clone copies c under a new id with every publish-specific field reset.
func (c Content) Clone(now time.Time) Content {
	out := c
	out.ID = NewID()
	out.Status = StatusDraft
	out.ProviderID = ""
	out.Permalink = ""
	out.PublishedAt = nil
	out.PublishError = ""
	out.Metrics = nil
	out.MediaURLs = append([]string(nil), c.MediaURLs...)
	if c.Payload != nil {
		out.Payload = make(map[string]string, len(c.Payload))
		for k, v := range c.Payload {
			out.Payload[k] = v
		}
	}
	out.CreatedAt = now
	out.UpdatedAt = now
	return out
}

func NewID() string { return uuid.NewString() }

// Repository is implemented by internal/storage.
type Repository interface {
	CreateContent(ctx context.Context, c Content) (Content, error)
	FindContent(ctx context.Context, id string) (Content, error)
	MarkPublished(ctx context.Context, id string, p Publication) error
	MarkFailed(ctx context.Context, id string, reason string) error
	// CloneContent persists a Clone of id and returns it.
	CloneContent(ctx context.Context, id string) (Content, error)
	// DeleteContent removes a draft nothing refers to. Missing ids are not an error.
	DeleteContent(ctx context.Context, id string) error
}
