// Package schedule defines scheduled items, their lifecycle states and the
// store contract. All status transitions in a Store are status-guarded: an
// update only applies when the item is still in the expected state.
package schedule

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"contentpilot/internal/content"
)

var (
	ErrNotFound = errors.New("scheduled item not found")
	// ErrConflict means a guarded update lost: the item was not in the
	// expected state, or a unique key (parent id) already exists.
	ErrConflict = errors.New("scheduled item state conflict")
)

const DefaultMaxAttempts = 3

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

type Recurrence struct {
	Enabled   bool      `json:"enabled"`
	Frequency Frequency `json:"frequency"`
	// DaysOfWeek uses 0=Sunday..6=Saturday; weekly only.
	DaysOfWeek []int      `json:"days_of_week,omitempty"`
	EndDate    *time.Time `json:"end_date,omitempty"`
}

func (r *Recurrence) Active() bool { return r != nil && r.Enabled }

type Item struct {
	ID           string       `json:"id"`
	ParentID     string       `json:"parent_id,omitempty"`
	ContentType  content.Type `json:"content_type"`
	ContentID    string       `json:"content_id"`
	ScheduledFor time.Time    `json:"scheduled_for"`
	// Timezone is informational; ScheduledFor is always UTC.
	Timezone     string      `json:"timezone,omitempty"`
	Recurring    *Recurrence `json:"recurring,omitempty"`
	Status       Status      `json:"status"`
	Attempts     int         `json:"attempts"`
	MaxAttempts  int         `json:"max_attempts"`
	LastAttempt  *time.Time  `json:"last_attempt,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

func NewID() string { return uuid.NewString() }

// Normalize fills defaults for a new item: id, pending status, UTC time and max attempts.
func (it *Item) Normalize(now time.Time) {
	if it.ID == "" {
		it.ID = NewID()
	}
	if it.Status == "" {
		it.Status = StatusPending
	}
	if it.MaxAttempts <= 0 {
		it.MaxAttempts = DefaultMaxAttempts
	}
	it.ScheduledFor = it.ScheduledFor.UTC()
	if it.CreatedAt.IsZero() {
		it.CreatedAt = now
	}
	it.UpdatedAt = now
}

func (it Item) Validate() error {
	if !it.ContentType.Valid() {
		return errors.Newf("invalid content type %q", it.ContentType)
	}
	if it.ContentID == "" {
		return errors.New("content id required")
	}
	if it.ScheduledFor.IsZero() {
		return errors.New("scheduled time required")
	}
	if it.Attempts < 0 || it.Attempts > it.MaxAttempts {
		return errors.Newf("attempts %d out of range (max %d)", it.Attempts, it.MaxAttempts)
	}
	if r := it.Recurring; r.Active() {
		switch r.Frequency {
		case Daily, Weekly, Monthly:
		default:
			return errors.Newf("invalid recurrence frequency %q", r.Frequency)
		}
		for _, d := range r.DaysOfWeek {
			if d < 0 || d > 6 {
				return errors.Newf("invalid day of week %d", d)
			}
		}
	}
	return nil
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Status Status
	Limit  int
}

// Store persists scheduled items.
type Store interface {
	// CreateItem inserts a new item. A second item with the same non-empty
	// ParentID yields ErrConflict.
	CreateItem(ctx context.Context, it Item) (Item, error)
	GetItem(ctx context.Context, id string) (Item, error)
	ListItems(ctx context.Context, f Filter) ([]Item, error)
	// ListDue returns pending items with ScheduledFor <= now, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]Item, error)
	// ListStale returns processing items whose last attempt is before cutoff.
	ListStale(ctx context.Context, cutoff time.Time) ([]Item, error)
	// FindChild returns the item expanded from parentID, or ErrNotFound.
	FindChild(ctx context.Context, parentID string) (Item, error)
	// ListUnexpanded returns completed recurring items that finished at or
	// after since and have no child yet.
	ListUnexpanded(ctx context.Context, since time.Time) ([]Item, error)

	// Claim moves pending -> processing, increments attempts and stamps LastAttempt.
	Claim(ctx context.Context, id string, now time.Time) (Item, error)
	// Complete moves processing -> completed and clears ErrorMessage.
	Complete(ctx context.Context, id string, now time.Time) error
	// Reschedule moves processing -> pending at a new time, recording msg.
	Reschedule(ctx context.Context, id string, at time.Time, msg string, now time.Time) error
	// Fail moves processing -> failed, recording msg.
	Fail(ctx context.Context, id string, msg string, now time.Time) error
	// Cancel moves pending -> cancelled.
	Cancel(ctx context.Context, id string, now time.Time) error
}
