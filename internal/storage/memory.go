package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"contentpilot/internal/content"
	"contentpilot/internal/schedule"
)

// Memory is a process-local Store. Values are copied in and out so callers
// never share mutable state with the store.
type Memory struct {
	mu       sync.Mutex
	now      func() time.Time
	items    map[string]schedule.Item
	children map[string]string // parent id -> child id
	contents map[string]content.Content
	dedup    map[string]time.Time
}

func NewMemory() *Memory {
	return &Memory{
		now:      time.Now,
		items:    map[string]schedule.Item{},
		children: map[string]string{},
		contents: map[string]content.Content{},
		dedup:    map[string]time.Time{},
	}
}

// SetClock overrides the clock used for audit timestamps.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Memory) Close() error { return nil }

func cloneItem(it schedule.Item) schedule.Item {
	if it.Recurring != nil {
		r := *it.Recurring
		r.DaysOfWeek = append([]int(nil), r.DaysOfWeek...)
		it.Recurring = &r
	}
	return it
}

func cloneContent(c content.Content) content.Content {
	c.MediaURLs = append([]string(nil), c.MediaURLs...)
	if c.Payload != nil {
		p := make(map[string]string, len(c.Payload))
		for k, v := range c.Payload {
			p[k] = v
		}
		c.Payload = p
	}
	if c.Metrics != nil {
		mm := make(map[string]int64, len(c.Metrics))
		for k, v := range c.Metrics {
			mm[k] = v
		}
		c.Metrics = mm
	}
	return c
}

func (m *Memory) CreateItem(ctx context.Context, it schedule.Item) (schedule.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it.Normalize(m.now().UTC())
	if err := it.Validate(); err != nil {
		return schedule.Item{}, err
	}
	if _, ok := m.items[it.ID]; ok {
		return schedule.Item{}, errors.Wrapf(schedule.ErrConflict, "item %s already exists", it.ID)
	}
	if it.ParentID != "" {
		if _, ok := m.children[it.ParentID]; ok {
			return schedule.Item{}, errors.Wrapf(schedule.ErrConflict, "parent %s already expanded", it.ParentID)
		}
		m.children[it.ParentID] = it.ID
	}
	m.items[it.ID] = cloneItem(it)
	return cloneItem(it), nil
}

func (m *Memory) GetItem(ctx context.Context, id string) (schedule.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return schedule.Item{}, errors.Wrapf(schedule.ErrNotFound, "item %s", id)
	}
	return cloneItem(it), nil
}

func (m *Memory) selectItems(keep func(schedule.Item) bool, limit int) []schedule.Item {
	out := make([]schedule.Item, 0)
	for _, it := range m.items {
		if keep(it) {
			out = append(out, cloneItem(it))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledFor.Equal(out[j].ScheduledFor) {
			return out[i].ScheduledFor.Before(out[j].ScheduledFor)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *Memory) ListItems(ctx context.Context, f schedule.Filter) ([]schedule.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectItems(func(it schedule.Item) bool {
		return f.Status == "" || it.Status == f.Status
	}, f.Limit), nil
}

func (m *Memory) ListDue(ctx context.Context, now time.Time, limit int) ([]schedule.Item, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectItems(func(it schedule.Item) bool {
		return it.Status == schedule.StatusPending && !it.ScheduledFor.After(now)
	}, limit), nil
}

func (m *Memory) ListStale(ctx context.Context, cutoff time.Time) ([]schedule.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectItems(func(it schedule.Item) bool {
		return it.Status == schedule.StatusProcessing && (it.LastAttempt == nil || it.LastAttempt.Before(cutoff))
	}, 0), nil
}

func (m *Memory) FindChild(ctx context.Context, parentID string) (schedule.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.children[parentID]
	if !ok {
		return schedule.Item{}, errors.Wrapf(schedule.ErrNotFound, "child of %s", parentID)
	}
	return cloneItem(m.items[id]), nil
}

func (m *Memory) ListUnexpanded(ctx context.Context, since time.Time) ([]schedule.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectItems(func(it schedule.Item) bool {
		if it.Status != schedule.StatusCompleted || !it.Recurring.Active() {
			return false
		}
		if it.CompletedAt == nil || it.CompletedAt.Before(since) {
			return false
		}
		_, expanded := m.children[it.ID]
		return !expanded
	}, 0), nil
}

// transition applies fn to id when it is in state from.
func (m *Memory) transition(id string, from schedule.Status, fn func(it *schedule.Item)) (schedule.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return schedule.Item{}, errors.Wrapf(schedule.ErrNotFound, "item %s", id)
	}
	if it.Status != from {
		return schedule.Item{}, errors.Wrapf(schedule.ErrConflict, "item %s is %s, want %s", id, it.Status, from)
	}
	fn(&it)
	m.items[id] = it
	return cloneItem(it), nil
}

func (m *Memory) Claim(ctx context.Context, id string, now time.Time) (schedule.Item, error) {
	return m.transition(id, schedule.StatusPending, func(it *schedule.Item) {
		at := now.UTC()
		it.Status = schedule.StatusProcessing
		it.Attempts++
		it.LastAttempt = &at
		it.UpdatedAt = at
	})
}

func (m *Memory) Complete(ctx context.Context, id string, now time.Time) error {
	_, err := m.transition(id, schedule.StatusProcessing, func(it *schedule.Item) {
		at := now.UTC()
		it.Status = schedule.StatusCompleted
		it.CompletedAt = &at
		it.ErrorMessage = ""
		it.UpdatedAt = at
	})
	return err
}

func (m *Memory) Reschedule(ctx context.Context, id string, at time.Time, msg string, now time.Time) error {
	_, err := m.transition(id, schedule.StatusProcessing, func(it *schedule.Item) {
		it.Status = schedule.StatusPending
		it.ScheduledFor = at.UTC()
		it.ErrorMessage = msg
		it.UpdatedAt = now.UTC()
	})
	return err
}

func (m *Memory) Fail(ctx context.Context, id string, msg string, now time.Time) error {
	_, err := m.transition(id, schedule.StatusProcessing, func(it *schedule.Item) {
		it.Status = schedule.StatusFailed
		it.ErrorMessage = msg
		it.UpdatedAt = now.UTC()
	})
	return err
}

func (m *Memory) Cancel(ctx context.Context, id string, now time.Time) error {
	_, err := m.transition(id, schedule.StatusPending, func(it *schedule.Item) {
		it.Status = schedule.StatusCancelled
		it.UpdatedAt = now.UTC()
	})
	return err
}

func (m *Memory) CreateContent(ctx context.Context, c content.Content) (content.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createContentLocked(c)
}

func (m *Memory) createContentLocked(c content.Content) (content.Content, error) {
	now := m.now().UTC()
	if c.ID == "" {
		c.ID = content.NewID()
	}
	if !c.Type.Valid() {
		return content.Content{}, errors.Newf("invalid content type %q", c.Type)
	}
	if _, ok := m.contents[c.ID]; ok {
		return content.Content{}, errors.Newf("content %s already exists", c.ID)
	}
	if c.Status == "" {
		c.Status = content.StatusDraft
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	m.contents[c.ID] = cloneContent(c)
	return cloneContent(c), nil
}

func (m *Memory) FindContent(ctx context.Context, id string) (content.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contents[id]
	if !ok {
		return content.Content{}, errors.Wrapf(content.ErrNotFound, "content %s", id)
	}
	return cloneContent(c), nil
}

func (m *Memory) MarkPublished(ctx context.Context, id string, p content.Publication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contents[id]
	if !ok {
		return errors.Wrapf(content.ErrNotFound, "content %s", id)
	}
	at := p.PublishedAt
	if at.IsZero() {
		at = m.now()
	}
	at = at.UTC()
	c.Status = content.StatusPublished
	c.ProviderID = p.ProviderID
	c.Permalink = p.Permalink
	c.PublishedAt = &at
	c.PublishError = ""
	c.UpdatedAt = m.now().UTC()
	m.contents[id] = c
	return nil
}

func (m *Memory) MarkFailed(ctx context.Context, id string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contents[id]
	if !ok {
		return errors.Wrapf(content.ErrNotFound, "content %s", id)
	}
	c.Status = content.StatusFailed
	c.PublishError = reason
	c.UpdatedAt = m.now().UTC()
	m.contents[id] = c
	return nil
}

func (m *Memory) CloneContent(ctx context.Context, id string) (content.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contents[id]
	if !ok {
		return content.Content{}, errors.Wrapf(content.ErrNotFound, "content %s", id)
	}
	return m.createContentLocked(c.Clone(m.now().UTC()))
}

func (m *Memory) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	m.mu.Lock()
	m.dedup[key] = until
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.dedup[key]
	return until, ok, nil
}

func (m *Memory) DeleteContent(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.contents, id)
	m.mu.Unlock()
	return nil
}
