// Package publish routes content to the channel it is published on.
package publish

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"contentpilot/internal/content"
)

// Publisher posts one piece of content. Implementations must not repost
// content that already carries a ProviderID.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, c content.Content) (content.Publication, error)
}

// Func adapts a function to Publisher.
type Func func(ctx context.Context, c content.Content) (content.Publication, error)

func (f Func) Name() string { return "func" }

func (f Func) Publish(ctx context.Context, c content.Content) (content.Publication, error) {
	return f(ctx, c)
}

// permanentError marks a failure that retrying cannot fix (bad request,
// missing chat, unsupported media).
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the dispatcher fails the item without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// alreadyPublished returns the stored publication for content that carries a ProviderID.
func alreadyPublished(c content.Content) (content.Publication, bool) {
	if c.ProviderID == "" {
		return content.Publication{}, false
	}
	p := content.Publication{ProviderID: c.ProviderID, Permalink: c.Permalink}
	if c.PublishedAt != nil {
		p.PublishedAt = *c.PublishedAt
	}
	return p, true
}

// Registry maps content types to publishers.
type Registry struct {
	mu     sync.RWMutex
	byType map[content.Type]Publisher
}

func NewRegistry() *Registry {
	return &Registry{byType: map[content.Type]Publisher{}}
}

func (r *Registry) Register(t content.Type, p Publisher) {
	r.mu.Lock()
	r.byType[t] = p
	r.mu.Unlock()
}

// Publish routes c to the publisher registered for its type.
func (r *Registry) Publish(ctx context.Context, c content.Content) (content.Publication, error) {
	r.mu.RLock()
	p, ok := r.byType[c.Type]
	r.mu.RUnlock()
	if !ok {
		return content.Publication{}, Permanent(errors.Newf("no publisher for content type %q", c.Type))
	}
	if pub, done := alreadyPublished(c); done {
		return pub, nil
	}
	return p.Publish(ctx, c)
}

// Routes lists type -> publisher name, for diagnostics.
func (r *Registry) Routes() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.byType))
	for t, p := range r.byType {
		out[string(t)] = p.Name()
	}
	return out
}
