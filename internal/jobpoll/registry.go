package jobpoll

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Registry keeps handles of in-flight jobs. Entries expire after a TTL so a
// job that is never resumed does not linger forever.
type Registry interface {
	Put(ctx context.Context, h Handle) error
	Get(ctx context.Context, provider, id string) (Handle, bool, error)
	Delete(ctx context.Context, provider, id string) error
	// List returns live handles, oldest first.
	List(ctx context.Context) ([]Handle, error)
}

type nopRegistry struct{}

func (nopRegistry) Put(context.Context, Handle) error { return nil }
func (nopRegistry) Get(context.Context, string, string) (Handle, bool, error) {
	return Handle{}, false, nil
}
func (nopRegistry) Delete(context.Context, string, string) error { return nil }
func (nopRegistry) List(context.Context) ([]Handle, error)       { return nil, nil }

type memEntry struct {
	h       Handle
	expires time.Time
}

// MemoryRegistry is a process-local Registry for development and tests.
type MemoryRegistry struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time
	m   map[string]memEntry
}

func NewMemoryRegistry(ttl time.Duration) *MemoryRegistry {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryRegistry{ttl: ttl, now: time.Now, m: map[string]memEntry{}}
}

func (r *MemoryRegistry) Put(_ context.Context, h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h.Metadata = copyMeta(h.Metadata)
	r.m[h.key()] = memEntry{h: h, expires: r.now().Add(r.ttl)}
	return nil
}

func (r *MemoryRegistry) Get(_ context.Context, provider, id string) (Handle, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := Handle{Provider: provider, ID: id}.key()
	e, ok := r.m[k]
	if !ok {
		return Handle{}, false, nil
	}
	if !r.now().Before(e.expires) {
		delete(r.m, k)
		return Handle{}, false, nil
	}
	h := e.h
	h.Metadata = copyMeta(h.Metadata)
	return h, true, nil
}

func (r *MemoryRegistry) Delete(_ context.Context, provider, id string) error {
	r.mu.Lock()
	delete(r.m, Handle{Provider: provider, ID: id}.key())
	r.mu.Unlock()
	return nil
}

func (r *MemoryRegistry) List(_ context.Context) ([]Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	out := make([]Handle, 0, len(r.m))
	for k, e := range r.m {
		if !now.Before(e.expires) {
			delete(r.m, k)
			continue
		}
		h := e.h
		h.Metadata = copyMeta(h.Metadata)
		out = append(out, h)
	}
	sortHandles(out)
	return out, nil
}

func copyMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortHandles(hs []Handle) {
	sort.Slice(hs, func(i, j int) bool {
		if !hs[i].CreatedAt.Equal(hs[j].CreatedAt) {
			return hs[i].CreatedAt.Before(hs[j].CreatedAt)
		}
		return hs[i].key() < hs[j].key()
	})
}
