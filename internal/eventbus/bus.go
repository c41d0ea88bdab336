package eventbus

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Event is an in-process signal from the dispatch loop or the media workflow.
// Publish never blocks: a subscriber whose buffer is full misses the event and
// the miss is counted against it.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Event types emitted by the dispatch loop and the media workflow.
const (
	ItemClaimed     = "item.claimed"
	ItemCompleted   = "item.completed"
	ItemRetry       = "item.retry"
	ItemFailed      = "item.failed"
	ItemCancelled   = "item.cancelled"
	ItemExpanded    = "item.expanded"
	WorkflowDone    = "workflow.done"
	RenderCompleted = "render.completed"
)

// Bus fans events out to subscribers. Subscribe with no types receives every
// event; otherwise only events whose Type is listed.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
	Stats() Stats
}

// Stats is a point-in-time view of the bus.
type Stats struct {
	Published   uint64            `json:"published"`
	Dropped     uint64            `json:"dropped"`
	Subscribers []SubscriberStats `json:"subscribers,omitempty"`
}

type SubscriberStats struct {
	ID        uint64   `json:"id"`
	Types     []string `json:"types,omitempty"`
	Buffered  int      `json:"buffered"`
	Delivered uint64   `json:"delivered"`
	Dropped   uint64   `json:"dropped"`
}

// New returns an in-memory bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*subscriber{}}
}

type subscriber struct {
	id        uint64
	ch        chan Event
	types     map[string]struct{}
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func (s *subscriber) wants(typ string) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[typ]
	return ok
}

type memBus struct {
	mu        sync.RWMutex
	subs      map[uint64]*subscriber
	seq       atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.published.Add(1)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
			s.delivered.Add(1)
		default:
			s.dropped.Add(1)
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{id: b.seq.Add(1), ch: make(chan Event, buffer)}
	if len(types) > 0 {
		s.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}

	b.mu.Lock()
	b.subs[s.id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			// no Publish can be mid-send while the write lock is held
			b.mu.Lock()
			delete(b.subs, s.id)
			close(s.ch)
			b.mu.Unlock()
		})
	}
}

func (b *memBus) Stats() Stats {
	st := Stats{Published: b.published.Load(), Dropped: b.dropped.Load()}
	b.mu.RLock()
	for _, s := range b.subs {
		ss := SubscriberStats{
			ID:        s.id,
			Buffered:  len(s.ch),
			Delivered: s.delivered.Load(),
			Dropped:   s.dropped.Load(),
		}
		for t := range s.types {
			ss.Types = append(ss.Types, t)
		}
		sort.Strings(ss.Types)
		st.Subscribers = append(st.Subscribers, ss)
	}
	b.mu.RUnlock()
	sort.Slice(st.Subscribers, func(i, j int) bool { return st.Subscribers[i].ID < st.Subscribers[j].ID })
	return st
}
