package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFanout(t *testing.T) {
	b := New()
	ch1, unsub1 := b.Subscribe(4)
	ch2, unsub2 := b.Subscribe(4)
	defer unsub1()
	defer unsub2()

	b.Publish(Event{Type: ItemCompleted, Data: "x"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			assert.Equal(t, ItemCompleted, e.Type)
			assert.False(t, e.Time.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"}) // dropped, must not block

	e := <-ch
	assert.Equal(t, "a", e.Type)
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %q", e.Type)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	_, ok := <-ch
	require.False(t, ok)
	b.Publish(Event{Type: "after"})
}

func TestSubscribeTypesFilters(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(4, ItemFailed, WorkflowDone)
	defer unsub()

	b.Publish(Event{Type: ItemCompleted})
	b.Publish(Event{Type: ItemFailed})
	b.Publish(Event{Type: WorkflowDone})

	assert.Equal(t, ItemFailed, (<-ch).Type)
	assert.Equal(t, WorkflowDone, (<-ch).Type)
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %q", e.Type)
	default:
	}
}

func TestStatsCountsDrops(t *testing.T) {
	b := New()
	_, unsubAll := b.Subscribe(1)
	defer unsubAll()
	_, unsubFailed := b.Subscribe(4, ItemFailed)
	defer unsubFailed()

	b.Publish(Event{Type: ItemCompleted})
	b.Publish(Event{Type: ItemFailed})

	st := b.Stats()
	assert.Equal(t, uint64(2), st.Published)
	assert.Equal(t, uint64(1), st.Dropped)
	require.Len(t, st.Subscribers, 2)

	all, failed := st.Subscribers[0], st.Subscribers[1]
	assert.Empty(t, all.Types)
	assert.Equal(t, 1, all.Buffered)
	assert.Equal(t, uint64(1), all.Delivered)
	assert.Equal(t, uint64(1), all.Dropped)
	assert.Equal(t, []string{ItemFailed}, failed.Types)
	assert.Equal(t, uint64(1), failed.Delivered)
	assert.Zero(t, failed.Dropped)

	unsubAll()
	assert.Len(t, b.Stats().Subscribers, 1)
}
