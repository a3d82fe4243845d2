package daemon

import (
	"sync"
	"testing"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/event"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterReplaysHistoryWithoutHeartbeats(t *testing.T) {
	b := newBroadcaster("s", 10, logging.Nop())
	b.Publish(event.Start{SessionID: "s"})
	b.Publish(event.Heartbeat{})
	b.Publish(event.Chunk{Text: "a"})

	history, ch, cancel := b.Subscribe(4)
	defer cancel()
	assert.Equal(t, []event.Event{event.Start{SessionID: "s"}, event.Chunk{Text: "a"}}, history)

	b.Publish(event.Done{SessionID: "s"})
	assert.Equal(t, event.Done{SessionID: "s"}, <-ch)
}

func TestBroadcasterBoundsHistory(t *testing.T) {
	b := newBroadcaster("s", 3, logging.Nop())
	for i := 0; i < 5; i++ {
		b.Publish(event.Chunk{Text: string(rune('a' + i))})
	}
	history := b.History()
	require.Len(t, history, 3)
	assert.Equal(t, event.Chunk{Text: "c"}, history[0])
}

func TestBroadcasterDeliversCriticalEventsToFullClients(t *testing.T) {
	b := newBroadcaster("s", 10, logging.Nop())
	_, ch, cancel := b.Subscribe(2)
	defer cancel()

	b.Publish(event.Chunk{Text: "1"})
	b.Publish(event.Chunk{Text: "2"})
	b.Publish(event.Chunk{Text: "3"})
	assert.Equal(t, int64(1), b.Dropped())

	b.Publish(event.Done{SessionID: "s"})
	first := <-ch
	second := <-ch
	assert.Equal(t, event.Chunk{Text: "2"}, first)
	assert.Equal(t, event.Done{SessionID: "s"}, second)
}

func TestBroadcasterListenersRunInOrder(t *testing.T) {
	b := newBroadcaster("s", 10, logging.Nop())
	var mu sync.Mutex
	var seen []string
	remove := b.AddListener(func(ev event.Event) {
		mu.Lock()
		seen = append(seen, "first:"+string(ev.Type()))
		mu.Unlock()
	})
	b.AddListener(func(ev event.Event) {
		mu.Lock()
		seen = append(seen, "second:"+string(ev.Type()))
		mu.Unlock()
	})

	b.Publish(event.Start{})
	remove()
	b.Publish(event.Done{})
	assert.Equal(t, []string{"first:start", "second:start", "second:done"}, seen)
}

func TestBroadcasterCancelDetachesClientOnly(t *testing.T) {
	b := newBroadcaster("s", 10, logging.Nop())
	_, ch, cancel := b.Subscribe(1)
	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.ClientCount())

	b.Publish(event.Chunk{Text: "still recorded"})
	assert.Len(t, b.History(), 1)
}

func TestBroadcasterCloseEndsSubscriptions(t *testing.T) {
	b := newBroadcaster("s", 10, logging.Nop())
	_, ch, _ := b.Subscribe(1)
	b.close()
	_, open := <-ch
	assert.False(t, open)

	_, late, _ := b.Subscribe(1)
	_, open = <-late
	assert.False(t, open)
}
