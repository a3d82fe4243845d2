package daemon

import (
	"sync"
	"sync/atomic"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/event"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/logging"
)

const (
	defaultEventHistory = 500
	defaultClientBuffer = 256
)

// Listener observes events synchronously on the publishing goroutine.
type Listener func(ev event.Event)

type listenerEntry struct {
	id uint64
	fn Listener
}

// Broadcaster is a session's single publish point. Listeners (sub-agent
// controller, channel forwarder) run synchronously in publish order;
// clients (transport) receive on buffered channels and never block the
// publisher.
type Broadcaster struct {
	sessionID  string
	logger     logging.Logger
	maxHistory int

	mu        sync.RWMutex
	listeners []listenerEntry
	clients   []chan event.Event
	history   []event.Event
	closed    bool
	nextID    uint64

	sent    atomic.Int64
	dropped atomic.Int64
}

func newBroadcaster(sessionID string, maxHistory int, logger logging.Logger) *Broadcaster {
	if maxHistory <= 0 {
		maxHistory = defaultEventHistory
	}
	return &Broadcaster{
		sessionID:  sessionID,
		maxHistory: maxHistory,
		logger:     logging.OrNop(logger),
	}
}

// AddListener registers fn and returns a func that removes it.
func (b *Broadcaster) AddListener(fn Listener) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, listenerEntry{id: id, fn: fn})
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, l := range b.listeners {
			if l.id == id {
				b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
				return
			}
		}
	}
}

// Subscribe attaches a buffered client. The returned history is the replay
// snapshot taken atomically with registration, so no event is missed or
// duplicated between the two.
func (b *Broadcaster) Subscribe(buffer int) (history []event.Event, ch <-chan event.Event, cancel func()) {
	if buffer <= 0 {
		buffer = defaultClientBuffer
	}
	c := make(chan event.Event, buffer)
	b.mu.Lock()
	history = append([]event.Event(nil), b.history...)
	if b.closed {
		close(c)
	} else {
		b.clients = append(b.clients, c)
	}
	b.mu.Unlock()
	b.logger.Debug("Client subscribed to session %s", b.sessionID)

	var once sync.Once
	return history, c, func() {
		once.Do(func() { b.unsubscribe(c) })
	}
}

func (b *Broadcaster) unsubscribe(c chan event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, client := range b.clients {
		if client == c {
			b.clients = append(b.clients[:i], b.clients[i+1:]...)
			close(c)
			b.logger.Debug("Client unsubscribed from session %s (remaining: %d)", b.sessionID, len(b.clients))
			return
		}
	}
}

// Publish delivers ev to listeners, then clients. Heartbeats are never
// recorded in history.
func (b *Broadcaster) Publish(ev event.Event) {
	if ev == nil {
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if _, beat := ev.(event.Heartbeat); !beat {
		b.history = append(b.history, ev)
		if len(b.history) > b.maxHistory {
			b.history = b.history[len(b.history)-b.maxHistory:]
		}
	}
	listeners := make([]Listener, len(b.listeners))
	for i, l := range b.listeners {
		listeners[i] = l.fn
	}
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for i, ch := range b.clients {
		select {
		case ch <- ev:
			b.sent.Add(1)
		default:
			if b.deliverCritical(ch, ev) {
				continue
			}
			b.dropped.Add(1)
			b.logger.Warn("Client buffer full for session %s, dropping %s event (client %d/%d)", b.sessionID, ev.Type(), i+1, len(b.clients))
		}
	}
}

// deliverCritical frees one slot by discarding the oldest buffered event so
// terminal events still reach slow clients.
func (b *Broadcaster) deliverCritical(ch chan event.Event, ev event.Event) bool {
	if !event.IsCritical(ev) {
		return false
	}
	select {
	case <-ch:
		b.dropped.Add(1)
	default:
	}
	select {
	case ch <- ev:
		b.sent.Add(1)
		b.logger.Warn("Client buffer saturated for session %s; dropped oldest event to deliver %s", b.sessionID, ev.Type())
		return true
	default:
		return false
	}
}

// History returns a copy of the recorded events.
func (b *Broadcaster) History() []event.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]event.Event(nil), b.history...)
}

// ClientCount returns the number of attached clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Dropped returns how many events were dropped for slow clients.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

// close detaches every client and listener; later publishes are ignored.
func (b *Broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.clients {
		close(ch)
	}
	b.clients = nil
	b.listeners = nil
}
