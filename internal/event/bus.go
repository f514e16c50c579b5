package event

import (
	"sync"

	"github.com/lanikai/rtspsource/internal/logging"
)

var log = logging.DefaultLogger.WithTag("event")

type Handler func(Event)

// Bus fans events out to subscribed handlers. Handlers run synchronously on
// the emitting goroutine, in subscription order, and must not block. A
// handler may subscribe or cancel from within a callback.
type Bus struct {
	mu       sync.RWMutex
	handlers []subscription
	nextID   uint64
}

type subscription struct {
	id uint64
	h  Handler
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, subscription{id, h})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.handlers {
		if s.id == id {
			// Copy so that in-flight Emit snapshots are unaffected.
			handlers := make([]subscription, 0, len(b.handlers)-1)
			handlers = append(handlers, b.handlers[:i]...)
			b.handlers = append(handlers, b.handlers[i+1:]...)
			return
		}
	}
}

// Emit calls every handler subscribed at the time of the call.
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, s := range handlers {
		s.h(e)
	}
}

// Channel subscribes a buffered channel of the given capacity. When the
// receiver falls behind, the oldest pending event is dropped to make room.
// The channel is closed by cancel.
func (b *Bus) Channel(capacity int, filter func(Event) bool) (<-chan Event, func()) {
	if capacity == 0 {
		panic("event.Bus: channel capacity must be nonzero")
	}

	ch := make(chan Event, capacity)
	var mu sync.Mutex
	closed := false

	unsubscribe := b.Subscribe(func(e Event) {
		if filter != nil && !filter(e) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		for {
			select {
			case ch <- e:
				return
			default:
			}
			select {
			case <-ch:
				log.Warn("Subscriber missed event")
			default:
			}
		}
	})

	return ch, func() {
		unsubscribe()
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(ch)
		}
	}
}
