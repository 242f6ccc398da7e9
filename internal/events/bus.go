// Package events is the in-process pub/sub channel between the engine and
// whatever owns the UI layer.
package events

import "sync"

// FavoritesChanged signals that the favorite set or its cached data changed;
// consumers re-read the store.
type FavoritesChanged struct{}

// NotificationStateChanged signals that alerting for a city was turned on or off.
type NotificationStateChanged struct {
	CityKey string
	Enabled bool
}

// Event is one of the types above.
type Event any

// Bus fans events out to subscribers. Publish never blocks: a subscriber that
// has fallen behind its buffer misses the event, which is acceptable because
// every event is a re-read hint, not a data carrier.
type Bus struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a buffered subscription. The returned cancel func must
// be called to release it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber with buffer room.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
