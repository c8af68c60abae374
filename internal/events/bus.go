package events

import (
	"sync"
)

// Envelope carries a payload together with the topic it was published on.
// Wildcard subscribers receive envelopes; topic subscribers receive the bare payload.
type Envelope struct {
	Event   Event `json:"event"`
	Payload any   `json:"data"`
}

// Bus is a lightweight pub/sub broker using channels.
// Publish never blocks: a subscriber whose buffer is full misses the message.
type Bus struct {
	mu   sync.RWMutex
	subs map[Event][]chan any
	all  []chan any
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]chan any)}
}

// Subscribe registers a listener for an event and returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	b.subs[e] = append(b.subs[e], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.subs[e] = remove(b.subs[e], ch)
			close(ch)
		})
	}
	return ch, unsub
}

// SubscribeAll registers a wildcard listener that receives an Envelope for every event.
func (b *Bus) SubscribeAll(buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	b.all = append(b.all, ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.all = remove(b.all, ch)
			close(ch)
		})
	}
	return ch, unsub
}

// Publish fans the payload out to subscribers without blocking the caller.
func (b *Bus) Publish(e Event, payload any) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- payload:
		default:
			// drop if subscriber is slow; keep broker non-blocking
		}
	}
	if len(b.all) == 0 {
		return
	}
	env := Envelope{Event: e, Payload: payload}
	for _, ch := range b.all {
		select {
		case ch <- env:
		default:
		}
	}
}

func remove(subs []chan any, ch chan any) []chan any {
	for i, c := range subs {
		if c == ch {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}
