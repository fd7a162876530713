// Package events provides in-process change notification.
//
// A Bus delivers values to subscribers synchronously on the publishing
// goroutine. Subscribers must not block; anything slow should hand the
// value off to its own goroutine or channel.
package events

import (
	"slices"
	"sync"
)

// Bus fans a value out to every current subscriber.
type Bus[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]func(T)
}

func NewBus[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[uint64]func(T))}
}

// Subscribe registers fn and returns a function that removes it. Calling the
// returned function more than once is a no-op.
func (b *Bus[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish calls every subscriber with v in subscription order. Subscribers
// added or removed during delivery take effect on the next Publish.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	ids := make([]uint64, 0, len(b.subs))
	fns := make(map[uint64]func(T), len(b.subs))
	for id, fn := range b.subs {
		ids = append(ids, id)
		fns[id] = fn
	}
	b.mu.RUnlock()

	slices.Sort(ids)
	for _, id := range ids {
		fns[id](v)
	}
}

// Len returns the number of subscribers.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
