// Package events holds the typed in-process dispatchers that replace global
// listener registration. There is one Dispatcher per event class.
package events

import (
	"context"
	"sync"
)

const subscriberBuffer = 16

// Dispatcher fans a typed event out to every current subscriber. Publish
// blocks until each subscriber has room or the context ends.
type Dispatcher[T any] struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscriber[T]
}

type subscriber[T any] struct {
	ch   chan T
	done chan struct{}
}

func NewDispatcher[T any]() *Dispatcher[T] {
	return &Dispatcher[T]{subs: make(map[int]*subscriber[T])}
}

// Subscribe returns a channel of future events and a cancel func that
// detaches and closes it.
func (d *Dispatcher[T]) Subscribe() (<-chan T, func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextID
	d.nextID++
	sub := &subscriber[T]{ch: make(chan T, subscriberBuffer), done: make(chan struct{})}
	d.subs[id] = sub

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			// release a Publish blocked on this subscriber before taking the write lock
			close(sub.done)
			d.mu.Lock()
			delete(d.subs, id)
			d.mu.Unlock()
			close(sub.ch)
		})
	}
}

func (d *Dispatcher[T]) Publish(ctx context.Context, event T) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, sub := range d.subs {
		select {
		case sub.ch <- event:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (d *Dispatcher[T]) Subscribers() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}
