package core

import "sync"

// listenerBuffer is the channel capacity handed to each subscriber.
const listenerBuffer = 16

// broadcaster fans progress events out to subscribers.
//
// Sends never block the producer: a slow listener misses intermediate
// events. The event passed to finish is always delivered, by
// evicting the oldest buffered event if needed.
type broadcaster[T any] struct {
	mu        sync.Mutex
	last      T
	listeners []chan T
	closed    bool
}

func newBroadcaster[T any](initial T) *broadcaster[T] {
	return &broadcaster[T]{last: initial}
}

// subscribe returns a channel primed with the latest event. On a closed
// broadcaster the channel holds that event and is already closed.
func (b *broadcaster[T]) subscribe() <-chan T {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan T, listenerBuffer)
	ch <- b.last
	if b.closed {
		close(ch)
		return ch
	}
	b.listeners = append(b.listeners, ch)
	return ch
}

func (b *broadcaster[T]) publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.last = v
	for _, ch := range b.listeners {
		select {
		case ch <- v:
		default:
			// Listener is slow, skip this update
		}
	}
}

// finish publishes the terminal event v, delivering it to every listener,
// and closes all channels. Later calls are ignored.
func (b *broadcaster[T]) finish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.last = v
	for _, ch := range b.listeners {
		select {
		case ch <- b.last:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- b.last:
			default:
			}
		}
		close(ch)
	}
	b.listeners = nil
}

// latest returns the most recent event.
func (b *broadcaster[T]) latest() T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}
