// Package mapstream fans out dataset publications to streaming clients.
package mapstream

import "context"

// Event announces a newly published dataset generation.
type Event struct {
	Generation uint64 `json:"generation"`
	Tracks     int    `json:"tracks"`
	Points     int    `json:"points"`
}

// Bus broadcasts events to subscribers. One goroutine owns the listener
// set; slow listeners miss events instead of stalling publishers.
type Bus struct {
	publish     chan Event
	subscribe   chan chan Event
	unsubscribe chan chan Event
}

// NewBus starts the broadcaster. It lives as long as the process.
func NewBus(buffer int) *Bus {
	b := &Bus{
		publish:     make(chan Event, buffer),
		subscribe:   make(chan chan Event),
		unsubscribe: make(chan chan Event),
	}
	go b.run()
	return b
}

// Publish never blocks; the event is dropped when the queue is full.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	select {
	case b.publish <- e:
	default:
	}
}

// Subscribe returns a channel of events that closes once ctx ends.
func (b *Bus) Subscribe(ctx context.Context, buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	b.subscribe <- ch
	go func() {
		<-ctx.Done()
		b.unsubscribe <- ch
		close(ch)
	}()
	return ch
}

func (b *Bus) run() {
	listeners := make(map[chan Event]struct{})
	for {
		select {
		case ch := <-b.subscribe:
			listeners[ch] = struct{}{}
		case ch := <-b.unsubscribe:
			delete(listeners, ch)
		case e := <-b.publish:
			for ch := range listeners {
				select {
				case ch <- e:
				default:
				}
			}
		}
	}
}
