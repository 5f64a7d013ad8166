// Package topicbus implements a topic-keyed publish/subscribe registry.
// Delivery is best-effort and at-most-once: a subscriber whose buffer is full
// misses the message. The registry is explicitly owned by whoever constructs
// it; there is no process-wide instance.
package topicbus

import "sync"

// Message is an arbitrary payload passed on the bus.
type Message interface{}

// Bus fans messages out to subscribers grouped by topic string.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]chan Message
	closed bool

	// Dropped is invoked when a subscriber buffer is full and the message is
	// shed. May be nil.
	Dropped func(topic string)
}

// New creates a new Bus.
func New() *Bus { return &Bus{subs: make(map[string][]chan Message)} }

// Publish sends the message to every subscriber of topic without blocking.
// It returns the number of subscribers that received the message.
func (b *Bus) Publish(topic string, m Message) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	delivered := 0
	for _, ch := range b.subs[topic] {
		select {
		case ch <- m:
			delivered++
		default:
			if b.Dropped != nil {
				b.Dropped(topic)
			}
		}
	}
	return delivered
}

// Subscribe registers a subscriber for the given topics and returns its
// channel. The channel is closed on Unsubscribe or Close.
func (b *Bus) Subscribe(topics ...string) <-chan Message {
	ch := make(chan Message, 16)
	b.mu.Lock()
	if b.closed {
		close(ch)
	} else {
		for _, t := range topics {
			b.subs[t] = append(b.subs[t], ch)
		}
	}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the subscriber from every topic and closes its channel.
func (b *Bus) Unsubscribe(sub <-chan Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var found bool
	for t, chans := range b.subs {
		for i, ch := range chans {
			if ch == sub {
				b.subs[t] = append(chans[:i], chans[i+1:]...)
				if !found && !b.closed {
					close(ch)
				}
				found = true
				break
			}
		}
		if len(b.subs[t]) == 0 {
			delete(b.subs, t)
		}
	}
}

// Close closes all subscriber channels and clears the registry.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	seen := make(map[chan Message]bool)
	for _, chans := range b.subs {
		for _, ch := range chans {
			if !seen[ch] {
				close(ch)
				seen[ch] = true
			}
		}
	}
	b.subs = nil
}
