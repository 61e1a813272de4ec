// Package command carries payload-free signals, such as "recenter", from
// controls outside the map to the map session that owns the viewport.
package command

import "sync"

// TopicRecenter asks the map to drop its selection and show the
// containment region.
const TopicRecenter = "recenter"

// Known reports whether topic is a command the map session understands.
func Known(topic string) bool {
	return topic == TopicRecenter
}

type Handler func()

// Channel is a publish/subscribe signal path. Publishers and subscribers
// only share the Channel value, never a reference to each other.
type Channel interface {
	Publish(topic string)
	// Subscribe registers h for topic. The returned func removes it and is
	// safe to call more than once.
	Subscribe(topic string, h Handler) (unsubscribe func())
}

// Bus is the in-process Channel. Handlers run synchronously on the
// publishing goroutine, once per subscription per publish.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]Handler
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[uint64]Handler)}
}

func (b *Bus) Publish(topic string) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h()
	}
}

func (b *Bus) Subscribe(topic string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]Handler)
	}
	b.subs[topic][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[topic], id)
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
		})
	}
}

// Subscribers returns the number of handlers registered for topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
