// Package feed fans change notifications out to snapshot subscribers.
//
// Each subscription owns one goroutine. Publishing only signals it; the
// goroutine then calls its deliver func, which reads the latest state.
// Bursts of changes therefore coalesce into one delivery, and deliveries
// to a single subscriber never overlap.
package feed

import "sync"

// Topic names a per-user collection.
type Topic struct {
	UserID     string
	Collection string
}

// Hub tracks live subscriptions by topic.
type Hub struct {
	mu   sync.Mutex
	subs map[Topic]map[*sub]struct{}
}

type sub struct {
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[Topic]map[*sub]struct{})}
}

// Subscribe starts delivering to topic. deliver runs once right away and
// again after every Publish on the topic, until cancel is called.
func (h *Hub) Subscribe(topic Topic, deliver func()) (cancel func()) {
	s := &sub{notify: make(chan struct{}, 1), done: make(chan struct{})}
	h.mu.Lock()
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[*sub]struct{})
	}
	h.subs[topic][s] = struct{}{}
	h.mu.Unlock()

	s.notify <- struct{}{}
	go func() {
		for {
			select {
			case <-s.done:
				return
			case <-s.notify:
				select {
				case <-s.done:
					return
				default:
				}
				deliver()
			}
		}
	}()

	return func() {
		s.once.Do(func() {
			h.mu.Lock()
			delete(h.subs[topic], s)
			if len(h.subs[topic]) == 0 {
				delete(h.subs, topic)
			}
			h.mu.Unlock()
			close(s.done)
		})
	}
}

// Publish signals every subscriber of topic.
func (h *Hub) Publish(topic Topic) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[topic] {
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
}

// Topics lists topics with at least one subscriber.
func (h *Hub) Topics() []Topic {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Topic, 0, len(h.subs))
	for t := range h.subs {
		out = append(out, t)
	}
	return out
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, m := range h.subs {
		n += len(m)
	}
	return n
}
