package store

import (
	"context"
	"sync"
)

const subscriberBuffer = 64

// hub fans changes out to in-process subscribers. A subscriber that falls
// behind by more than subscriberBuffer changes misses the overflow.
type hub struct {
	mu   sync.Mutex
	next int
	subs map[int]*subscriber
}

type subscriber struct {
	prefix string
	ch     chan Change
}

func newHub() *hub {
	return &hub{subs: map[int]*subscriber{}}
}

func (h *hub) subscribe(ctx context.Context, prefix string) <-chan Change {
	sub := &subscriber{prefix: prefix, ch: make(chan Change, subscriberBuffer)}
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = sub
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub.ch)
		}
		h.mu.Unlock()
	}()
	return sub.ch
}

func (h *hub) publish(changes ...Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range changes {
		for _, sub := range h.subs {
			if !matchPrefix(c.Key, sub.prefix) {
				continue
			}
			select {
			case sub.ch <- c:
			default:
			}
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}
