// internal/broadcast/hub.go
package broadcast

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	ErrHubClosed          = errors.New("broadcast: hub closed")
	ErrSubscriberNotFound = errors.New("broadcast: subscriber not found")
)

// Hub fans every published value out to every subscriber.
// Delivery is lossless and in publish order per subscriber: each subscriber owns
// an unbounded FIFO drained by its own goroutine, so Publish never blocks on a
// slow reader.
type Hub[T any] struct {
	mu        sync.RWMutex
	subs      map[string]*subscriber[T]
	closed    bool
	published uint64
}

// New creates an empty hub.
func New[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[string]*subscriber[T])}
}

// Subscribe registers a new subscriber and returns its handle and stream.
// The stream is closed on Unsubscribe or Close.
// Subscribing to a closed hub yields an already-closed stream.
func (h *Hub[T]) Subscribe() (string, <-chan T) {
	id := uuid.New().String()
	s := newSubscriber[T]()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(s.out)
		return id, s.out
	}
	h.subs[id] = s
	h.mu.Unlock()

	go s.run()
	return id, s.out
}

// Unsubscribe removes a subscriber. Values still queued for it are discarded.
func (h *Hub[T]) Unsubscribe(id string) error {
	h.mu.Lock()
	s, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()

	if !ok {
		return ErrSubscriberNotFound
	}
	s.stop()
	return nil
}

// Publish queues v for every current subscriber.
func (h *Hub[T]) Publish(v T) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}

	atomic.AddUint64(&h.published, 1)
	for _, s := range h.subs {
		s.push(v)
	}
}

// Len returns the number of current subscribers.
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Published returns the total number of Publish calls accepted.
func (h *Hub[T]) Published() uint64 {
	return atomic.LoadUint64(&h.published)
}

// Close drops every subscriber. Further publishes are ignored.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = nil
	h.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
}

// ---- SUBSCRIBER ----

type subscriber[T any] struct {
	mu    sync.Mutex
	queue []T

	wake chan struct{} // cap 1, coalesced
	done chan struct{}
	once sync.Once
	out  chan T
}

func newSubscriber[T any]() *subscriber[T] {
	return &subscriber[T]{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan T),
	}
}

func (s *subscriber[T]) push(v T) {
	s.mu.Lock()
	s.queue = append(s.queue, v)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber[T]) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber[T]) run() {
	defer close(s.out)

	var zero T
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		v := s.queue[0]
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- v:
		case <-s.done:
			return
		}
	}
}
