// Package relay moves decoded tracker events from connection handlers to the
// message broker. Handlers enqueue without blocking; a single relay goroutine
// owns the broker connection, reconnecting with exponential backoff when it is
// lost. Delivery is at most once: events that fail to publish are dropped.
package relay

import "sync"

// Message is one decoded tracker event bound for the broker.
type Message struct {
	// RoutingKey is the dot-separated event address, e.g. "h02.location.86397...".
	RoutingKey string
	// CorrelationID ties broker-side processing back to the ingest log line.
	CorrelationID string
	// Body is the JSON-encoded event payload.
	Body []byte
}

// Queue is an unbounded multi-producer, single-consumer queue of relay
// messages. Enqueue never blocks on a slow broker; backlog grows in memory
// instead, which is the intended trade-off for short broker outages.
type Queue struct {
	mu      sync.Mutex
	pending []Message
	closed  bool
	notify  chan struct{}
	out     chan Message
}

// NewQueue creates a queue and starts its internal pump.
func NewQueue() *Queue {
	q := &Queue{
		notify: make(chan struct{}, 1),
		out:    make(chan Message),
	}
	go q.pump()
	return q
}

// Enqueue appends a message. It returns false after Close.
func (q *Queue) Enqueue(m Message) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, m)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Dequeue returns the receive side. The channel is closed once the queue is
// closed and fully drained.
func (q *Queue) Dequeue() <-chan Message {
	return q.out
}

// Close stops the queue. Messages already enqueued are still delivered to a
// consumer that keeps reading until the Dequeue channel closes.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) pump() {
	for {
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		closed := q.closed
		q.mu.Unlock()

		for _, m := range batch {
			q.out <- m
		}
		if closed {
			close(q.out)
			return
		}
		<-q.notify
	}
}
