package protocol

import "sync"

// InjectionQueue is an unbounded FIFO of raw, already-framed packets waiting
// to be written into the client->server stream. The decoder's side effects
// (and the interactive CLI) push; only the listener-role relay connection
// pops. Push never blocks and never drops.
type InjectionQueue struct {
	mu      sync.Mutex
	packets [][]byte
}

// NewInjectionQueue creates an empty injection queue.
func NewInjectionQueue() *InjectionQueue {
	return &InjectionQueue{}
}

// Push appends a packet to the queue.
func (q *InjectionQueue) Push(pkt []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.packets = append(q.packets, pkt)
}

// TryPop removes and returns the oldest queued packet without blocking.
// The second return value is false when the queue is empty.
func (q *InjectionQueue) TryPop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.packets) == 0 {
		return nil, false
	}
	pkt := q.packets[0]
	q.packets = q.packets[1:]
	return pkt, true
}

// Len returns the number of packets currently queued.
func (q *InjectionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.packets)
}
