package api

import "sync"

// TeleportQueue holds sources queued by queue_on_teleport until the host
// drains them.
type TeleportQueue struct {
	mu      sync.Mutex
	sources []string
}

// NewTeleportQueue creates an empty queue.
func NewTeleportQueue() *TeleportQueue {
	return &TeleportQueue{}
}

// Push appends src.
func (q *TeleportQueue) Push(src string) {
	q.mu.Lock()
	q.sources = append(q.sources, src)
	q.mu.Unlock()
}

// Snapshot returns the queued sources in order.
func (q *TeleportQueue) Snapshot() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.sources...)
}

// Drain returns the queued sources and empties the queue.
func (q *TeleportQueue) Drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.sources
	q.sources = nil
	return out
}

// Len returns the number of queued sources.
func (q *TeleportQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.sources)
}
