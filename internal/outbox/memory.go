package outbox

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"
)

// MemoryQueue is a process-local Queue. It loses its contents on restart and is
// meant for tests and ephemeral nodes.
type MemoryQueue struct {
	mu      sync.Mutex
	seq     int
	entries []Entry
	now     func() time.Time
}

// NewMemoryQueue constructs an empty MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{now: time.Now}
}

// Enqueue implements Queue.
func (q *MemoryQueue) Enqueue(_ context.Context, e Entry) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, existing := range q.entries {
		if existing.DedupeKey() == e.DedupeKey() {
			return false, nil
		}
	}
	q.seq++
	if e.ID == "" {
		e.ID = strconv.Itoa(q.seq)
	}
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = q.now().UTC()
	}
	q.entries = append(q.entries, e)
	RecordEnqueued(e)
	return true, nil
}

// Peek implements Queue.
func (q *MemoryQueue) Peek(_ context.Context, dest Destination, limit int) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Entry, 0)
	for _, e := range q.entries {
		if e.Destination != dest {
			continue
		}
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, e)
	}
	return out, nil
}

// Ack implements Queue.
func (q *MemoryQueue) Ack(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = slices.DeleteFunc(q.entries, func(e Entry) bool { return e.ID == id })
	return nil
}

// Attempt implements Queue.
func (q *MemoryQueue) Attempt(_ context.Context, id string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.entries {
		if q.entries[i].ID != id {
			continue
		}
		q.entries[i].Attempts++
		if cause != nil {
			q.entries[i].LastError = cause.Error()
		}
	}
	return nil
}

// Purge implements Queue.
func (q *MemoryQueue) Purge(_ context.Context, dest Destination, payloadID string, types ...string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	before := len(q.entries)
	q.entries = slices.DeleteFunc(q.entries, func(e Entry) bool {
		if e.Destination != dest || e.PayloadID != payloadID {
			return false
		}
		return len(types) == 0 || slices.Contains(types, e.Type)
	})
	return before - len(q.entries), nil
}

// Len implements Queue.
func (q *MemoryQueue) Len(_ context.Context, dest Destination) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, e := range q.entries {
		if e.Destination == dest {
			n++
		}
	}
	return n, nil
}
