package outbox

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// Deliver sends one entry to its destination.
type Deliver func(ctx context.Context, e Entry) error

// Flusher drains the queue for one destination in FIFO order. Each entry is removed
// only after a successful delivery; the first failure stops the flush so the caller
// can retry on the next connectivity change.
type Flusher struct {
	queue     Queue
	dest      Destination
	deliver   Deliver
	batchSize int
	logger    *log.Logger

	mu      sync.Mutex
	running bool
}

// FlusherOption customises a Flusher.
type FlusherOption func(*Flusher)

// WithBatchSize bounds how many entries are read from the queue per round trip.
func WithBatchSize(n int) FlusherOption {
	return func(f *Flusher) {
		if n > 0 {
			f.batchSize = n
		}
	}
}

// WithLogger sets the logger used for delivery failures.
func WithLogger(logger *log.Logger) FlusherOption {
	return func(f *Flusher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFlusher constructs a Flusher.
func NewFlusher(queue Queue, dest Destination, deliver Deliver, opts ...FlusherOption) *Flusher {
	f := &Flusher{
		queue:     queue,
		dest:      dest,
		deliver:   deliver,
		batchSize: 50,
		logger:    log.New(log.Writer(), "[outbox] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Flush delivers pending entries until the queue is empty or a delivery fails. It
// returns the number of delivered entries. Concurrent calls return ErrFlushInProgress.
func (f *Flusher) Flush(ctx context.Context) (int, error) {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return 0, ErrFlushInProgress
	}
	f.running = true
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
	}()

	start := time.Now()
	defer func() { flushDuration.WithLabelValues(string(f.dest)).Observe(time.Since(start).Seconds()) }()

	delivered := 0
	for {
		batch, err := f.queue.Peek(ctx, f.dest, f.batchSize)
		if err != nil {
			return delivered, fmt.Errorf("peek %s queue: %w", f.dest, err)
		}
		if len(batch) == 0 {
			f.updateBacklog(ctx)
			return delivered, nil
		}

		for _, entry := range batch {
			if err := ctx.Err(); err != nil {
				return delivered, err
			}
			if err := f.deliver(ctx, entry); err != nil {
				failedCounter.WithLabelValues(string(f.dest), entry.Type).Inc()
				f.logger.Printf("deliver %s %s/%s failed (attempt %d): %v", f.dest, entry.Type, entry.PayloadID, entry.Attempts+1, err)
				if attemptErr := f.queue.Attempt(ctx, entry.ID, err); attemptErr != nil {
					err = errors.Join(err, attemptErr)
				}
				f.updateBacklog(ctx)
				return delivered, err
			}
			if err := f.queue.Ack(ctx, entry.ID); err != nil {
				return delivered, fmt.Errorf("ack %s: %w", entry.ID, err)
			}
			deliveredCounter.WithLabelValues(string(f.dest), entry.Type).Inc()
			delivered++
		}
	}
}

func (f *Flusher) updateBacklog(ctx context.Context) {
	n, err := f.queue.Len(ctx, f.dest)
	if err != nil {
		return
	}
	backlogGauge.WithLabelValues(string(f.dest)).Set(float64(n))
}
