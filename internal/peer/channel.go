package peer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"example.com/circuit/internal/outbox"
)

// Handler processes one inbound message.
type Handler func(ctx context.Context, msg Message) error

// Option configures optional behaviour for the Channel.
type Option func(*Channel)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSendTimeout bounds every transport send.
func WithSendTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.sendTimeout = d
		}
	}
}

// WithPullRequests sets the requests sent on activation and on every reconnect.
func WithPullRequests(types ...MessageType) Option {
	return func(c *Channel) {
		c.pulls = append([]MessageType(nil), types...)
	}
}

// WithReachable sets the initial reachability.
func WithReachable(reachable bool) Option {
	return func(c *Channel) {
		c.reachable = reachable
	}
}

// Channel is the fire-and-forget link to the other device. Sends that cannot be
// delivered are kept in the durable queue when their type is queueable; the queue is
// drained in the background whenever the peer becomes reachable.
type Channel struct {
	transport   Transport
	queue       outbox.Queue
	flusher     *outbox.Flusher
	sendTimeout time.Duration
	pulls       []MessageType
	logger      *log.Logger

	mu        sync.RWMutex
	reachable bool
	handlers  map[MessageType]Handler

	flushes sync.WaitGroup
}

// NewChannel constructs a Channel over transport, falling back to queue.
func NewChannel(transport Transport, queue outbox.Queue, opts ...Option) *Channel {
	c := &Channel{
		transport:   transport,
		queue:       queue,
		sendTimeout: 10 * time.Second,
		logger:      log.New(log.Writer(), "[peer] ", log.LstdFlags|log.Lshortfile),
		handlers:    make(map[MessageType]Handler),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.flusher = outbox.NewFlusher(queue, outbox.DestinationPeer, c.deliverQueued, outbox.WithLogger(c.logger))
	recordReachable(c.reachable)
	return c
}

// Handle registers h for inbound messages of type typ, replacing any previous handler.
func (c *Channel) Handle(typ MessageType, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[typ] = h
}

// Reachable reports the last known reachability.
func (c *Channel) Reachable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reachable
}

// Send delivers msg when the peer is reachable. Otherwise, or when delivery fails,
// queueable messages are persisted for a later flush and the rest are dropped. Only
// a failure to persist is reported to the caller.
func (c *Channel) Send(ctx context.Context, msg Message) error {
	if c.Reachable() {
		err := c.sendNow(ctx, msg)
		if err == nil {
			recordSent(msg.Type)
			return nil
		}
		c.logger.Printf("send %s %s failed: %v", msg.Type, msg.ID, err)
	}

	if !msg.Type.Queueable() {
		recordDropped(msg.Type)
		return nil
	}
	return c.enqueue(ctx, msg)
}

func (c *Channel) enqueue(ctx context.Context, msg Message) error {
	if msg.ID == "" {
		return fmt.Errorf("queue %s: message has no payload id", msg.Type)
	}
	inserted, err := c.queue.Enqueue(ctx, outbox.Entry{
		Destination: outbox.DestinationPeer,
		Type:        string(msg.Type),
		PayloadID:   msg.ID,
		Payload:     msg.Payload,
	})
	if err != nil {
		return fmt.Errorf("queue %s %s: %w", msg.Type, msg.ID, err)
	}
	if inserted {
		recordQueued(msg.Type)
	}
	return nil
}

func (c *Channel) sendNow(ctx context.Context, msg Message) error {
	sendCtx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	return c.transport.Send(sendCtx, msg)
}

func (c *Channel) deliverQueued(ctx context.Context, e outbox.Entry) error {
	return c.sendNow(ctx, Message{Type: MessageType(e.Type), ID: e.PayloadID, Payload: e.Payload})
}

// Activate is called once the channel is wired up. When the peer is reachable it
// sends the configured pull requests and drains the queue in the background.
func (c *Channel) Activate(ctx context.Context) {
	if !c.Reachable() {
		return
	}
	c.onReachable(ctx)
}

// SetReachable records a connectivity change. An unreachable to reachable transition
// triggers the same pull and flush as Activate.
func (c *Channel) SetReachable(ctx context.Context, reachable bool) {
	c.mu.Lock()
	was := c.reachable
	c.reachable = reachable
	c.mu.Unlock()

	recordReachable(reachable)
	if reachable && !was {
		c.onReachable(ctx)
	}
}

func (c *Channel) onReachable(ctx context.Context) {
	for _, typ := range c.pulls {
		if err := c.sendNow(ctx, Request(typ)); err != nil {
			c.logger.Printf("pull %s failed: %v", typ, err)
			continue
		}
		recordSent(typ)
	}
	c.FlushAsync(ctx)
}

// FlushAsync drains the queue on a background goroutine. Overlapping calls collapse
// into the flush already running.
func (c *Channel) FlushAsync(ctx context.Context) {
	bg := context.WithoutCancel(ctx)
	c.flushes.Add(1)
	go func() {
		defer c.flushes.Done()
		n, err := c.flusher.Flush(bg)
		switch {
		case errors.Is(err, outbox.ErrFlushInProgress):
		case err != nil:
			c.logger.Printf("flush stopped after %d entries: %v", n, err)
		case n > 0:
			c.logger.Printf("flushed %d queued messages", n)
		}
	}()
}

// Wait blocks until every background flush has returned.
func (c *Channel) Wait() {
	c.flushes.Wait()
}

// Run dispatches inbound messages to registered handlers until ctx is cancelled or
// the transport closes.
func (c *Channel) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		delivery, err := c.transport.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, ErrClosed) {
				return err
			}
			c.logger.Printf("receive error: %v", err)
			continue
		}

		msg := delivery.Message
		if err := c.dispatch(ctx, msg); err != nil {
			c.logger.Printf("handler error (type=%s, id=%s): %v", msg.Type, msg.ID, err)
			recordHandlerError(msg.Type)
			continue
		}

		if err := delivery.Ack(ctx); err != nil {
			c.logger.Printf("ack error: %v", err)
			continue
		}
		recordReceived(msg.Type)
	}
}

func (c *Channel) dispatch(ctx context.Context, msg Message) error {
	switch msg.Type {
	case TypeWorkoutDeleted, TypeTemplateDeleted:
		// Anything still queued about a deleted entity is obsolete.
		if msg.ID != "" {
			if _, err := c.queue.Purge(ctx, outbox.DestinationPeer, msg.ID); err != nil {
				return fmt.Errorf("purge queue for %s: %w", msg.ID, err)
			}
		}
	}

	c.mu.RLock()
	h, ok := c.handlers[msg.Type]
	c.mu.RUnlock()
	if !ok {
		c.logger.Printf("no handler for %s, ignoring", msg.Type)
		return nil
	}
	return h(ctx, msg)
}

// Monitor polls prober every interval and feeds the result into SetReachable.
func (c *Channel) Monitor(ctx context.Context, prober Prober, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		probeCtx, cancel := context.WithTimeout(ctx, c.sendTimeout)
		err := prober.Probe(probeCtx)
		cancel()
		c.SetReachable(ctx, err == nil)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
