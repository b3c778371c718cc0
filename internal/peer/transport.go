package peer

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrUnreachable is returned by transports when the other device cannot be reached.
	ErrUnreachable = errors.New("peer: unreachable")
	// ErrClosed is returned once a transport has been shut down.
	ErrClosed = errors.New("peer: transport closed")
)

// Transport moves messages between the two devices. Delivery once connected is assumed.
type Transport interface {
	Send(ctx context.Context, msg Message) error
	Receive(ctx context.Context) (Delivery, error)
}

// Prober is implemented by transports that can test reachability without sending.
type Prober interface {
	Probe(ctx context.Context) error
}

// Delivery is an inbound message together with its acknowledgement hook.
type Delivery struct {
	Message Message
	ack     func(context.Context) error
}

// Ack confirms the message was handled.
func (d Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// Pipe links two in-process endpoints. It stands in for the wearable link in tests
// and single-process runs; SetConnected simulates the radio dropping.
type Pipe struct {
	mu        sync.RWMutex
	connected bool
	closed    chan struct{}
	closeOnce sync.Once
}

// PipeEnd is one side of a Pipe.
type PipeEnd struct {
	pipe  *Pipe
	inbox chan Message
	other *PipeEnd
}

// NewPipe returns a connected pipe and its two ends.
func NewPipe(buffer int) (*Pipe, *PipeEnd, *PipeEnd) {
	if buffer <= 0 {
		buffer = 64
	}
	p := &Pipe{connected: true, closed: make(chan struct{})}
	a := &PipeEnd{pipe: p, inbox: make(chan Message, buffer)}
	b := &PipeEnd{pipe: p, inbox: make(chan Message, buffer)}
	a.other, b.other = b, a
	return p, a, b
}

// SetConnected toggles whether sends succeed.
func (p *Pipe) SetConnected(connected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = connected
}

// Connected reports the simulated link state.
func (p *Pipe) Connected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

// Close shuts both ends down.
func (p *Pipe) Close() {
	p.closeOnce.Do(func() { close(p.closed) })
}

// Send implements Transport.
func (e *PipeEnd) Send(ctx context.Context, msg Message) error {
	if !e.pipe.Connected() {
		return ErrUnreachable
	}
	select {
	case e.other.inbox <- msg:
		return nil
	case <-e.pipe.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive implements Transport.
func (e *PipeEnd) Receive(ctx context.Context) (Delivery, error) {
	select {
	case msg := <-e.inbox:
		return Delivery{Message: msg}, nil
	case <-e.pipe.closed:
		return Delivery{}, ErrClosed
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	}
}

// Probe implements Prober.
func (e *PipeEnd) Probe(context.Context) error {
	if !e.pipe.Connected() {
		return ErrUnreachable
	}
	return nil
}
