// Package outbox defines the durable outbound queue and the flusher that drains it.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Destination names the node an entry is bound for.
type Destination string

const (
	// DestinationPeer entries are delivered over the peer channel.
	DestinationPeer Destination = "peer"
	// DestinationRemote entries are delivered to the backend.
	DestinationRemote Destination = "remote"
)

// ErrFlushInProgress is returned when a flush for the same destination is already running.
var ErrFlushInProgress = errors.New("outbox: flush already in progress")

// Entry is one pending outbound message. (Destination, Type, PayloadID) is unique
// across the queue; a second enqueue of the same triple is a no-op.
type Entry struct {
	ID          string
	Destination Destination
	Type        string
	PayloadID   string
	Payload     json.RawMessage
	EnqueuedAt  time.Time
	Attempts    int
	LastError   string
}

// DedupeKey identifies an entry independently of its row id.
func (e Entry) DedupeKey() string {
	return string(e.Destination) + "/" + e.Type + "/" + e.PayloadID
}

// Queue is a durable FIFO of outbound entries. Implementations must make every
// method atomic with respect to the others.
type Queue interface {
	// Enqueue stores the entry and reports whether it was inserted.
	Enqueue(ctx context.Context, e Entry) (bool, error)
	// Peek returns up to limit entries for dest in enqueue order.
	Peek(ctx context.Context, dest Destination, limit int) ([]Entry, error)
	// Ack removes a delivered entry.
	Ack(ctx context.Context, id string) error
	// Attempt records a failed delivery.
	Attempt(ctx context.Context, id string, cause error) error
	// Purge removes entries for dest and payloadID, optionally limited to types.
	Purge(ctx context.Context, dest Destination, payloadID string, types ...string) (int, error)
	// Len counts entries bound for dest.
	Len(ctx context.Context, dest Destination) (int, error)
}
