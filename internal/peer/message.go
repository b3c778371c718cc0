// Package peer implements the host/companion sync channel: message catalog, send with
// durable fallback, background flush on reconnect, and the inbound dispatch loop.
package peer

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType tags every message crossing the peer channel.
type MessageType string

const (
	TypeRequestTemplates     MessageType = "requestTemplates"
	TypeRequestGoals         MessageType = "requestGoals"
	TypeRequestPersonalBests MessageType = "requestPersonalBests"
	TypePushTemplates        MessageType = "pushTemplates"
	TypePushGoals            MessageType = "pushGoals"
	TypePushPersonalBests    MessageType = "pushPersonalBests"
	TypeWorkoutCompleted     MessageType = "workoutCompleted"
	TypeWorkoutDeleted       MessageType = "workoutDeleted"
	TypeTemplateDeleted      MessageType = "templateDeleted"
	TypeSessionState         MessageType = "sessionState"
)

// Queueable reports whether undeliverable messages of this type are kept in the
// durable queue. Everything else is regenerated on demand and dropped when offline.
func (t MessageType) Queueable() bool {
	switch t {
	case TypeWorkoutCompleted, TypeWorkoutDeleted, TypeTemplateDeleted:
		return true
	default:
		return false
	}
}

// Message is the envelope exchanged between devices. ID identifies the entity the
// payload is about and is the de-duplication key for queued messages.
type Message struct {
	Type    MessageType     `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	SentAt  time.Time       `json:"sent_at"`
}

// NewMessage encodes payload into a message of the given type.
func NewMessage(typ MessageType, id string, payload any) (Message, error) {
	msg := Message{Type: typ, ID: id, SentAt: time.Now().UTC()}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	msg.Payload = raw
	return msg, nil
}

// Request builds a payload-free pull request.
func Request(typ MessageType) Message {
	return Message{Type: typ, SentAt: time.Now().UTC()}
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}
