// Package message defines the notifications exchanged between cache instances
// and their connected clients when a JSON resource changes.
package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies the kind of notification.
type Type string

const (
	// TypeJSONUpdated announces that a resource was refreshed with new content.
	TypeJSONUpdated Type = "JSON_UPDATED"

	// TypeInvalidateJSONCache asks receivers to drop their copy of a resource.
	TypeInvalidateJSONCache Type = "INVALIDATE_JSON_CACHE"
)

// Message is the payload carried over the broadcast channel and pushed to
// worker clients.
type Message struct {
	Type Type `json:"type"`

	// Path is the logical resource path the message refers to.
	Path string `json:"path"`

	// Timestamp is the emission time in epoch milliseconds.
	Timestamp int64 `json:"timestamp"`

	// Origin identifies the emitting instance. Empty for anonymous senders.
	Origin string `json:"origin,omitempty"`
}

// New creates a message stamped with the given time.
func New(t Type, path string, now time.Time) Message {
	return Message{
		Type:      t,
		Path:      path,
		Timestamp: now.UnixMilli(),
	}
}

// Encode serializes the message to JSON.
func (m Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// Decode parses a JSON message and validates its type.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	switch m.Type {
	case TypeJSONUpdated, TypeInvalidateJSONCache:
	default:
		return Message{}, fmt.Errorf("decode message: unknown type %q", m.Type)
	}
	return m, nil
}
