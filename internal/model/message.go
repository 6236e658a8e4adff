package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultUsername is used when the sender has not picked a display name.
const DefaultUsername = "anonymous"

// Message is a single chat message. Instances are immutable once created;
// a failed send is handled by removing the entry, never by mutating it.
//
// The JSON field set below is the wire format shared with peer clients:
// the timestamp travels as RFC 3339 (ISO-8601), the id as the textual
// form of a UUID.
type Message struct {
	ID        string    `json:"id"`
	User      string    `json:"user"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage builds a message with a fresh id and the current time.
// An empty user falls back to DefaultUsername.
func NewMessage(user, text string) Message {
	if user == "" {
		user = DefaultUsername
	}
	return Message{
		ID:        uuid.New().String(),
		User:      user,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
}

// Encode serializes the message to the wire format.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses a wire-format frame. Frames that are not JSON,
// carry mismatched field types, or lack an id are rejected with
// ErrDecodeFailed; the caller is expected to drop them.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, ErrDecodeFailed
	}
	if strings.TrimSpace(m.ID) == "" {
		return Message{}, ErrDecodeFailed
	}
	return m, nil
}
