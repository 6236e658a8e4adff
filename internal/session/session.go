// Package session mediates between the connection layer and the ordered
// message log: optimistic send with rollback, inbound frame decoding,
// and ownership of the local display identity.
package session

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/bubblechat/core/internal/connection"
	"github.com/bubblechat/core/internal/model"
)

// Transport is the connection surface the session depends on. It is
// implemented by *connection.Manager.
type Transport interface {
	Send(payload []byte) error
	State() connection.State
	LastError() string
	Reconnect() error
}

// Session owns the ordered message log for a single chat room. The log
// is append-only except for the rollback of a failed optimistic send,
// and grows without bound for the lifetime of the session.
//
// All mutations of the log and the error string are serialized behind
// one mutex; inbound frames arrive in order from the transport's single
// receive goroutine, so insertion order matches delivery order.
type Session struct {
	transport Transport

	mu       sync.Mutex
	username string
	messages []model.Message
	lastErr  string

	onChange func()
}

// NewSession creates a session on top of the given transport. An empty
// username falls back to the model's placeholder.
func NewSession(transport Transport, username string) *Session {
	if username == "" {
		username = model.DefaultUsername
	}
	return &Session{
		transport: transport,
		username:  username,
	}
}

// SetOnChange sets the callback fired after every log or error mutation.
// The presentation layer re-reads Messages and LastError from it.
func (s *Session) SetOnChange(callback func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = callback
}

// SetUsername updates the local display identity.
func (s *Session) SetUsername(name string) {
	if name == "" {
		name = model.DefaultUsername
	}
	s.mu.Lock()
	s.username = name
	s.mu.Unlock()
	s.notify()
}

// Username returns the local display identity.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// Messages returns an ordered snapshot of the log.
func (s *Session) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]model.Message, len(s.messages))
	copy(result, s.messages)
	return result
}

// LastError returns the most recent session-level failure, falling back
// to the transport's when the session has none.
func (s *Session) LastError() string {
	s.mu.Lock()
	lastErr := s.lastErr
	s.mu.Unlock()

	if lastErr != "" {
		return lastErr
	}
	return s.transport.LastError()
}

// Own reports whether the message was sent under the local username.
// Identity is plain string equality: two users who pick the same name
// are indistinguishable.
func (s *Session) Own(msg model.Message) bool {
	return msg.User == s.Username()
}

// Submit sends the text as a new message. Text that is empty after
// trimming is a silent no-op. When the transport is not connected the
// log stays untouched and ErrNotConnected is returned.
//
// The message is appended to the log before the send (optimistic). On a
// transport failure the entry is removed again, matched by id since
// inbound messages may have landed behind it in the meantime, and the
// error is returned so the caller can restore its input buffer.
func (s *Session) Submit(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if s.transport.State() != connection.StateConnected {
		return model.ErrNotConnected
	}

	s.mu.Lock()
	msg := model.NewMessage(s.username, trimmed)
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	s.notify()

	payload, err := msg.Encode()
	if err != nil {
		s.rollback(msg.ID, err)
		return fmt.Errorf("encode message: %w", err)
	}

	if err := s.transport.Send(payload); err != nil {
		s.rollback(msg.ID, err)
		return fmt.Errorf("send message: %w", err)
	}

	s.mu.Lock()
	s.lastErr = ""
	s.mu.Unlock()
	s.notify()
	return nil
}

// HandleFrame decodes an inbound text frame and appends it to the log.
// Malformed or foreign frames are logged and dropped; they never reach
// the log and never crash the receive path.
func (s *Session) HandleFrame(raw string) {
	msg, err := model.DecodeMessage([]byte(raw))
	if err != nil {
		log.Printf("dropping inbound frame: %v", err)
		return
	}

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	s.notify()
}

// Retry is the explicit reconnect intent from the presentation layer.
// It clears the session error and re-dials the configured endpoint.
func (s *Session) Retry() error {
	s.mu.Lock()
	s.lastErr = ""
	s.mu.Unlock()
	s.notify()

	return s.transport.Reconnect()
}

// rollback removes the optimistic entry with the given id and records
// the send failure.
func (s *Session) rollback(id string, cause error) {
	s.mu.Lock()
	for i, m := range s.messages {
		if m.ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			break
		}
	}
	s.lastErr = "failed to send message: " + cause.Error()
	s.mu.Unlock()
	s.notify()
}

func (s *Session) notify() {
	s.mu.Lock()
	callback := s.onChange
	s.mu.Unlock()

	if callback != nil {
		callback()
	}
}
