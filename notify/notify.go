// Package notify contains out-of-band delivery implementations for
// challenge codes. The challenge engine only requests delivery; actual
// transport (a mail relay, an SMS gateway, a webhook into either) lives
// here.
package notify

import (
	"context"
	"sync"
)

// Message is one captured delivery request.
type Message struct {
	Destination string
	Subject     string
	Body        string
}

// Memory captures messages instead of delivering them. Test double and
// local-development default.
type Memory struct {
	mu       sync.Mutex
	messages []Message
}

// NewMemory creates an empty capture notifier.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Send(_ context.Context, destination, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, Message{Destination: destination, Subject: subject, Body: body})
	return nil
}

// Messages returns a copy of everything sent so far.
func (m *Memory) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}
