package servicestest

import (
	"context"
	"errors"
	"sync"
)

// SentMessage is one message captured by RecordingMessenger
type SentMessage struct {
	Recipient string
	Text      string
}

// RecordingMessenger captures messages instead of sending them.
// Recipients listed in FailFor get an error and are not recorded.
type RecordingMessenger struct {
	mu      sync.Mutex
	sent    []SentMessage
	FailFor map[string]bool
}

func NewRecordingMessenger() *RecordingMessenger {
	return &RecordingMessenger{FailFor: map[string]bool{}}
}

func (m *RecordingMessenger) SendMessage(ctx context.Context, recipient, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailFor[recipient] {
		return errors.New("recipient unreachable")
	}
	m.sent = append(m.sent, SentMessage{Recipient: recipient, Text: text})
	return nil
}

// Sent returns a copy of everything sent so far
func (m *RecordingMessenger) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}

// SentTo returns the messages sent to one recipient
func (m *RecordingMessenger) SentTo(recipient string) []SentMessage {
	var out []SentMessage
	for _, s := range m.Sent() {
		if s.Recipient == recipient {
			out = append(out, s)
		}
	}
	return out
}
