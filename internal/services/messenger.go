package services

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Messenger delivers one chat message. Callers log failures and never retry.
type Messenger interface {
	SendMessage(ctx context.Context, recipient, text string) error
}

// LogMessenger only logs outbound messages; used when WAHA is not configured
type LogMessenger struct {
	logger logrus.FieldLogger
}

func NewLogMessenger(logger logrus.FieldLogger) *LogMessenger {
	return &LogMessenger{logger: logger}
}

func (m *LogMessenger) SendMessage(ctx context.Context, recipient, text string) error {
	m.logger.WithFields(logrus.Fields{
		FieldEvent:   "message.send",
		FieldActor:   recipient,
		FieldOutcome: "mocked",
		"length":     len(text),
	}).Info("messaging disabled, message not delivered")
	return nil
}

// AsyncMessenger hands each message to a goroutine and returns at once.
// Delivery errors are logged. Wait blocks until in-flight sends finish.
type AsyncMessenger struct {
	next   Messenger
	logger logrus.FieldLogger
	wg     sync.WaitGroup
}

func NewAsyncMessenger(next Messenger, logger logrus.FieldLogger) *AsyncMessenger {
	return &AsyncMessenger{next: next, logger: logger}
}

func (m *AsyncMessenger) SendMessage(ctx context.Context, recipient, text string) error {
	// the request context ends when the webhook returns; the send must outlive it
	sendCtx := context.WithoutCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.next.SendMessage(sendCtx, recipient, text); err != nil {
			m.logger.WithFields(logrus.Fields{
				FieldEvent:   "message.send",
				FieldActor:   recipient,
				FieldOutcome: string(CodeOf(err)),
			}).WithError(err).Error("failed to deliver message")
		}
	}()
	return nil
}

// Wait blocks until every message handed to SendMessage has been attempted
func (m *AsyncMessenger) Wait() {
	m.wg.Wait()
}
