package services

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// OutboundQueue carries chat messages from the API process to the worker
	OutboundQueue = "outbound"
	// TaskSendMessage is the asynq task type for one outbound chat message
	TaskSendMessage = "whatsapp:send_message"
)

// OutboundMessage is the payload of a TaskSendMessage task
type OutboundMessage struct {
	Recipient string `json:"recipient"`
	Text      string `json:"text"`
}

// QueueMessenger enqueues messages for the worker to deliver. Tasks are not
// retried: a failed delivery is logged by the worker and dropped.
type QueueMessenger struct {
	client *asynq.Client
}

func NewQueueMessenger(client *asynq.Client) *QueueMessenger {
	return &QueueMessenger{client: client}
}

func (q *QueueMessenger) SendMessage(ctx context.Context, recipient, text string) error {
	payload, err := json.Marshal(OutboundMessage{Recipient: recipient, Text: text})
	if err != nil {
		return newDealError(ErrMessagingFailed, err)
	}

	task := asynq.NewTask(TaskSendMessage, payload, asynq.Queue(OutboundQueue), asynq.MaxRetry(0))
	if _, err := q.client.EnqueueContext(ctx, task); err != nil {
		return newDealError(ErrMessagingFailed, errors.Wrap(err, "enqueue outbound message"))
	}
	return nil
}

// OutboundHandler delivers queued messages through a Messenger
type OutboundHandler struct {
	messenger Messenger
	logger    logrus.FieldLogger
}

func NewOutboundHandler(messenger Messenger, logger logrus.FieldLogger) *OutboundHandler {
	return &OutboundHandler{messenger: messenger, logger: logger}
}

// ProcessTask implements asynq.Handler
func (h *OutboundHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var msg OutboundMessage
	if err := json.Unmarshal(t.Payload(), &msg); err != nil {
		return errors.Wrap(asynq.SkipRetry, err.Error())
	}

	entry := h.logger.WithFields(logrus.Fields{FieldEvent: "message.deliver", FieldActor: msg.Recipient})
	if err := h.messenger.SendMessage(ctx, msg.Recipient, msg.Text); err != nil {
		entry.WithField(FieldOutcome, string(CodeOf(err))).WithError(err).Error("failed to deliver queued message")
		return err
	}
	entry.WithField(FieldOutcome, "sent").Debug("queued message delivered")
	return nil
}

// NewOutboundServeMux routes outbound message tasks to h
func NewOutboundServeMux(h *OutboundHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TaskSendMessage, h)
	return mux
}
