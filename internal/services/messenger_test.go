package services_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/services"
	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/services/servicestest"
)

func TestAsyncMessenger_DeliversInBackground(t *testing.T) {
	recorder := servicestest.NewRecordingMessenger()
	recorder.FailFor[phoneQ] = true
	logger, hook := test.NewNullLogger()
	async := services.NewAsyncMessenger(recorder, logger)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, async.SendMessage(ctx, phoneP, "hello"))
	require.NoError(t, async.SendMessage(ctx, phoneQ, "hello"))
	cancel()
	async.Wait()

	assert.Len(t, recorder.SentTo(phoneP), 1)
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, phoneQ, hook.LastEntry().Data[services.FieldActor])
}

func TestLogMessenger_NeverFails(t *testing.T) {
	logger, hook := test.NewNullLogger()
	m := services.NewLogMessenger(logger)

	require.NoError(t, m.SendMessage(context.Background(), phoneP, "hi there"))
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, "mocked", hook.LastEntry().Data[services.FieldOutcome])
}

func TestOutboundHandler_ProcessTask(t *testing.T) {
	recorder := servicestest.NewRecordingMessenger()
	handler := services.NewOutboundHandler(recorder, services.NewNopLogger())

	payload, err := json.Marshal(services.OutboundMessage{Recipient: phoneP, Text: "your deal succeeded"})
	require.NoError(t, err)
	require.NoError(t, handler.ProcessTask(context.Background(), asynq.NewTask(services.TaskSendMessage, payload)))

	sent := recorder.SentTo(phoneP)
	require.Len(t, sent, 1)
	assert.Equal(t, "your deal succeeded", sent[0].Text)

	recorder.FailFor[phoneQ] = true
	payload, _ = json.Marshal(services.OutboundMessage{Recipient: phoneQ, Text: "x"})
	assert.Error(t, handler.ProcessTask(context.Background(), asynq.NewTask(services.TaskSendMessage, payload)))
}

func TestOutboundHandler_BadPayloadSkipsRetry(t *testing.T) {
	handler := services.NewOutboundHandler(servicestest.NewRecordingMessenger(), services.NewNopLogger())

	err := handler.ProcessTask(context.Background(), asynq.NewTask(services.TaskSendMessage, []byte("{not json")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
