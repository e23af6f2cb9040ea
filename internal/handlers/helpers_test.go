package handlers_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/handlers"
	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/middleware"
	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/models"
	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/services"
	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/services/servicestest"
)

const (
	prefix     = "whatsapp:"
	testSender = "whatsapp:+14155238886"
	userPhone  = "whatsapp:+919812345678"
)

type scheduledNotification struct {
	dealID   uuid.UUID
	template string
	due      time.Time
}

type fakeNotifier struct {
	calls []scheduledNotification
}

func (f *fakeNotifier) ScheduleDealNotification(ctx context.Context, dealID uuid.UUID, template string, due time.Time) (*models.ScheduledTask, error) {
	f.calls = append(f.calls, scheduledNotification{dealID: dealID, template: template, due: due})
	return &models.ScheduledTask{TaskName: "notify_deal_participants", Due: due, Status: models.ScheduledTaskStatusActive}, nil
}

type testServer struct {
	e         *echo.Echo
	store     *servicestest.MemoryStore
	messenger *servicestest.RecordingMessenger
	notifier  *fakeNotifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := services.NewNopLogger()
	store := servicestest.NewMemoryStore()
	messenger := servicestest.NewRecordingMessenger()
	notifier := &fakeNotifier{}
	replies := services.NewReplies("₹")

	join := services.NewJoinService(store, logger, nil)
	chat := services.NewChatService(join, store, replies, prefix, 5, logger)

	e := echo.New()
	e.HTTPErrorHandler = middleware.CustomErrorHandler(logger)

	webhook := handlers.NewWebhookHandler(chat, messenger, prefix, func(s string) bool { return s == testSender }, logger)
	e.POST("/webhook/whatsapp", webhook.HandleWebhook)

	handlers.NewDealHandler(
		services.NewDealService(store, logger),
		join,
		services.NewLifecycleService(store, messenger, replies, logger),
		services.NewAnalyticsService(store, nil),
		notifier,
		logger,
	).RegisterRoutes(e.Group("/api"))

	handlers.NewHealthHandler("test", store, nil, "mock").RegisterRoutes(e)

	return &testServer{e: e, store: store, messenger: messenger, notifier: notifier}
}

func (s *testServer) do(method, path, contentType, body string, headers ...string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) doJSON(method, path, body string) *httptest.ResponseRecorder {
	return s.do(method, path, echo.MIMEApplicationJSON, body)
}

type envelope struct {
	Success bool               `json:"success"`
	Data    json.RawMessage    `json:"data"`
	Error   *handlers.ErrorBody `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func openDeal(name string, min, max, current int) models.Deal {
	return models.Deal{
		ProductName:         name,
		OriginalPrice:       decimal.NewFromInt(1200),
		GroupPrice:          decimal.NewFromInt(899),
		MinParticipants:     min,
		MaxParticipants:     max,
		CurrentParticipants: current,
		Status:              models.DealStatusActive,
		StartTime:           time.Now().Add(-time.Hour),
		EndTime:             time.Now().Add(48 * time.Hour),
	}
}
