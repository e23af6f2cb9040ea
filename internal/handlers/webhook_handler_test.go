package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/url"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/handlers"
	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/services"
)

func formBody(body, from string) string {
	v := url.Values{}
	v.Set("Body", body)
	v.Set("From", from)
	return v.Encode()
}

func TestWebhook_FormMessageIsAnsweredThroughMessenger(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/webhook/whatsapp", echo.MIMEApplicationForm, formBody("/help", userPhone))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	sent := s.messenger.SentTo(userPhone)
	require.Len(t, sent, 1)
	assert.Equal(t, services.NewReplies("₹").Help(), sent[0].Text)
}

func TestWebhook_JoinOverFormEnrollsSender(t *testing.T) {
	s := newTestServer(t)
	deal := s.store.AddDeal(openDeal("Basmati Rice", 2, 5, 0))

	rec := s.do(http.MethodPost, "/webhook/whatsapp", echo.MIMEApplicationForm, formBody("/join 1", userPhone))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 1, s.store.Deal(deal.ID).CurrentParticipants)
	sent := s.messenger.SentTo(userPhone)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "Successfully joined Basmati Rice")
}

func TestWebhook_TestModeRepliesInline(t *testing.T) {
	s := newTestServer(t)
	s.store.AddDeal(openDeal("Olive Oil", 2, 5, 1))

	cases := []struct {
		name    string
		from    string
		headers []string
	}{
		{name: "x-test header", from: userPhone, headers: []string{"X-Test", "true"}},
		{name: "configured test sender", from: testSender},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := `{"body":"  /DEALS ","from":"` + tc.from + `"}`
			rec := s.do(http.MethodPost, "/webhook/whatsapp", echo.MIMEApplicationJSON, payload, tc.headers...)
			require.Equal(t, http.StatusOK, rec.Code)

			var reply handlers.WebhookTestReply
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
			assert.True(t, reply.Success)
			assert.Contains(t, reply.Response, "Olive Oil")
			assert.Equal(t, "/DEALS", reply.Debug.OriginalMessage)
			assert.Equal(t, "/deals", reply.Debug.ProcessedMessage)
			assert.Equal(t, tc.from, reply.Debug.PhoneNumber)
		})
	}
	assert.Empty(t, s.messenger.Sent())
}

func TestWebhook_TestModeReportsFailures(t *testing.T) {
	s := newTestServer(t)
	full := s.store.AddDeal(openDeal("Cashews", 1, 1, 1))
	s.store.AddDeal(openDeal("Almonds", 1, 5, 0))

	cases := []struct {
		name     string
		body     string
		headers  []string
		code     services.ErrorCode
		contains string
	}{
		{name: "index out of range", body: "/join 99", headers: []string{"X-Test", "true"}, code: services.CodeInvalidDealIndex, contains: "Invalid deal number"},
		{name: "full deal", body: "/join " + full.ID.String(), headers: []string{"X-Test", "true"}, code: services.CodeDealFull},
		{name: "test sender", body: "/join 3", code: services.CodeInvalidDealIndex, contains: "Invalid deal number"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			from := userPhone
			if len(tc.headers) == 0 {
				from = testSender
			}
			rec := s.do(http.MethodPost, "/webhook/whatsapp", echo.MIMEApplicationJSON,
				`{"Body":"`+tc.body+`","From":"`+from+`"}`, tc.headers...)
			require.Equal(t, http.StatusOK, rec.Code)

			var reply handlers.WebhookTestReply
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
			assert.False(t, reply.Success)
			assert.Equal(t, string(tc.code), reply.Debug.ErrorCode)
			if tc.contains != "" {
				assert.Contains(t, reply.Response, tc.contains)
			}
		})
	}
	assert.Empty(t, s.messenger.Sent())
}

func TestWebhook_TestModeJoinSucceeds(t *testing.T) {
	s := newTestServer(t)
	s.store.AddDeal(openDeal("Walnuts", 1, 5, 0))

	rec := s.do(http.MethodPost, "/webhook/whatsapp", echo.MIMEApplicationJSON,
		`{"Body":"/join 1","From":"`+userPhone+`"}`, "X-Test", "true")
	require.Equal(t, http.StatusOK, rec.Code)

	var reply handlers.WebhookTestReply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.True(t, reply.Success)
	assert.Empty(t, reply.Debug.ErrorCode)
}

func TestWebhook_WahaEventPayload(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/webhook/whatsapp", echo.MIMEApplicationJSON,
		`{"event":"message","payload":{"from":"919812345678@c.us","body":"/help","fromMe":false}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, s.messenger.SentTo(userPhone), 1)
}

func TestWebhook_IgnoresOwnAndNonMessageEvents(t *testing.T) {
	s := newTestServer(t)

	for _, body := range []string{
		`{"event":"message","payload":{"from":"919812345678@c.us","body":"/help","fromMe":true}}`,
		`{"event":"session.status","payload":{"from":"919812345678@c.us","body":"WORKING"}}`,
	} {
		rec := s.do(http.MethodPost, "/webhook/whatsapp", echo.MIMEApplicationJSON, body)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Empty(t, s.messenger.Sent())
}

func TestWebhook_RejectsBadPayloads(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		name     string
		ctype    string
		body     string
		wantCode services.ErrorCode
	}{
		{name: "missing body", ctype: echo.MIMEApplicationForm, body: formBody("", userPhone), wantCode: services.CodeInvalidInput},
		{name: "missing from", ctype: echo.MIMEApplicationJSON, body: `{"Body":"/help"}`, wantCode: services.CodeInvalidInput},
		{name: "garbage json", ctype: echo.MIMEApplicationJSON, body: `{not json`, wantCode: services.CodeInvalidInput},
		{name: "sender without prefix", ctype: echo.MIMEApplicationForm, body: formBody("/help", "+919812345678"), wantCode: services.CodeInvalidSender},
		{name: "bare prefix", ctype: echo.MIMEApplicationForm, body: formBody("/help", prefix), wantCode: services.CodeInvalidSender},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/webhook/whatsapp", tc.ctype, tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			env := decodeEnvelope(t, rec)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, string(tc.wantCode), env.Error.Code)
		})
	}
	assert.Empty(t, s.messenger.Sent())
	assert.Zero(t, s.store.TotalCalls())
}

func TestWebhook_MessengerFailureStillAcknowledges(t *testing.T) {
	s := newTestServer(t)
	s.messenger.FailFor[userPhone] = true

	rec := s.do(http.MethodPost, "/webhook/whatsapp", echo.MIMEApplicationForm, formBody("/help", userPhone))
	assert.Equal(t, http.StatusOK, rec.Code)
}
