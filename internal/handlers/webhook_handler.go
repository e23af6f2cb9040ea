package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/services"
)

// inboundMessage accepts the Twilio-style {Body, From} shape in any letter case
// and the WAHA event shape {event, payload:{from, body, fromMe}}.
type inboundMessage struct {
	Body    string `json:"Body"`
	From    string `json:"From"`
	Event   string `json:"event"`
	Payload *struct {
		From   string `json:"from"`
		Body   string `json:"body"`
		FromMe bool   `json:"fromMe"`
	} `json:"payload"`
}

// WebhookDebug is returned with test-mode replies
type WebhookDebug struct {
	OriginalMessage  string    `json:"originalMessage"`
	ProcessedMessage string    `json:"processedMessage"`
	PhoneNumber      string    `json:"phoneNumber"`
	ErrorCode        string    `json:"errorCode,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// WebhookTestReply is the synchronous test-mode response body
type WebhookTestReply struct {
	Success  bool         `json:"success"`
	Response string       `json:"response"`
	Debug    WebhookDebug `json:"debug"`
}

type WebhookHandler struct {
	chat          *services.ChatService
	messenger     services.Messenger
	channelPrefix string
	isTestSender  func(sender string) bool
	logger        logrus.FieldLogger
}

func NewWebhookHandler(chat *services.ChatService, messenger services.Messenger, channelPrefix string, isTestSender func(string) bool, logger logrus.FieldLogger) *WebhookHandler {
	if isTestSender == nil {
		isTestSender = func(string) bool { return false }
	}
	return &WebhookHandler{
		chat:          chat,
		messenger:     messenger,
		channelPrefix: channelPrefix,
		isTestSender:  isTestSender,
		logger:        logger,
	}
}

// HandleWebhook answers one inbound chat message. Test senders (or requests with
// X-Test: true) get the reply inline; everyone else gets it through the messenger
// and the HTTP caller only gets an acknowledgement.
func (h *WebhookHandler) HandleWebhook(c echo.Context) error {
	msg := h.readInbound(c)

	if msg.Payload != nil && (msg.Payload.FromMe || (msg.Event != "" && msg.Event != "message")) {
		return c.String(http.StatusOK, "ignored")
	}

	if msg.Body == "" || msg.From == "" {
		h.logger.WithFields(logrus.Fields{
			services.FieldEvent:   "webhook.receive",
			services.FieldOutcome: string(services.CodeInvalidInput),
			"content_type":        c.Request().Header.Get(echo.HeaderContentType),
		}).Warn("invalid webhook payload")
		return respondError(c, http.StatusBadRequest, string(services.CodeInvalidInput),
			fmt.Sprintf("Missing fields: Body=%t, From=%t", msg.Body != "", msg.From != ""))
	}

	from := strings.TrimSpace(msg.From)
	if !strings.HasPrefix(from, h.channelPrefix) || from == h.channelPrefix {
		h.logger.WithFields(logrus.Fields{
			services.FieldEvent:   "webhook.receive",
			services.FieldActor:   from,
			services.FieldOutcome: string(services.CodeInvalidSender),
		}).Warn("invalid or missing From number")
		return respondError(c, http.StatusBadRequest, string(services.CodeInvalidSender), "Invalid phone number format")
	}

	reply := h.chat.Handle(c.Request().Context(), msg.Body, from)

	if c.Request().Header.Get("X-Test") == "true" || h.isTestSender(from) {
		return c.JSON(http.StatusOK, WebhookTestReply{
			Success:  reply.Success,
			Response: reply.Text,
			Debug: WebhookDebug{
				OriginalMessage:  msg.Body,
				ProcessedMessage: reply.Command.Text,
				PhoneNumber:      from,
				ErrorCode:        string(reply.ErrorCode),
				Timestamp:        time.Now().UTC(),
			},
		})
	}

	if err := h.messenger.SendMessage(c.Request().Context(), from, reply.Text); err != nil {
		h.logger.WithFields(logrus.Fields{
			services.FieldEvent:   "webhook.reply",
			services.FieldActor:   from,
			services.FieldOutcome: string(services.CodeMessagingFailed),
		}).WithError(err).Error("failed to send reply")
	}
	return c.String(http.StatusOK, "OK")
}

// readInbound extracts the message from form, JSON or WAHA bodies. Unknown
// content types are decoded as JSON on a best-effort basis.
func (h *WebhookHandler) readInbound(c echo.Context) inboundMessage {
	var msg inboundMessage
	ctype := c.Request().Header.Get(echo.HeaderContentType)

	switch {
	case strings.HasPrefix(ctype, echo.MIMEApplicationForm), strings.HasPrefix(ctype, echo.MIMEMultipartForm):
		msg.Body = firstNonEmpty(c.FormValue("Body"), c.FormValue("body"))
		msg.From = firstNonEmpty(c.FormValue("From"), c.FormValue("from"))
	default:
		// field matching in encoding/json is case-insensitive, so "body" fills Body
		_ = json.NewDecoder(c.Request().Body).Decode(&msg)
	}

	if msg.Payload != nil {
		if msg.Body == "" {
			msg.Body = msg.Payload.Body
		}
		if msg.From == "" {
			msg.From = services.SenderFromChatID(msg.Payload.From, h.channelPrefix)
		}
	}
	msg.Body = strings.TrimSpace(msg.Body)
	return msg
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
