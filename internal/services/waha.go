package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// WahaConfig configures the WAHA (WhatsApp HTTP API) client
type WahaConfig struct {
	BaseURL       string
	APIKey        string
	Session       string
	CountryCode   string
	ChannelPrefix string
	// Humanize sends seen and typing indicators with short pauses before the text
	Humanize bool
}

// humanizeDelays are the pauses after seen, startTyping and stopTyping
var humanizeDelays = [3]time.Duration{100 * time.Millisecond, 150 * time.Millisecond, 50 * time.Millisecond}

// WahaService delivers chat messages through a WAHA instance. It implements Messenger.
type WahaService struct {
	cfg    WahaConfig
	client *http.Client
	delays [3]time.Duration
}

func NewWahaService(cfg WahaConfig, client *http.Client) *WahaService {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.Session == "" {
		cfg.Session = "default"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &WahaService{cfg: cfg, client: client, delays: humanizeDelays}
}

func (s *WahaService) makeRequest(ctx context.Context, method, endpoint string, payload interface{}) error {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, "failed to marshal payload")
		}
		bodyReader = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.cfg.BaseURL+endpoint, bodyReader)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

func (s *WahaService) chatAction(ctx context.Context, endpoint, chatID string) error {
	return s.makeRequest(ctx, http.MethodPost, endpoint, map[string]string{
		"chatId":  chatID,
		"session": s.cfg.Session,
	})
}

func (s *WahaService) sendText(ctx context.Context, chatID, text string) error {
	return s.makeRequest(ctx, http.MethodPost, "/api/sendText", map[string]string{
		"chatId":  chatID,
		"text":    text,
		"session": s.cfg.Session,
	})
}

// SendMessage sends text to a recipient given as "whatsapp:+<number>", a bare number or a chat id.
// With Humanize it goes seen -> typing -> stop typing -> send.
func (s *WahaService) SendMessage(ctx context.Context, recipient, text string) error {
	chatID := NormalizeChatID(recipient, s.cfg.CountryCode, s.cfg.ChannelPrefix)

	if s.cfg.Humanize {
		steps := []struct {
			endpoint string
			what     string
		}{
			{"/api/sendSeen", "send seen"},
			{"/api/startTyping", "start typing"},
			{"/api/stopTyping", "stop typing"},
		}
		for i, step := range steps {
			if err := s.chatAction(ctx, step.endpoint, chatID); err != nil {
				return newDealError(ErrMessagingFailed, errors.Wrapf(err, "failed to %s", step.what))
			}
			if err := sleepCtx(ctx, s.delays[i]); err != nil {
				return newDealError(ErrMessagingFailed, err)
			}
		}
	}

	if err := s.sendText(ctx, chatID, text); err != nil {
		return newDealError(ErrMessagingFailed, errors.Wrap(err, "failed to send text"))
	}
	return nil
}

// NormalizeChatID turns a channel sender or phone number into a WAHA chat id.
// Group ids pass through; a leading 0 is replaced by the default country code.
func NormalizeChatID(chatID, countryCode, channelPrefix string) string {
	chatID = strings.TrimSpace(chatID)

	// If it's already a group ID, it's correct
	if strings.HasSuffix(chatID, "@g.us") {
		return chatID
	}

	chatID = strings.TrimSuffix(chatID, "@c.us")
	if channelPrefix != "" {
		chatID = strings.TrimPrefix(chatID, channelPrefix)
	}
	chatID = strings.TrimPrefix(strings.TrimSpace(chatID), "+")

	if strings.HasPrefix(chatID, "0") && countryCode != "" {
		chatID = countryCode + strings.TrimPrefix(chatID, "0")
	}

	return chatID + "@c.us"
}

// SenderFromChatID converts an inbound WAHA chat id ("9198...@c.us") into a channel sender ("whatsapp:+9198...").
// Ids that already carry the prefix are returned unchanged.
func SenderFromChatID(chatID, channelPrefix string) string {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" || strings.HasPrefix(chatID, channelPrefix) {
		return chatID
	}
	number := strings.TrimSuffix(strings.TrimSuffix(chatID, "@c.us"), "@s.whatsapp.net")
	return channelPrefix + "+" + strings.TrimPrefix(number, "+")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
