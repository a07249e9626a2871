package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"PortfolioFeed/internal/collector"
)

// DefaultTelegramURL is the Bot API root.
const DefaultTelegramURL = "https://api.telegram.org"

// Notifier delivers a formatted message.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// TelegramNotifier sends messages via the Telegram Bot API.
type TelegramNotifier struct {
	BotToken string
	ChatID   string
	BaseURL  string
	Client   *http.Client

	log   logrus.FieldLogger
	sleep func(ctx context.Context, d time.Duration) error
}

// NewTelegramNotifier creates a notifier with optional proxy support.
func NewTelegramNotifier(botToken, chatID, proxyURL string, log logrus.FieldLogger) *TelegramNotifier {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &TelegramNotifier{
		BotToken: botToken,
		ChatID:   chatID,
		BaseURL:  DefaultTelegramURL,
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		log:   log.WithField("component", "telegram"),
		sleep: collector.SleepContext,
	}
}

func (t *TelegramNotifier) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.BaseURL, t.BotToken, method)
}

// Send sends a message to the configured chat.
func (t *TelegramNotifier) Send(ctx context.Context, text string) error {
	payload := map[string]string{
		"chat_id":    t.ChatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint("sendMessage"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.Client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram API error: status %d, body: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// SendWithRetry sends a message with exponential backoff retry.
func (t *TelegramNotifier) SendWithRetry(ctx context.Context, text string, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		err := t.Send(ctx, text)
		if err == nil {
			return nil
		}
		lastErr = err
		if i == maxRetries {
			break
		}
		backoff := time.Duration(1<<uint(i)) * time.Second
		t.log.WithFields(logrus.Fields{
			"attempt": i + 1,
			"backoff": backoff,
		}).WithError(err).Warn("telegram send failed, retrying")
		if err := t.sleep(ctx, backoff); err != nil {
			return err
		}
	}
	return fmt.Errorf("all %d retries exhausted: %w", maxRetries+1, lastErr)
}

// Notify sends text with up to three retries.
func (t *TelegramNotifier) Notify(ctx context.Context, text string) error {
	return t.SendWithRetry(ctx, text, 3)
}

// NoopNotifier logs messages instead of delivering them.
type NoopNotifier struct {
	log logrus.FieldLogger
}

func NewNoopNotifier(log logrus.FieldLogger) *NoopNotifier {
	return &NoopNotifier{log: log.WithField("component", "notifier")}
}

func (n *NoopNotifier) Notify(_ context.Context, text string) error {
	n.log.WithField("text", text).Debug("notification dropped, no notifier configured")
	return nil
}
