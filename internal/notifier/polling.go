package notifier

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// CommandHandler is called when a user command is received.
type CommandHandler func(ctx context.Context, command string) string

// StartPolling begins long-polling for Telegram commands. Blocks until ctx is cancelled.
func (t *TelegramNotifier) StartPolling(ctx context.Context, handler CommandHandler) {
	offset := int64(0)
	client := &http.Client{Timeout: 35 * time.Second, Transport: t.Client.Transport}

	for {
		select {
		case <-ctx.Done():
			t.log.Info("telegram polling stopped")
			return
		default:
		}

		next, err := t.poll(ctx, client, offset, handler)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.log.WithError(err).Warn("polling request failed")
			if t.sleep(ctx, 5*time.Second) != nil {
				return
			}
			continue
		}
		offset = next
	}
}

// poll fetches one batch of updates, dispatches the commands in it and
// returns the next offset.
func (t *TelegramNotifier) poll(ctx context.Context, client *http.Client, offset int64, handler CommandHandler) (int64, error) {
	apiURL := fmt.Sprintf("%s?offset=%d&timeout=30", t.endpoint("getUpdates"), offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return offset, fmt.Errorf("create polling request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return offset, err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return offset, fmt.Errorf("read polling response: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return offset, fmt.Errorf("decode polling response: invalid json")
	}
	doc := gjson.ParseBytes(body)
	if !doc.Get("ok").Bool() {
		return offset, fmt.Errorf("telegram API error: %s", doc.Get("description").String())
	}

	doc.Get("result").ForEach(func(_, update gjson.Result) bool {
		offset = update.Get("update_id").Int() + 1
		text := strings.TrimSpace(update.Get("message.text").String())
		if text == "" {
			return true
		}
		t.log.WithField("command", text).Info("received command")
		if reply := handler(ctx, text); reply != "" {
			if err := t.Send(ctx, reply); err != nil {
				t.log.WithError(err).Error("send reply")
			}
		}
		return true
	})
	return offset, nil
}
