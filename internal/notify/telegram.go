package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"time"
)

const telegramAPIBase = "https://api.telegram.org"

// telegramBadge prefixes each message so events are scannable in a chat
// without reading the body.
func telegramBadge(event string) string {
	switch event {
	case EventFeedGivenUp:
		return "\U0001F50C" // unplugged
	case EventOpportunity:
		return "\U0001F4C8" // chart up
	case EventOrderFilled:
		return "✅"
	case EventOrderRejected:
		return "❌"
	case EventRiskAlert:
		return "⚠️"
	default:
		return "\U0001F514" // bell
	}
}

// TelegramSender posts to a chat through the Bot API sendMessage endpoint.
type TelegramSender struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

// NewTelegramSender builds a sender for the given bot token and chat id.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:   token,
		chatID:  chatID,
		baseURL: telegramAPIBase,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Send renders the notification as an HTML message: event badge, bold
// title, body on the next line. Title and body are escaped, so raw venue
// and symbol strings are safe to pass through.
func (t *TelegramSender) Send(ctx context.Context, n Notification) error {
	text := fmt.Sprintf("%s <b>%s</b>\n%s",
		telegramBadge(n.Event), html.EscapeString(n.Title), html.EscapeString(n.Body))

	body, err := json.Marshal(map[string]string{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, string(detail))
	}
	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
