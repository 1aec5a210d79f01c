package notify

import (
	"context"
	"fmt"
	"net/http"
)

// TelegramSender pushes arbitrage alerts to a Telegram chat through the Bot
// API sendMessage endpoint.
type TelegramSender struct {
	token  string
	chatID string
	client *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and
// chat ID.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: senderTimeout},
	}
}

// Send posts the alert with the title bolded in Telegram markdown; the body
// (the per-condition signal lines) stays plain.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	payload := map[string]string{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n%s", title, message),
		"parse_mode": "Markdown",
	}

	status, body, err := postJSON(ctx, t.client, url, payload)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("telegram: unexpected status %d: %s", status, body)
	}
	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
