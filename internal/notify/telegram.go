package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/wonny/aegis-trader/pkg/httputil"
)

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier posts messages to a Telegram chat
type TelegramNotifier struct {
	http    *httputil.Client
	baseURL string
	token   string
	chatID  string
}

// NewTelegramNotifier creates a Telegram notifier
func NewTelegramNotifier(httpClient *httputil.Client, token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		http:    httpClient,
		baseURL: telegramAPI,
		token:   token,
		chatID:  chatID,
	}
}

// WithBaseURL overrides the API endpoint (tests)
func (t *TelegramNotifier) WithBaseURL(u string) *TelegramNotifier {
	t.baseURL = strings.TrimRight(u, "/")
	return t
}

// Send posts the event to the chat
func (t *TelegramNotifier) Send(ctx context.Context, event Event) error {
	emoji := "ℹ️"
	switch event.Level {
	case LevelWarning:
		emoji = "⚠️"
	case LevelCritical:
		emoji = "🚨"
	case LevelSuccess:
		emoji = "✅"
	}

	data := url.Values{}
	data.Set("chat_id", t.chatID)
	data.Set("text", fmt.Sprintf("%s [aegis-trader] %s", emoji, event.Text()))

	resp, err := t.http.PostForm(ctx, fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token), data)
	if err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	if err := httputil.DecodeJSON(resp, nil); err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	return nil
}
