package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/benvon/timesheet-sync/internal/logger"
	"go.uber.org/zap"
)

const (
	// DefaultTelegramAPI is the Bot API base URL.
	DefaultTelegramAPI = "https://api.telegram.org"
	// maxMessageLength is Telegram's limit for one message text.
	maxMessageLength = 4096
)

// Telegram sends notifications to one chat through the Bot API.
type Telegram struct {
	baseURL    string
	token      string
	chatID     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewTelegram creates a Telegram notifier. baseURL may be empty.
func NewTelegram(baseURL, token, chatID string, log *zap.Logger) *Telegram {
	if baseURL == "" {
		baseURL = DefaultTelegramAPI
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Telegram{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		chatID:     chatID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     log,
	}
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// Notify sends text, split into several messages when it exceeds the
// Telegram size limit. Failures are logged and dropped.
func (t *Telegram) Notify(ctx context.Context, text string) {
	for _, chunk := range splitMessage(text, maxMessageLength) {
		if err := t.send(ctx, chunk); err != nil {
			t.logger.Warn("telegram_notification_failed",
				zap.String("error", logger.SanitizeError(err)),
			)
			return
		}
	}
}

func (t *Telegram) send(ctx context.Context, text string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: t.chatID, Text: text})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		// the URL embeds the bot token
		return fmt.Errorf("telegram request failed: %s", strings.ReplaceAll(err.Error(), t.token, "***"))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("telegram returned status %d: %s", resp.StatusCode, string(data))
	}
	return nil
}

// splitMessage cuts text into chunks of at most limit bytes, preferring line
// boundaries.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var chunks []string
	var current strings.Builder
	for _, line := range strings.SplitAfter(text, "\n") {
		for len(line) > limit {
			if current.Len() > 0 {
				chunks = append(chunks, current.String())
				current.Reset()
			}
			chunks = append(chunks, line[:limit])
			line = line[limit:]
		}
		if current.Len()+len(line) > limit {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
