package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/anomaly"
)

// Notification wraps an anomaly alert with delivery context.
type Notification struct {
	Alert       anomaly.Alert
	Channels    []string
	Environment string
}

// Notifier delivers a notification to one destination.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage with the rendered alert text.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram responded with status %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false: %s", result.Description)
		}
	}

	n.logger.Info().
		Str("alert_id", note.Alert.ID).
		Str("severity", string(note.Alert.Severity)).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("alert sent (telegram)")
	return nil
}

// RenderMessage formats an alert as plain text for chat channels.
func RenderMessage(note Notification) string {
	a := note.Alert
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[%s] %s %s\n", strings.ToUpper(string(a.Severity)), a.Category, a.Signal))
	if note.Environment != "" {
		builder.WriteString(fmt.Sprintf("Environment: %s\n", note.Environment))
	}
	builder.WriteString(a.Message + "\n")
	builder.WriteString(fmt.Sprintf("Providers: %s\n", strings.Join(a.AffectedProviders, ",")))
	if a.Country != "" {
		builder.WriteString(fmt.Sprintf("Country: %s\n", a.Country))
	}
	builder.WriteString(fmt.Sprintf("Confidence: %.0f%%\n", a.Confidence))
	builder.WriteString(fmt.Sprintf("Raised: %s UTC (expires %s)\n",
		a.CreatedAt.UTC().Format(time.RFC3339), a.ExpiresAt.UTC().Format(time.RFC3339)))
	for _, action := range a.RecommendedActions {
		builder.WriteString("- " + action + "\n")
	}
	builder.WriteString("ID: " + a.ID)
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
