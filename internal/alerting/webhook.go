package alerting

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/anomaly"
)

const (
	SignatureHeader = "X-Paycore-Signature"
	TimestampHeader = "X-Paycore-Timestamp"
)

// WebhookNotifier POSTs alerts as JSON. With a secret set, the body is signed with
// HMAC-SHA256 over "<timestamp>.<body>".
type WebhookNotifier struct {
	url    string
	secret []byte
	client *http.Client
	now    func() time.Time
	logger zerolog.Logger
}

type webhookPayload struct {
	Alert       anomaly.Alert `json:"alert"`
	Channels    []string      `json:"channels,omitempty"`
	Environment string        `json:"environment,omitempty"`
	SentAt      time.Time     `json:"sentAt"`
}

// NewWebhookNotifier builds a webhook notifier.
func NewWebhookNotifier(url, secret string, timeout time.Duration, logger zerolog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		secret: []byte(secret),
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
		logger: logger.With().Str("component", "alert_webhook").Logger(),
	}
}

// Notify delivers the alert and treats any non-2xx response as a failure.
func (n *WebhookNotifier) Notify(ctx context.Context, note Notification) error {
	sentAt := n.now().UTC()
	body, err := json.Marshal(webhookPayload{
		Alert:       note.Alert,
		Channels:    note.Channels,
		Environment: note.Environment,
		SentAt:      sentAt,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if len(n.secret) > 0 {
		ts := strconv.FormatInt(sentAt.Unix(), 10)
		req.Header.Set(TimestampHeader, ts)
		req.Header.Set(SignatureHeader, "sha256="+Sign(n.secret, ts, body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded with status %d", resp.StatusCode)
	}

	n.logger.Info().Str("alert_id", note.Alert.ID).Int("status", resp.StatusCode).Msg("alert sent (webhook)")
	return nil
}

// Sign returns the hex HMAC-SHA256 of "<timestamp>.<body>".
func Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header value produced by Sign.
func Verify(secret []byte, timestamp string, body []byte, header string) bool {
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	want, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}
	got, _ := hex.DecodeString(Sign(secret, timestamp, body))
	return hmac.Equal(got, want)
}

// MultiNotifier fans a notification out to every named notifier.
type MultiNotifier struct {
	names     []string
	notifiers []Notifier
}

// Add registers a notifier under a channel name.
func (m *MultiNotifier) Add(name string, n Notifier) {
	m.names = append(m.names, name)
	m.notifiers = append(m.notifiers, n)
}

// Channels lists the registered channel names in order.
func (m *MultiNotifier) Channels() []string {
	return append([]string(nil), m.names...)
}

// Len reports the number of registered notifiers.
func (m *MultiNotifier) Len() int { return len(m.notifiers) }

// Notify delivers to every channel and joins the failures.
func (m *MultiNotifier) Notify(ctx context.Context, note Notification) error {
	if len(note.Channels) == 0 {
		note.Channels = m.Channels()
	}
	var errs []error
	for i, n := range m.notifiers {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.names[i], err))
		}
	}
	return errors.Join(errs...)
}

var (
	_ Notifier = (*WebhookNotifier)(nil)
	_ Notifier = (*MultiNotifier)(nil)
)
