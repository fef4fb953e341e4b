package alerting

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/anomaly"
)

func sampleNote() Notification {
	created := time.Date(2026, 3, 11, 14, 0, 0, 0, time.UTC)
	return Notification{
		Alert: anomaly.Alert{
			ID:                 "a-1",
			Category:           anomaly.CategoryAnomaly,
			Severity:           anomaly.SeverityCritical,
			Signal:             anomaly.SignalFailureRate,
			Message:            "failure rate for mpesa in KE jumped to 45.0%",
			Confidence:         85,
			RecommendedActions: []string{"route KE traffic away from mpesa"},
			AffectedProviders:  []string{"mpesa"},
			Country:            "KE",
			CreatedAt:          created,
			ExpiresAt:          created.Add(time.Hour),
		},
		Channels:    []string{"telegram"},
		Environment: "test",
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/bottoken/sendMessage")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	require.NoError(t, notifier.Notify(context.Background(), sampleNote()))

	assert.Equal(t, "chat", received["chat_id"])
	assert.Contains(t, received["text"], "[CRITICAL] anomaly failure_rate")
	assert.Contains(t, received["text"], "Country: KE")
	assert.Contains(t, received["text"], "- route KE traffic away from mpesa")
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	err := notifier.Notify(context.Background(), sampleNote())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestTelegramNotifierHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL+"/", time.Second, testLogger())
	assert.Error(t, notifier.Notify(context.Background(), sampleNote()))
}

func TestWebhookNotifierSignsBody(t *testing.T) {
	var (
		body      []byte
		signature string
		timestamp string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		body, err = io.ReadAll(r.Body)
		require.NoError(t, err)
		signature = r.Header.Get(SignatureHeader)
		timestamp = r.Header.Get(TimestampHeader)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	notifier := NewWebhookNotifier(srv.URL, "s3cret", time.Second, testLogger())
	notifier.now = func() time.Time { return time.Unix(1773237600, 0) }
	require.NoError(t, notifier.Notify(context.Background(), sampleNote()))

	assert.Equal(t, "1773237600", timestamp)
	assert.True(t, strings.HasPrefix(signature, "sha256="))
	assert.True(t, Verify([]byte("s3cret"), timestamp, body, signature))
	assert.False(t, Verify([]byte("other"), timestamp, body, signature))

	var payload struct {
		Alert       anomaly.Alert `json:"alert"`
		Environment string        `json:"environment"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "a-1", payload.Alert.ID)
	assert.Equal(t, "test", payload.Environment)
}

func TestWebhookNotifierUnsigned(t *testing.T) {
	var signature string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature = r.Header.Get(SignatureHeader)
	}))
	defer srv.Close()

	notifier := NewWebhookNotifier(srv.URL, "", time.Second, testLogger())
	require.NoError(t, notifier.Notify(context.Background(), sampleNote()))
	assert.Empty(t, signature)
}

func TestWebhookNotifierRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	notifier := NewWebhookNotifier(srv.URL, "", time.Second, testLogger())
	assert.Error(t, notifier.Notify(context.Background(), sampleNote()))
}

func TestVerifyMalformedHeader(t *testing.T) {
	assert.False(t, Verify([]byte("k"), "1", []byte("{}"), ""))
	assert.False(t, Verify([]byte("k"), "1", []byte("{}"), "sha256=zz"))
	assert.False(t, Verify([]byte("k"), "1", []byte("{}"), "md5=abcd"))
}

type recordingNotifier struct {
	notes []Notification
	err   error
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	r.notes = append(r.notes, n)
	return r.err
}

func TestMultiNotifierFansOut(t *testing.T) {
	ok := &recordingNotifier{}
	broken := &recordingNotifier{err: assert.AnError}

	multi := &MultiNotifier{}
	multi.Add("telegram", ok)
	multi.Add("webhook", broken)
	assert.Equal(t, 2, multi.Len())

	note := sampleNote()
	note.Channels = nil
	err := multi.Notify(context.Background(), note)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook")
	assert.NotContains(t, err.Error(), "telegram:")

	require.Len(t, ok.notes, 1)
	require.Len(t, broken.notes, 1)
	assert.Equal(t, []string{"telegram", "webhook"}, ok.notes[0].Channels)
}

func TestMultiNotifierEmpty(t *testing.T) {
	assert.NoError(t, (&MultiNotifier{}).Notify(context.Background(), sampleNote()))
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
