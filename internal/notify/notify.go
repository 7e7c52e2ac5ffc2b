// Package notify delivers the core's offline/recovery notices. The stats
// engine fires a notice exactly once per state transition; delivery is
// best-effort and must never block or fail a poll cycle, so every
// implementation logs errors instead of returning them.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Notifier delivers a human-readable notice.
type Notifier interface {
	Notice(ctx context.Context, msg string)
}

// Nop discards all notices.
type Nop struct{}

// Notice implements Notifier.
func (Nop) Notice(context.Context, string) {}

// Multi fans a notice out to several notifiers.
type Multi []Notifier

// Notice implements Notifier.
func (m Multi) Notice(ctx context.Context, msg string) {
	for _, n := range m {
		n.Notice(ctx, msg)
	}
}

// Webhook POSTs notices as JSON to a configured URL. The client retries
// with backoff: unlike polls, a notice has no next cycle to fall back on.
type Webhook struct {
	client *http.Client
	url    string
	logger *slog.Logger
}

// NewWebhook creates a webhook notifier for the given URL.
func NewWebhook(url string, logger *slog.Logger) *Webhook {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 10 * time.Second
	rc.Backoff = retryablehttp.LinearJitterBackoff
	rc.Logger = nil
	rc.HTTPClient.Timeout = 10 * time.Second

	return &Webhook{
		client: rc.StandardClient(),
		url:    url,
		logger: logger.With(slog.String("component", "notify")),
	}
}

type webhookPayload struct {
	Text string `json:"text"`
	Time string `json:"time"`
}

// Notice implements Notifier.
func (w *Webhook) Notice(ctx context.Context, msg string) {
	body, err := json.Marshal(webhookPayload{
		Text: msg,
		Time: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		w.logger.Error("marshal notice failed", slog.String("error", err.Error()))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		w.logger.Error("build notice request failed", slog.String("error", err.Error()))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Warn("notice delivery failed", slog.String("error", err.Error()))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		w.logger.Warn("notice rejected", slog.Int("status", resp.StatusCode))
		return
	}
	w.logger.Debug("notice delivered", slog.String("text", msg))
}
