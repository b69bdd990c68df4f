package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const webhookTimeout = 10 * time.Second

// WebhookAdapter POSTs the notification payload as JSON to a configured URL.
type WebhookAdapter struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhookAdapter creates a webhook adapter targeting rawURL.
func NewWebhookAdapter(rawURL string) *WebhookAdapter {
	return &WebhookAdapter{
		url:    rawURL,
		client: &http.Client{Timeout: webhookTimeout},
		logger: slog.Default().With("component", "notify.webhook"),
	}
}

func (a *WebhookAdapter) Name() string { return "webhook" }

// Init validates the configured URL. No probe request is sent.
func (a *WebhookAdapter) Init(_ context.Context) error {
	u, err := url.Parse(a.url)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid webhook URL scheme %q", u.Scheme)
	}
	return nil
}

func (a *WebhookAdapter) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook POST failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (a *WebhookAdapter) Close(_ context.Context) error { return nil }
