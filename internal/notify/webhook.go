package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"nse-alerts/internal/config"
)

// WebhookTransport posts messages as JSON to http(s) destinations.
type WebhookTransport struct {
	client *http.Client
}

// NewWebhookTransport creates a new WebhookTransport.
func NewWebhookTransport(cfg config.WebhookConfig) *WebhookTransport {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookTransport{
		client: &http.Client{Timeout: timeout},
	}
}

// Send posts {destination, text, timestamp} to url.
func (w *WebhookTransport) Send(ctx context.Context, url, text string) error {
	payload := map[string]interface{}{
		"destination": url,
		"text":        text,
		"timestamp":   time.Now().Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "nse-alerts/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
