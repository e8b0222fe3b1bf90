package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultWebhookTimeout = 10 * time.Second

// webhookPayload is the JSON body POSTed to the delivery endpoint.
type webhookPayload struct {
	Destination string `json:"destination"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
	Timestamp   string `json:"timestamp"`
}

// Webhook delivers messages by POSTing them to an external HTTP
// endpoint (typically a mail or SMS dispatch service). Sends are
// synchronous and bounded by the client timeout and the caller's
// context, so a stuck endpoint cannot wedge a login attempt beyond its
// request deadline.
type Webhook struct {
	url        string
	authHeader string // "Header: Value" format, e.g., "Authorization: Bearer xxx"
	authToken  func(ctx context.Context) (string, error)
	client     *http.Client
}

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

// WithAuthHeader attaches a static "Header: Value" pair to every request.
func WithAuthHeader(header string) WebhookOption {
	return func(w *Webhook) {
		w.authHeader = header
	}
}

// WithAuthTokenProvider attaches a bearer token fetched per send.
// Typically backed by a credential cache so short-lived tokens are
// reused across sends.
func WithAuthTokenProvider(provider func(ctx context.Context) (string, error)) WebhookOption {
	return func(w *Webhook) {
		w.authToken = provider
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(w *Webhook) {
		if client != nil {
			w.client = client
		}
	}
}

// NewWebhook creates a webhook notifier for the given endpoint URL.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:    url,
		client: &http.Client{Timeout: defaultWebhookTimeout},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Webhook) Send(ctx context.Context, destination, subject, body string) error {
	payload, err := json.Marshal(webhookPayload{
		Destination: destination,
		Subject:     subject,
		Body:        body,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if w.authHeader != "" {
		if name, value, ok := strings.Cut(w.authHeader, ":"); ok {
			req.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
		}
	}
	if w.authToken != nil {
		token, err := w.authToken(ctx)
		if err != nil {
			return fmt.Errorf("fetching webhook auth token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
