package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// WebhookPayload is the JSON body posted for a failure.
type WebhookPayload struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Failure   Failure   `json:"failure"`
}

// WebhookNotifier posts failures as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	url        string
	client     *http.Client
	headers    map[string]string
	retryCount uint64
	retryDelay time.Duration
	logger     *slog.Logger
}

// WebhookOption configures a WebhookNotifier.
type WebhookOption func(*WebhookNotifier)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *WebhookNotifier) { w.client = c }
}

// WithHeader adds a request header.
func WithHeader(key, value string) WebhookOption {
	return func(w *WebhookNotifier) { w.headers[key] = value }
}

// WithRetry sets how often and how far apart failed deliveries are retried.
func WithRetry(count uint64, delay time.Duration) WebhookOption {
	return func(w *WebhookNotifier) {
		w.retryCount = count
		w.retryDelay = delay
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) WebhookOption {
	return func(w *WebhookNotifier) { w.logger = l }
}

// NewWebhookNotifier creates a notifier posting to url.
func NewWebhookNotifier(url string, opts ...WebhookOption) *WebhookNotifier {
	w := &WebhookNotifier{
		url:        url,
		client:     &http.Client{Timeout: 30 * time.Second},
		headers:    map[string]string{"Content-Type": "application/json"},
		retryCount: 3,
		retryDelay: time.Second,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.retryDelay <= 0 {
		w.retryDelay = time.Millisecond
	}
	return w
}

// Notify posts f. Network errors and 5xx responses are retried.
func (w *WebhookNotifier) Notify(ctx context.Context, f Failure) error {
	body, err := json.Marshal(WebhookPayload{
		Event:     "stage_failed",
		Timestamp: time.Now().UTC(),
		Failure:   f,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	backoff := retry.WithMaxRetries(w.retryCount, retry.NewConstant(w.retryDelay))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		return w.send(ctx, body)
	})
	if err != nil {
		return fmt.Errorf("webhook delivery to %s failed: %w", w.url, err)
	}

	w.logger.Debug("webhook delivered", slog.String("stage", f.Stage), slog.String("run_id", f.RunID))
	return nil
}

func (w *WebhookNotifier) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return retry.RetryableError(err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 500:
		return retry.RetryableError(fmt.Errorf("webhook returned status %d", resp.StatusCode))
	case resp.StatusCode >= 300:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
