// Package webhook forwards audit events to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"tradepost/internal/domain"
)

type Client struct {
	webhookURL string
	httpClient *http.Client

	maxRetries int
	retryBase  time.Duration
	retryMax   time.Duration
}

func NewClient(webhookURL string, timeout time.Duration, maxRetries int, retryBase, retryMax time.Duration) *Client {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if retryBase <= 0 {
		retryBase = 100 * time.Millisecond
	}
	if retryMax < retryBase {
		retryMax = retryBase
	}
	return &Client{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		retryBase:  retryBase,
		retryMax:   retryMax,
	}
}

// Publish posts the event, retrying server errors and transport failures
// with exponential backoff. Client errors (4xx) are not retried.
func (c *Client) Publish(ctx context.Context, event domain.Event) error {
	if c.webhookURL == "" {
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "publish cancelled")
			case <-time.After(c.backoff(attempt)):
			}
		}
		retry, err := c.post(ctx, event, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return errors.Wrapf(lastErr, "publish event %s", event.ID)
}

func (c *Client) post(ctx context.Context, event domain.Event, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-ID", event.ID)
	req.Header.Set("X-Event-Type", string(event.Type))
	req.Header.Set("X-Idempotency-Key", event.ID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return true, nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	err = errors.Errorf("webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests, err
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.retryBase << (attempt - 1)
	if d <= 0 || d > c.retryMax {
		return c.retryMax
	}
	return d
}
