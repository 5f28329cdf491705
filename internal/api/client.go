// Package api pushes rework notifications to an external webhook.
package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const userAgent = "prodflow/1.0"

// Client posts JSON notifications to a webhook endpoint
type Client struct {
	url   string
	token string
	http  *resty.Client
}

// NewClient creates a webhook client. An empty token disables the
// Authorization header.
func NewClient(url, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := &Client{
		url:   strings.TrimRight(url, "/"),
		token: token,
	}

	client.http = resty.New().
		SetHeader("User-Agent", userAgent).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// Retry on 429 (Too Many Requests) and 5xx server errors
			return r.StatusCode() == 429 || (r.StatusCode() >= 500 && r.StatusCode() <= 504)
		})
	if token != "" {
		client.http.SetAuthToken(token)
	}

	return client
}

// SetRetryWait shortens the backoff between retries.
func (c *Client) SetRetryWait(wait, max time.Duration) {
	c.http.SetRetryWaitTime(wait).SetRetryMaxWaitTime(max)
}

// URL returns the configured endpoint
func (c *Client) URL() string {
	return c.url
}

// PostNotification delivers one payload. Any non-2xx response after retries
// is an error.
func (c *Client) PostNotification(ctx context.Context, payload interface{}) error {
	if c.url == "" {
		return fmt.Errorf("notification webhook URL is not configured")
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(c.url)
	if err != nil {
		return fmt.Errorf("failed to post notification: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("webhook returned HTTP %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}
