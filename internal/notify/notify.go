// Package notify calls external automation webhooks (n8n and the like).
// Calls are bounded by a per-attempt timeout and retried with exponential
// backoff; callers treat the outcome as informational.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/vesaa/healdash/internal/config"
)

// ErrNoURL is returned when asked to call an empty URL.
var ErrNoURL = errors.New("notify: webhook url not configured")

// Payload is the body POSTed when a workflow starts.
type Payload struct {
	ServiceName   string        `json:"serviceName"`
	DisplayName   string        `json:"displayName"`
	Status        string        `json:"status"`
	ErrorLogs     string        `json:"errorLogs"`
	SystemMetrics SystemMetrics `json:"systemMetrics"`
	Timestamp     time.Time     `json:"timestamp"`
}

// SystemMetrics is the gauge snapshot inside Payload.
type SystemMetrics struct {
	CPU    float64 `json:"cpu"`
	Memory float64 `json:"memory"`
	Uptime int64   `json:"uptime"`
}

// Notifier delivers a workflow payload to url.
type Notifier interface {
	Notify(ctx context.Context, url string, p Payload) error
}

// StatusError is a non-2xx webhook response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook responded %d %s", e.Code, http.StatusText(e.Code))
}

// AttemptFunc observes every attempt; err is nil on success.
type AttemptFunc func(attempt int, err error)

// WebhookNotifier is the HTTP Notifier.
type WebhookNotifier struct {
	client         *http.Client
	maxAttempts    int
	initialBackoff time.Duration
}

// NewWebhookNotifier builds a notifier from the notify config section.
func NewWebhookNotifier(cfg config.NotifyConfig) *WebhookNotifier {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &WebhookNotifier{
		client:         &http.Client{Timeout: cfg.Timeout},
		maxAttempts:    attempts,
		initialBackoff: cfg.InitialBackoff,
	}
}

// Notify POSTs p as JSON to url.
func (n *WebhookNotifier) Notify(ctx context.Context, url string, p Payload) error {
	if url == "" {
		return ErrNoURL
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}
	return n.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, func(attempt int, err error) {
		if err != nil {
			slog.Warn("webhook attempt failed", "component", "notify", "url", url, "attempt", attempt, "error", err)
		}
	})
}

// Trigger GETs url, reporting each attempt to observe (which may be nil).
// It backs the per-service start/stop/trigger webhooks.
func (n *WebhookNotifier) Trigger(ctx context.Context, url string, observe AttemptFunc) error {
	if url == "" {
		return ErrNoURL
	}
	return n.do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}, observe)
}

// MaxAttempts reports the configured attempt limit.
func (n *WebhookNotifier) MaxAttempts() int { return n.maxAttempts }

func (n *WebhookNotifier) do(ctx context.Context, build func(context.Context) (*http.Request, error), observe AttemptFunc) error {
	attempt := 0
	op := func() (struct{}, error) {
		attempt++
		req, err := build(ctx)
		if err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("building webhook request: %w", err))
		}
		err = n.send(req)
		if observe != nil {
			observe(attempt, err)
		}
		var se *StatusError
		if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 && se.Code != http.StatusRequestTimeout && se.Code != http.StatusTooManyRequests {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = n.initialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(n.maxAttempts)),
	)
	if err != nil {
		return fmt.Errorf("webhook failed after %d attempt(s): %w", attempt, err)
	}
	return nil
}

func (n *WebhookNotifier) send(req *http.Request) error {
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}
