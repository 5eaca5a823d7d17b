// Package agent implements the healdash host agent.
// It periodically collects host metrics and reports them to the server data-plane (port 1616).
// Every outbound HTTP request carries: Authorization: Bearer <token>
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/vesaa/healdash/internal/config"
	"github.com/vesaa/healdash/internal/models"
)

// Version is reported with every agent report.
const Version = "v0.1.0"

const reportPath = "/api/monitoring/data"

// ErrUnauthorized means the server rejected the agent token.
var ErrUnauthorized = errors.New("server rejected token (401), check --token or agent_outbound_token in config")

// Agent reports host telemetry to one server.
type Agent struct {
	base      string
	token     string
	name      string
	interval  time.Duration
	collector *Collector
	client    *http.Client
	retryWait time.Duration
}

// New builds an Agent from config.
//
// cfg.AgentJoinAddr is the data-plane address, e.g. "192.168.1.1:1616".
// cfg.AgentOutboundToken is sent in every request as "Authorization: Bearer <token>".
func New(cfg *config.Config) *Agent {
	base := cfg.AgentJoinAddr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	interval := time.Duration(cfg.AgentInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Agent{
		base:      strings.TrimRight(base, "/"),
		token:     cfg.AgentOutboundToken,
		name:      cfg.AgentName,
		interval:  interval,
		collector: NewCollector(),
		client:    &http.Client{Timeout: 10 * time.Second},
		retryWait: time.Second,
	}
}

// Run reports immediately and then every interval until ctx is done.
// Only a rejected token stops it early.
func (a *Agent) Run(ctx context.Context) error {
	// Warmup: seed the throughput baseline before the first real report.
	_, _ = a.collector.Collect(ctx)

	slog.Info("agent started", "component", "agent", "server", a.base, "interval", a.interval)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		if err := a.Report(ctx); err != nil {
			if errors.Is(err, ErrUnauthorized) {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("report failed", "component", "agent", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Report collects one sample and sends it.
func (a *Agent) Report(ctx context.Context) error {
	r, err := a.collector.Collect(ctx)
	if err != nil {
		return fmt.Errorf("collect: %w", err)
	}
	if a.name != "" {
		r.Hostname = a.name
	}
	r.AgentVersion = Version
	return a.Send(ctx, r)
}

// Send POSTs r to the data plane, retrying transient failures.
func (a *Agent) Send(ctx context.Context, r models.AgentReport) error {
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}
	op := func() (struct{}, error) {
		return struct{}{}, a.post(ctx, body)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.retryWait
	_, err = backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(3))
	return err
}

// post sends body with the Bearer token in the Authorization header.
func (a *Agent) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+reportPath, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return backoff.Permanent(ErrUnauthorized)
	case resp.StatusCode >= 500:
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	case resp.StatusCode >= 400:
		return backoff.Permanent(fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg)))
	}
	return nil
}
