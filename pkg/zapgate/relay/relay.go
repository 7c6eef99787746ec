// Package relay forwards message events observed on the socket to the host
// application's webhook. Delivery is fire-and-forget: a failure is logged
// and dropped, never retried inline and never surfaced to the socket loop.
// The host applies its own idempotency on top of the relay's dedup window.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/jholhewres/zapgate/pkg/zapgate/config"
	"github.com/jholhewres/zapgate/pkg/zapgate/session"
)

// incomingPath is the host endpoint receiving relayed messages.
const incomingPath = "/api/messaging/incoming"

// payload is the webhook body. Timestamp is protocol time in unix seconds.
type payload struct {
	Phone     string `json:"phone"`
	Message   string `json:"message"`
	Direction string `json:"direction"`
	Timestamp int64  `json:"timestamp"`
}

// Stats are cumulative delivery counters, reset daily.
type Stats struct {
	Delivered  int64 `json:"delivered"`
	Failed     int64 `json:"failed"`
	Suppressed int64 `json:"suppressed"`
}

// Relay consumes the session manager's event channel and posts each event
// to the host webhook.
type Relay struct {
	cfg    config.WebhookConfig
	logger *slog.Logger
	client *http.Client
	dedup  *Deduper
	cron   *cron.Cron

	delivered  atomic.Int64
	failed     atomic.Int64
	suppressed atomic.Int64
}

// New creates a relay targeting cfg.BaseURL.
func New(cfg config.WebhookConfig, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	return &Relay{
		cfg:    cfg,
		logger: logger.With("component", "relay"),
		client: &http.Client{Timeout: cfg.Timeout},
		dedup:  NewDeduper(cfg.DedupWindow),
		cron:   cron.New(),
	}
}

// Run consumes events until the channel closes or the context ends.
// Blocking; callers run it in its own goroutine.
func (r *Relay) Run(ctx context.Context, events <-chan session.MessageEvent) {
	// Housekeeping: purge the dedup map and roll the daily counters.
	_, _ = r.cron.AddFunc("@every 1m", r.dedup.Purge)
	_, _ = r.cron.AddFunc("@daily", r.resetStats)
	r.cron.Start()
	defer r.cron.Stop()

	r.logger.Info("relay started",
		"target", r.cfg.BaseURL+incomingPath, "timeout", r.cfg.Timeout)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return
		case evt, ok := <-events:
			if !ok {
				r.logger.Info("relay stopped, event channel closed")
				return
			}
			r.handle(ctx, evt)
		}
	}
}

// Stats returns the delivery counters since the last daily reset.
func (r *Relay) Stats() Stats {
	return Stats{
		Delivered:  r.delivered.Load(),
		Failed:     r.failed.Load(),
		Suppressed: r.suppressed.Load(),
	}
}

func (r *Relay) resetStats() {
	r.delivered.Store(0)
	r.failed.Store(0)
	r.suppressed.Store(0)
}

func (r *Relay) handle(ctx context.Context, evt session.MessageEvent) {
	if r.dedup.Duplicate(evt.Phone, evt.Text) {
		r.suppressed.Add(1)
		r.logger.Debug("relay: duplicate event suppressed",
			"phone", evt.Phone, "direction", evt.Direction)
		return
	}

	if err := r.deliver(ctx, evt); err != nil {
		r.failed.Add(1)
		r.logger.Warn("relay: delivery to host failed",
			"phone", evt.Phone, "direction", evt.Direction, "error", err)
		return
	}
	r.delivered.Add(1)
}

// deliver POSTs one event to the host webhook with a bounded timeout.
func (r *Relay) deliver(ctx context.Context, evt session.MessageEvent) error {
	body, err := json.Marshal(payload{
		Phone:     evt.Phone,
		Message:   evt.Text,
		Direction: string(evt.Direction),
		Timestamp: evt.Timestamp.Unix(),
	})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	url := strings.TrimRight(r.cfg.BaseURL, "/") + incomingPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Zapgate-Delivery", uuid.NewString())
	if r.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.AuthToken)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("host returned status %d", resp.StatusCode)
	}
	return nil
}
