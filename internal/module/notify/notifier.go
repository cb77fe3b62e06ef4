// Package notify delivers registration events to an external tracking
// webhook. Delivery is fire-and-forget: it runs off the request path and
// failures are logged, never propagated.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/motionlabs/meterd/internal/module/ledger"
)

// Config holds notifier configuration.
type Config struct {
	WebhookURL string
	Timeout    time.Duration
}

// Notifier POSTs registration events as JSON to the configured webhook.
// Outbound calls go through a circuit breaker so a dead sink doesn't tie
// up connections for every registration.
type Notifier struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *zap.Logger
}

// New creates a notifier. Returns nil when no webhook URL is configured;
// a nil Notifier is a valid no-op sink.
func New(cfg Config, logger *zap.Logger) *Notifier {
	if cfg.WebhookURL == "" {
		return nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "tracking-webhook",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Notifier{
		url:     cfg.WebhookURL,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
		logger:  logger,
	}
}

var _ ledger.Notifier = (*Notifier)(nil)

// RegistrationCreated delivers the event asynchronously. The caller's
// context is not reused: registration must not be cancelled or delayed by
// the sink.
func (n *Notifier) RegistrationCreated(_ context.Context, event ledger.RegistrationEvent) {
	if n == nil {
		return
	}
	go n.deliver(event)
}

func (n *Notifier) deliver(event ledger.RegistrationEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), n.client.Timeout)
	defer cancel()

	_, err := n.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, n.post(ctx, event)
	})
	if err != nil {
		n.logger.Warn("registration notification failed",
			zap.String("account_id", event.AccountID),
			zap.Error(err),
		)
		return
	}

	n.logger.Debug("registration notification delivered",
		zap.String("account_id", event.AccountID),
	)
}

func (n *Notifier) post(ctx context.Context, event ledger.RegistrationEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sink returned %d", resp.StatusCode)
	}
	return nil
}
