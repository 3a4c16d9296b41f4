// Package orders is the HTTP client for the ordering service's rollover
// endpoint, called once per rollover after the financial phase.
package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/warp/finance-ledger/finance"
)

const rolloverPath = "/orders/rollover"

// Config configures the client and its circuit breaker.
type Config struct {
	BaseURL string

	// ConsecutiveFailures trips the breaker open.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
	// RequestTimeout bounds a single HTTP call.
	RequestTimeout time.Duration
}

// Client posts rollovers to the ordering service. Calls are never retried:
// a failed call is reported and the rollover is re-run by the caller.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "orders-rollover",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// RolloverOrders implements finance.OrdersRollover.
func (c *Client) RolloverOrders(ctx context.Context, r finance.LedgerFiscalYearRollover) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding rollover: %w", err)
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.post(ctx, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.logger.Warn("ordering service unavailable, rollover call rejected",
			zap.String("ledgerRolloverId", r.ID))
		return fmt.Errorf("ordering service is unavailable (circuit breaker open): %w", err)
	}
	return err
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+rolloverPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building orders rollover request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling ordering service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
}

// StatusError is returned when the ordering service answers with a non-2xx
// status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ordering service returned %d", e.StatusCode)
	}
	return fmt.Sprintf("ordering service returned %d: %s", e.StatusCode, e.Body)
}
