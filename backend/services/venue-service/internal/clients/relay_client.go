package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"cuehall/backend/libs/httpclient"
)

const (
	defaultRelayTimeout = 1500 * time.Millisecond
	defaultMockDelay    = 80 * time.Millisecond
)

// RelayConfig configures the light controller client.
type RelayConfig struct {
	BaseURL   string
	Timeout   time.Duration
	Mock      bool
	MockDelay time.Duration
	// RatePerSecond bounds calls to the controller; zero disables the limit.
	RatePerSecond float64
}

// RelayClient switches table lights on the relay controller.
type RelayClient struct {
	base      *httpclient.Client
	timeout   time.Duration
	mock      bool
	mockDelay time.Duration
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// NewRelayClient returns client wrapper. doer may be nil.
func NewRelayClient(cfg RelayConfig, doer httpclient.Doer, logger *zap.Logger) *RelayClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRelayTimeout
	}
	if cfg.MockDelay <= 0 {
		cfg.MockDelay = defaultMockDelay
	}
	c := &RelayClient{
		base:      httpclient.New(cfg.BaseURL, doer, cfg.Timeout),
		timeout:   cfg.Timeout,
		mock:      cfg.Mock || cfg.BaseURL == "",
		mockDelay: cfg.MockDelay,
		logger:    logger,
	}
	if cfg.RatePerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 4)
	}
	return c
}

// Switch turns channel on or off.
func (c *RelayClient) Switch(ctx context.Context, channel int, on bool) error {
	state := "off"
	if on {
		state = "on"
	}

	if c.mock {
		c.logger.Debug("relay mock switch", zap.Int("channel", channel), zap.String("state", state))
		select {
		case <-time.After(c.mockDelay):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("relay: rate limit: %w", err)
		}
	}

	query := url.Values{}
	query.Set("num", strconv.Itoa(channel))
	query.Set("state", state)
	status, body, err := c.base.Do(ctx, http.MethodGet, "/relay?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("relay: controller returned %d: %s", status, truncate(body, 128))
	}
	return nil
}

func truncate(body []byte, n int) string {
	if len(body) > n {
		return string(body[:n])
	}
	return string(body)
}
