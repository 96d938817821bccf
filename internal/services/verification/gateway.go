package verification

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/phambaophuc/brushset-converter/internal/config"
	"go.uber.org/zap"
)

var (
	ErrMissingOrderID     = errors.New("order id is required")
	ErrOrderNotFound      = errors.New("order not found")
	ErrVerificationFailed = errors.New("order verification failed")
	ErrUnreachable        = errors.New("order verification service unreachable")
)

const (
	StatusHealthy       = "healthy"
	StatusDisabled      = "disabled"
	StatusNotConfigured = "not configured"
)

// Gateway checks that an order id belongs to a real purchase.
type Gateway interface {
	Verify(ctx context.Context, orderID string) error
	Enabled() bool
	HealthCheck(ctx context.Context) string
}

// New returns the marketplace client, or a pass-through gateway when
// verification is switched off.
func New(cfg config.MarketplaceConfig, logger *zap.Logger) Gateway {
	if !cfg.VerifyOrders {
		return Disabled{}
	}
	return NewEtsyClient(cfg, &http.Client{Timeout: cfg.VerifyTimeout}, logger)
}

type Disabled struct{}

func (Disabled) Verify(context.Context, string) error { return nil }

func (Disabled) Enabled() bool { return false }

func (Disabled) HealthCheck(context.Context) string { return StatusDisabled }

type EtsyClient struct {
	client  *http.Client
	baseURL string
	apiKey  string
	shopID  string
	timeout time.Duration
	logger  *zap.Logger
}

func NewEtsyClient(cfg config.MarketplaceConfig, client *http.Client, logger *zap.Logger) *EtsyClient {
	return &EtsyClient{
		client:  client,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		shopID:  cfg.ShopID,
		timeout: cfg.VerifyTimeout,
		logger:  logger,
	}
}

func (c *EtsyClient) Enabled() bool { return true }

// Verify looks the order up as a shop receipt. A 404 means the order does not
// exist; any other non-2xx answer, or no answer before the timeout, fails.
func (c *EtsyClient) Verify(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return ErrMissingOrderID
	}
	if c.apiKey == "" || c.shopID == "" {
		return fmt.Errorf("%w: marketplace credentials are not configured", ErrVerificationFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/shops/%s/receipts/%s", c.baseURL, url.PathEscape(c.shopID), url.PathEscape(orderID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %v", ErrVerificationFailed, err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("Order verification request failed",
			zap.String("order_id", orderID),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	c.logger.Info("Order verification completed",
		zap.String("order_id", orderID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrOrderNotFound
	default:
		return fmt.Errorf("%w: marketplace answered with status %d", ErrVerificationFailed, resp.StatusCode)
	}
}

func (c *EtsyClient) HealthCheck(ctx context.Context) string {
	if c.apiKey == "" || c.shopID == "" {
		return StatusNotConfigured
	}
	return StatusHealthy
}
