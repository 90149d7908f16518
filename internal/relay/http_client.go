package relay

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

	"github.com/sony/gobreaker/v2"
)

// HTTPClientConfig configures the relay HTTP client.
type HTTPClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// MaxRequests is the number of probe requests allowed while half-open.
	MaxRequests uint32
	// Interval is the cyclic period of the closed state.
	Interval time.Duration
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// FailureThreshold trips the breaker after this many consecutive
	// transport failures. Declines do not count; the relay answered.
	FailureThreshold uint32
}

// DefaultHTTPClientConfig returns the client defaults.
func DefaultHTTPClientConfig(baseURL, apiKey string) HTTPClientConfig {
	return HTTPClientConfig{
		BaseURL:          baseURL,
		APIKey:           apiKey,
		Timeout:          30 * time.Second,
		MaxRequests:      3,
		Interval:         10 * time.Second,
		OpenTimeout:      30 * time.Second,
		FailureThreshold: 5,
	}
}

// HTTPClient is the production relay client. All calls run through a
// circuit breaker so a dead relay fails fast instead of stalling the sweep.
type HTTPClient struct {
	config  HTTPClientConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*ChargeResult]
	logger  *slog.Logger
}

// NewHTTPClient creates a relay client.
func NewHTTPClient(config HTTPClientConfig, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}

	settings := gobreaker.Settings{
		Name:        "relay",
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("relay circuit breaker state changed",
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// A decline or a miss is a healthy relay giving a definitive
			// answer. Only transport failures count against the breaker.
			return err == nil || IsDeclined(err) || errors.Is(err, ErrChargeNotFound)
		},
	}

	return &HTTPClient{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		breaker: gobreaker.NewCircuitBreaker[*ChargeResult](settings),
		logger:  logger,
	}
}

// Charge submits a transfer through the relay.
func (c *HTTPClient) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	result, err := c.breaker.Execute(func() (*ChargeResult, error) {
		return c.doCharge(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrUnavailable
	}
	return result, err
}

func (c *HTTPClient) doCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding charge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/v1/charges", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building charge request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	return c.decodeChargeResponse(resp)
}

// GetCharge looks up a submitted charge by reference.
func (c *HTTPClient) GetCharge(ctx context.Context, reference string) (*ChargeResult, error) {
	result, err := c.breaker.Execute(func() (*ChargeResult, error) {
		return c.doGetCharge(ctx, reference)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrUnavailable
	}
	return result, err
}

func (c *HTTPClient) doGetCharge(ctx context.Context, reference string) (*ChargeResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/v1/charges/"+reference, nil)
	if err != nil {
		return nil, fmt.Errorf("building lookup request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrChargeNotFound
	}
	return c.decodeChargeResponse(resp)
}

// Ping checks the relay health endpoint.
func (c *HTTPClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health returned %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("X-API-Key", c.config.APIKey)
	}
}

func (c *HTTPClient) decodeChargeResponse(resp *http.Response) (*ChargeResult, error) {
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var result ChargeResult
		if err := json.Unmarshal(payload, &result); err != nil {
			return nil, fmt.Errorf("%w: decoding response: %v", ErrUnavailable, err)
		}
		if result.Status == StatusFailed {
			return nil, &DeclinedError{Reason: result.Reason}
		}
		return &result, nil

	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnprocessableEntity:
		var result ChargeResult
		if err := json.Unmarshal(payload, &result); err != nil || result.Reason == "" {
			return nil, &DeclinedError{Reason: string(payload)}
		}
		return nil, &DeclinedError{Reason: result.Reason}

	default:
		return nil, fmt.Errorf("%w: relay returned %d", ErrUnavailable, resp.StatusCode)
	}
}
