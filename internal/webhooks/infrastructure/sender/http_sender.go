package sender

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrEndpointUnavailable is returned when an endpoint's circuit breaker is
// open or the request could not be sent.
var ErrEndpointUnavailable = errors.New("webhook endpoint unavailable")

// Config configures the webhook HTTP sender.
type Config struct {
	Timeout time.Duration

	// MaxRequests is the number of probe requests allowed while half-open.
	MaxRequests uint32
	// OpenTimeout is how long an endpoint's breaker stays open.
	OpenTimeout time.Duration
	// FailureThreshold trips an endpoint's breaker after this many
	// consecutive failures.
	FailureThreshold uint32
}

// DefaultConfig returns the sender defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:          10 * time.Second,
		MaxRequests:      1,
		OpenTimeout:      time.Minute,
		FailureThreshold: 5,
	}
}

// HTTPSender posts signed payloads to merchant endpoints. Each endpoint host
// gets its own circuit breaker so one dead merchant cannot block deliveries
// to the others.
type HTTPSender struct {
	config Config
	client *http.Client
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

// NewHTTPSender creates a webhook sender.
func NewHTTPSender(config Config, logger *slog.Logger) *HTTPSender {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}

	return &HTTPSender{
		config:   config,
		client:   &http.Client{Timeout: config.Timeout},
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

// Send posts the payload to the endpoint with the event type and HMAC
// signature headers. Any non-2xx response is a failure.
func (s *HTTPSender) Send(ctx context.Context, endpoint, secret, eventType string, payload []byte) error {
	breaker, err := s.breakerFor(endpoint)
	if err != nil {
		return err
	}

	_, err = breaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.post(ctx, endpoint, secret, eventType, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: circuit open for %s", ErrEndpointUnavailable, endpoint)
	}
	return err
}

func (s *HTTPSender) post(ctx context.Context, endpoint, secret, eventType string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, eventType)
	req.Header.Set(HeaderSignature, Sign(secret, payload))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEndpointUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (s *HTTPSender) breakerFor(endpoint string) (*gobreaker.CircuitBreaker[struct{}], error) {
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid webhook endpoint %q", endpoint)
	}
	host := parsed.Host

	s.mu.Lock()
	defer s.mu.Unlock()

	if breaker, ok := s.breakers[host]; ok {
		return breaker, nil
	}

	settings := gobreaker.Settings{
		Name:        "webhook:" + host,
		MaxRequests: s.config.MaxRequests,
		Timeout:     s.config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.config.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("webhook circuit breaker state changed",
				"endpoint", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}
	breaker := gobreaker.NewCircuitBreaker[struct{}](settings)
	s.breakers[host] = breaker
	return breaker, nil
}
