package sender

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSender() *HTTPSender {
	config := DefaultConfig()
	config.Timeout = 2 * time.Second
	config.FailureThreshold = 3
	return NewHTTPSender(config, nil)
}

func TestSendSignsPayload(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"subscription.renewed"}`)

	var gotSignature, gotEvent string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get(HeaderSignature)
		gotEvent = r.Header.Get(HeaderEvent)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := testSender().Send(context.Background(), server.URL, "whsec_test", "subscription.renewed", payload)
	require.NoError(t, err)

	assert.Equal(t, payload, gotBody)
	assert.Equal(t, "subscription.renewed", gotEvent)
	assert.Equal(t, Sign("whsec_test", payload), gotSignature)
	assert.True(t, Verify("whsec_test", gotBody, gotSignature))
	assert.False(t, Verify("wrong-secret", gotBody, gotSignature))
}

func TestSendRejectsNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := testSender().Send(context.Background(), server.URL, "s", "subscription.expired", []byte(`{}`))
	assert.ErrorContains(t, err, "500")
}

func TestBreakerOpensPerEndpoint(t *testing.T) {
	var healthyCalls atomic.Int64
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		healthyCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	deadURL := dead.URL
	dead.Close()

	s := testSender()
	for i := 0; i < 3; i++ {
		err := s.Send(context.Background(), deadURL, "s", "subscription.renewed", []byte(`{}`))
		require.Error(t, err)
	}

	err := s.Send(context.Background(), deadURL, "s", "subscription.renewed", []byte(`{}`))
	assert.ErrorIs(t, err, ErrEndpointUnavailable)

	// The dead endpoint's open breaker does not affect other hosts.
	err = s.Send(context.Background(), healthy.URL, "s", "subscription.renewed", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), healthyCalls.Load())
}

func TestSendInvalidEndpoint(t *testing.T) {
	err := testSender().Send(context.Background(), "not a url", "s", "subscription.renewed", []byte(`{}`))
	assert.Error(t, err)
}
