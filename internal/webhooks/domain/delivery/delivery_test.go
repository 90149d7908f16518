package delivery

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newDelivery(t *testing.T) *Delivery {
	t.Helper()
	d, err := New(uuid.New(), uuid.New(), "subscription.renewed", []byte(`{"id":"x"}`), now)
	require.NoError(t, err)
	return d
}

func TestNewDeliveryIsDueImmediately(t *testing.T) {
	d := newDelivery(t)

	assert.Equal(t, StatusPending, d.Status())
	assert.Zero(t, d.AttemptCount())
	assert.True(t, d.Due(now))
	assert.False(t, d.Due(now.Add(-time.Second)))
}

func TestRecordSuccess(t *testing.T) {
	d := newDelivery(t)

	require.NoError(t, d.RecordSuccess(now))

	assert.Equal(t, StatusDelivered, d.Status())
	assert.Equal(t, 1, d.AttemptCount())
	require.NotNil(t, d.DeliveredAt())
	assert.Nil(t, d.NextAttemptAt())
	assert.ErrorIs(t, d.RecordSuccess(now), ErrNotPending)
}

func TestRetryScheduleBacksOff(t *testing.T) {
	d := newDelivery(t)

	expected := []time.Duration{
		5 * time.Second,
		30 * time.Second,
		2 * time.Minute,
		10 * time.Minute,
	}
	for i, delay := range expected {
		require.NoError(t, d.RecordFailure(now, "connection refused", DefaultMaxAttempts))
		assert.Equal(t, i+1, d.AttemptCount())
		assert.Equal(t, StatusPending, d.Status())
		require.NotNil(t, d.NextAttemptAt())
		assert.Equal(t, now.Add(delay), *d.NextAttemptAt())
		assert.False(t, d.Due(now))
		assert.True(t, d.Due(now.Add(delay)))
	}
}

func TestDeadLetterAfterMaxAttempts(t *testing.T) {
	d := newDelivery(t)

	for i := 0; i < DefaultMaxAttempts; i++ {
		require.NoError(t, d.RecordFailure(now, "boom", DefaultMaxAttempts))
	}

	assert.Equal(t, StatusDead, d.Status())
	assert.Equal(t, DefaultMaxAttempts, d.AttemptCount())
	require.NotNil(t, d.DeadLetteredAt())
	assert.Nil(t, d.NextAttemptAt())
	assert.Equal(t, "boom", d.LastError())
	assert.ErrorIs(t, d.RecordFailure(now, "boom", DefaultMaxAttempts), ErrNotPending)
}

func TestAbandonDeadLettersImmediately(t *testing.T) {
	d := newDelivery(t)

	require.NoError(t, d.Abandon(now, "webhook no longer configured"))

	assert.Equal(t, StatusDead, d.Status())
	assert.Zero(t, d.AttemptCount())
	require.NotNil(t, d.DeadLetteredAt())
}

func TestRetryDelayClampsToLastStep(t *testing.T) {
	assert.Equal(t, time.Duration(0), RetryDelay(0))
	assert.Equal(t, 5*time.Second, RetryDelay(1))
	assert.Equal(t, 10*time.Minute, RetryDelay(4))
	assert.Equal(t, 10*time.Minute, RetryDelay(40))
}

func TestRehydrateRoundtrip(t *testing.T) {
	d := newDelivery(t)
	require.NoError(t, d.RecordFailure(now, "timeout", DefaultMaxAttempts))

	restored := Rehydrate(RehydrateParams{
		ID:            d.ID(),
		MerchantID:    d.MerchantID(),
		EventID:       d.EventID(),
		EventType:     d.EventType(),
		Payload:       d.Payload(),
		Status:        d.Status(),
		AttemptCount:  d.AttemptCount(),
		NextAttemptAt: d.NextAttemptAt(),
		LastError:     d.LastError(),
		CreatedAt:     d.CreatedAt(),
		UpdatedAt:     d.UpdatedAt(),
	})

	assert.Equal(t, d.ID(), restored.ID())
	assert.Equal(t, 1, restored.AttemptCount())
	assert.Equal(t, "timeout", restored.LastError())
	assert.True(t, restored.Due(now.Add(5*time.Second)))
}
