package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	published []string
	failWith  error
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, _ []byte) error {
	if p.failWith != nil {
		return p.failWith
	}
	p.published = append(p.published, routingKey)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func seedMessage(t *testing.T, repo Repository, routingKey string) *Message {
	t.Helper()
	msg, err := NewMessage(newStubEvent(routingKey))
	require.NoError(t, err)
	require.NoError(t, repo.Save(context.Background(), msg))
	return msg
}

func TestProcessor_ProcessOnce(t *testing.T) {
	t.Run("publishes pending messages and marks them", func(t *testing.T) {
		repo := NewInMemoryRepository()
		pub := &recordingPublisher{}
		proc := NewProcessor(repo, pub, DefaultProcessorConfig(), nil)

		seedMessage(t, repo, "subscription.renewed")
		seedMessage(t, repo, "subscription.expired")

		require.NoError(t, proc.ProcessOnce(context.Background()))

		assert.Equal(t, []string{"subscription.renewed", "subscription.expired"}, pub.published)
		for _, msg := range repo.All() {
			assert.True(t, msg.IsPublished())
		}

		stats := proc.GetStats()
		assert.Equal(t, uint64(2), stats.PublishedCount)
	})

	t.Run("schedules retry with backoff on publish failure", func(t *testing.T) {
		repo := NewInMemoryRepository()
		pub := &recordingPublisher{failWith: errors.New("broker down")}
		proc := NewProcessor(repo, pub, DefaultProcessorConfig(), nil)

		msg := seedMessage(t, repo, "subscription.renewed")

		require.NoError(t, proc.ProcessOnce(context.Background()))

		assert.False(t, msg.IsPublished())
		assert.Equal(t, 1, msg.RetryCount)
		require.NotNil(t, msg.NextRetryAt)
		assert.True(t, msg.NextRetryAt.After(time.Now()))
		require.NotNil(t, msg.LastError)
		assert.Equal(t, "broker down", *msg.LastError)
	})

	t.Run("dead-letters after max retries", func(t *testing.T) {
		repo := NewInMemoryRepository()
		pub := &recordingPublisher{failWith: errors.New("broker down")}
		cfg := DefaultProcessorConfig()
		cfg.MaxRetries = 2
		proc := NewProcessor(repo, pub, cfg, nil)

		msg := seedMessage(t, repo, "subscription.renewed")
		msg.RetryCount = 1

		require.NoError(t, proc.ProcessOnce(context.Background()))

		assert.NotNil(t, msg.DeadLetteredAt)
		require.NotNil(t, msg.DeadLetterReason)
		assert.Equal(t, "broker down", *msg.DeadLetterReason)

		stats := proc.GetStats()
		assert.Equal(t, uint64(1), stats.DeadCount)
	})

	t.Run("skips messages waiting for their retry window", func(t *testing.T) {
		repo := NewInMemoryRepository()
		pub := &recordingPublisher{}
		proc := NewProcessor(repo, pub, DefaultProcessorConfig(), nil)

		msg := seedMessage(t, repo, "subscription.renewed")
		future := time.Now().Add(time.Hour)
		msg.NextRetryAt = &future

		require.NoError(t, proc.ProcessOnce(context.Background()))

		assert.Empty(t, pub.published)
		assert.False(t, msg.IsPublished())
	})
}

func TestProcessor_StartStop(t *testing.T) {
	repo := NewInMemoryRepository()
	pub := &recordingPublisher{}
	cfg := DefaultProcessorConfig()
	cfg.PollInterval = 10 * time.Millisecond
	proc := NewProcessor(repo, pub, cfg, nil)

	require.NoError(t, proc.Start(context.Background()))
	assert.True(t, proc.IsRunning())

	proc.Stop()
	assert.False(t, proc.IsRunning())
}

func TestProcessor_RetryBackoff(t *testing.T) {
	proc := NewProcessor(NewInMemoryRepository(), &recordingPublisher{}, DefaultProcessorConfig(), nil)

	assert.Equal(t, 1*time.Second, proc.retryBackoff(1))
	assert.Equal(t, 2*time.Second, proc.retryBackoff(2))
	assert.Equal(t, 4*time.Second, proc.retryBackoff(3))
	assert.Equal(t, 1*time.Minute, proc.retryBackoff(10))
}
