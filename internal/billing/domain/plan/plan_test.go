package plan

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settlr/settlr/internal/billing/domain/subscription"
)

func validParams() NewParams {
	return NewParams{
		MerchantID:    uuid.New(),
		Name:          "Pro Monthly",
		Amount:        25_000_000,
		Interval:      subscription.IntervalMonthly,
		IntervalCount: 1,
		TrialDays:     7,
	}
}

func TestNewPlan(t *testing.T) {
	p, err := New(validParams())
	require.NoError(t, err)

	assert.Equal(t, "Pro Monthly", p.Name())
	assert.Equal(t, int64(25_000_000), p.Amount())
	assert.Equal(t, "USDC", p.Currency())
	assert.Equal(t, 7, p.TrialDays())
	assert.True(t, p.IsActive())
	assert.NoError(t, p.EnsureSubscribable())
}

func TestNewPlanValidation(t *testing.T) {
	params := validParams()
	params.Name = ""
	_, err := New(params)
	assert.Error(t, err)

	params = validParams()
	params.Amount = -1
	_, err = New(params)
	assert.Error(t, err)

	params = validParams()
	params.Interval = "hourly"
	_, err = New(params)
	assert.ErrorIs(t, err, subscription.ErrInvalidInterval)

	params = validParams()
	params.TrialDays = -1
	_, err = New(params)
	assert.Error(t, err)
}

func TestDeactivateBlocksSubscribes(t *testing.T) {
	p, err := New(validParams())
	require.NoError(t, err)

	p.Deactivate()
	assert.False(t, p.IsActive())
	assert.ErrorIs(t, p.EnsureSubscribable(), ErrInactive)

	p.Activate()
	assert.NoError(t, p.EnsureSubscribable())
}

func TestRehydrate(t *testing.T) {
	id := uuid.New()
	now := time.Now().UTC()

	p := Rehydrate(RehydrateParams{
		ID:            id,
		MerchantID:    uuid.New(),
		Name:          "Basic",
		Amount:        5_000_000,
		Currency:      "USDC",
		Interval:      subscription.IntervalWeekly,
		IntervalCount: 2,
		Active:        false,
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       3,
	})

	assert.Equal(t, id, p.ID())
	assert.Equal(t, 3, p.Version())
	assert.False(t, p.IsActive())
	assert.Equal(t, subscription.IntervalWeekly, p.Interval())
	assert.Equal(t, 2, p.IntervalCount())
}
