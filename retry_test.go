package transfersaga

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyTable(t *testing.T) {
	table := DefaultPolicyTable()

	// Key-ordered by the underlying btree.
	assert.Equal(t, []Category{
		CategoryAccountMutation,
		CategoryNotification,
		CategoryPersistence,
		CategoryValidation,
	}, table.Categories())

	validation, err := table.Get(CategoryValidation)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, validation.InitialInterval)
	assert.Equal(t, 5*time.Minute, validation.MaximumInterval)
	assert.Equal(t, 20, validation.MaximumAttempts)
	assert.Contains(t, validation.NonRetryableTags, "validation failed")

	account, err := table.Get(CategoryAccountMutation)
	require.NoError(t, err)
	assert.Equal(t, time.Second, account.InitialInterval)
	assert.Equal(t, 15, account.MaximumAttempts)

	_, err = table.Get(Category("bogus"))
	require.Error(t, err)
}

func TestPolicyValidate(t *testing.T) {
	base := RetryPolicy{
		Category:           CategoryValidation,
		InitialInterval:    time.Second,
		MaximumInterval:    time.Minute,
		BackoffCoefficient: 2.0,
		MaximumAttempts:    3,
	}
	require.NoError(t, base.Validate())

	bad := base
	bad.InitialInterval = 0
	assert.Error(t, bad.Validate())

	bad = base
	bad.MaximumInterval = time.Millisecond
	assert.Error(t, bad.Validate())

	bad = base
	bad.BackoffCoefficient = 0.5
	assert.Error(t, bad.Validate())

	bad = base
	bad.MaximumAttempts = 0
	assert.Error(t, bad.Validate())
}

func TestPolicyBackoffProgression(t *testing.T) {
	p := RetryPolicy{
		Category:           CategoryAccountMutation,
		InitialInterval:    time.Second,
		MaximumInterval:    10 * time.Second,
		BackoffCoefficient: 2.0,
		MaximumAttempts:    10,
	}

	assert.Equal(t, time.Second, p.backoff(1))
	assert.Equal(t, 2*time.Second, p.backoff(2))
	assert.Equal(t, 4*time.Second, p.backoff(3))
	assert.Equal(t, 8*time.Second, p.backoff(4))
	// Capped at the maximum interval from here on.
	assert.Equal(t, 10*time.Second, p.backoff(5))
	assert.Equal(t, 10*time.Second, p.backoff(9))
}

func TestPolicyBackoffFlat(t *testing.T) {
	p := RetryPolicy{
		Category:           CategoryNotification,
		InitialInterval:    500 * time.Millisecond,
		MaximumInterval:    time.Minute,
		BackoffCoefficient: 1.0,
		MaximumAttempts:    5,
	}
	assert.Equal(t, 500*time.Millisecond, p.backoff(1))
	assert.Equal(t, 500*time.Millisecond, p.backoff(4))
}

func TestPolicyNonRetryableTags(t *testing.T) {
	p := RetryPolicy{
		Category:         CategoryValidation,
		NonRetryableTags: []string{"fraud check"},
	}
	assert.True(t, p.nonRetryable(errors.New("Fraud Check rejected the transfer")))
	assert.False(t, p.nonRetryable(errors.New("timeout")))
	assert.False(t, p.nonRetryable(nil))
}

func TestPolicyTableSetRejectsInvalid(t *testing.T) {
	table := NewPolicyTable()
	err := table.Set(RetryPolicy{Category: CategoryValidation})
	require.Error(t, err)
	assert.Empty(t, table.Categories())
}
