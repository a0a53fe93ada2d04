package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRetryPolicy(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		p, err := NewRetryPolicy(RetryPolicyOptions{Base: time.Second, MaxAttempts: 3})
		require.NoError(t, err)
		assert.Equal(t, 3, p.MaxAttempts())
	})

	t.Run("invalid base", func(t *testing.T) {
		p, err := NewRetryPolicy(RetryPolicyOptions{Base: 0})
		require.ErrorIs(t, err, ErrInvalidBase)
		assert.Nil(t, p)
	})

	t.Run("defaults applied", func(t *testing.T) {
		p, err := NewRetryPolicy(RetryPolicyOptions{Base: time.Second})
		require.NoError(t, err)
		assert.Equal(t, 5, p.MaxAttempts())
		assert.Equal(t, 2*time.Second, p.Delay(2))
	})
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := Default()

	t.Run("doubles per attempt", func(t *testing.T) {
		assert.Equal(t, 1*time.Second, p.Delay(1))
		assert.Equal(t, 2*time.Second, p.Delay(2))
		assert.Equal(t, 4*time.Second, p.Delay(3))
		assert.Equal(t, 8*time.Second, p.Delay(4))
		assert.Equal(t, 16*time.Second, p.Delay(5))
	})

	t.Run("caps at max delay", func(t *testing.T) {
		assert.Equal(t, 60*time.Second, p.Delay(7))
		assert.Equal(t, 60*time.Second, p.Delay(50))
	})

	t.Run("attempts below one clamp to the first retry", func(t *testing.T) {
		assert.Equal(t, 1*time.Second, p.Delay(0))
		assert.Equal(t, 1*time.Second, p.Delay(-3))
	})

	t.Run("huge attempt counts stay at the cap", func(t *testing.T) {
		assert.Equal(t, 60*time.Second, p.Delay(10_000))
	})
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	p, err := NewRetryPolicy(RetryPolicyOptions{Base: time.Second, MaxAttempts: 3})
	require.NoError(t, err)

	assert.False(t, p.Exhausted(2))
	assert.True(t, p.Exhausted(3))
	assert.True(t, p.Exhausted(4))
}
