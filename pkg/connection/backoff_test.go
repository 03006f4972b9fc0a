package connection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffSequence(t *testing.T) {
	b := NewBackoff(RetryPolicy{
		BaseDelay:  1 * time.Second,
		Multiplier: 2.0,
		MaxDelay:   30 * time.Second,
	})

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, d := range want {
		assert.Equal(t, d, b.Next(), "delay %d", i+1)
	}
	assert.Equal(t, len(want), b.Attempts())
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoff(RetryPolicy{BaseDelay: time.Second, Multiplier: 2, MaxDelay: 30 * time.Second})

	b.Next()
	b.Next()
	assert.Equal(t, 2, b.Attempts())

	b.Reset()
	assert.Equal(t, 0, b.Attempts())
	assert.Equal(t, time.Second, b.Next(), "sequence rewinds to base")
}

func TestBackoffDefaultsOnZeroPolicy(t *testing.T) {
	b := NewBackoff(RetryPolicy{})
	assert.Equal(t, DefaultBaseDelay, b.Next())
}

func TestBackoffJitterExtendsDelay(t *testing.T) {
	b := NewBackoff(RetryPolicy{
		BaseDelay:  100 * time.Millisecond,
		Multiplier: 2,
		MaxDelay:   time.Second,
		Jitter:     0.5,
	})

	for i := 0; i < 20; i++ {
		b.Reset()
		d := b.Next()
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 1*time.Second, p.BaseDelay)
	assert.Equal(t, 30*time.Second, p.MaxDelay)
	assert.Equal(t, 8, p.MaxAttempts)
	assert.False(t, p.RetryOnReconnect)
}
