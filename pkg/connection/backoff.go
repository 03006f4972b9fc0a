package connection

import (
	"math/rand"
	"sync"
	"time"
)

// Default retry policy values.
const (
	DefaultBaseDelay      = 1 * time.Second
	DefaultMaxDelay       = 30 * time.Second
	DefaultMultiplier     = 2.0
	DefaultMaxAttempts    = 8
	DefaultAttemptTimeout = 30 * time.Second
)

// RetryPolicy is the immutable reconnect configuration for one device.
type RetryPolicy struct {
	// BaseDelay is the delay before the second attempt; each further failure
	// multiplies it by Multiplier up to MaxDelay.
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration

	// MaxAttempts bounds reconnection; after that many failures the manager
	// enters Failed and stays there until Reset. 0 opts into unbounded retry
	// with the delay capped at MaxDelay.
	MaxAttempts int

	// AttemptTimeout bounds a single connect attempt.
	AttemptTimeout time.Duration

	// Jitter is the maximum random extension as a fraction of the base
	// delay. Zero keeps the delay sequence exact.
	Jitter float64

	// RetryOnReconnect retries an in-flight operation once after the
	// connection is re-established mid-execution. Off by default: failing
	// fast and letting the caller re-issue is the safer choice when the
	// device may have partially applied the command.
	RetryOnReconnect bool
}

// DefaultRetryPolicy returns the policy used when configuration is silent.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:      DefaultBaseDelay,
		Multiplier:     DefaultMultiplier,
		MaxDelay:       DefaultMaxDelay,
		MaxAttempts:    DefaultMaxAttempts,
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

// Backoff produces the exponential delay sequence for one reconnect cycle.
// For base=1s, multiplier=2, max=30s the sequence is 1, 2, 4, 8, 16, 30,
// 30, ... — non-decreasing and capped.
type Backoff struct {
	mu sync.Mutex

	current  time.Duration
	attempts int

	base       time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64
	rng        *rand.Rand
}

// NewBackoff creates a backoff calculator from a retry policy.
func NewBackoff(p RetryPolicy) *Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	max := p.MaxDelay
	if max <= 0 {
		max = DefaultMaxDelay
	}
	mult := p.Multiplier
	if mult <= 1 {
		mult = DefaultMultiplier
	}
	return &Backoff{
		current:    base,
		base:       base,
		max:        max,
		multiplier: mult,
		jitter:     p.Jitter,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the delay to wait before the next attempt and advances the
// sequence. It also counts the failed attempt.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.addJitter(b.current)

	b.attempts++
	next := time.Duration(float64(b.current) * b.multiplier)
	if next > b.max {
		next = b.max
	}
	b.current = next

	return delay
}

// Attempts returns the number of failed attempts since the last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Reset rewinds the sequence. Call after a successful connection.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.base
	b.attempts = 0
}

func (b *Backoff) addJitter(d time.Duration) time.Duration {
	if b.jitter <= 0 {
		return d
	}
	return d + time.Duration(float64(d)*b.jitter*b.rng.Float64())
}
