package conn

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy decides how long the supervisor waits before reopening a
// dropped connection.
type RetryPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// MaxAttempts bounds consecutive failed reconnects. Zero retries forever.
	MaxAttempts int
	// Jitter is the fraction of the delay randomly added or removed (0.2 = ±20%).
	Jitter float64
}

// DefaultRetryPolicy reconnects after 3s, doubling up to 30s, forever.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialDelay: 3 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
	}
}

// FixedRetryPolicy always waits delay and never gives up.
func FixedRetryPolicy(delay time.Duration) RetryPolicy {
	return RetryPolicy{InitialDelay: delay, MaxDelay: delay, Multiplier: 1}
}

// NewBackOff returns a fresh backoff for one connection session. NextBackOff
// yields backoff.Stop once MaxAttempts consecutive waits have been handed out;
// Reset starts the sequence over after a successful connect.
func (p RetryPolicy) NewBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialDelay
	exp.MaxInterval = p.MaxDelay
	if exp.MaxInterval <= 0 {
		exp.MaxInterval = backoff.DefaultMaxInterval
	}
	exp.Multiplier = p.Multiplier
	if exp.Multiplier < 1 {
		exp.Multiplier = 1
	}
	exp.RandomizationFactor = p.Jitter
	exp.Reset()
	return &boundedBackOff{exp: exp, max: p.MaxAttempts}
}

type boundedBackOff struct {
	exp  *backoff.ExponentialBackOff
	max  int
	used int
}

func (b *boundedBackOff) NextBackOff() time.Duration {
	if b.max > 0 && b.used >= b.max {
		return backoff.Stop
	}
	b.used++
	return b.exp.NextBackOff()
}

func (b *boundedBackOff) Reset() {
	b.used = 0
	b.exp.Reset()
}
