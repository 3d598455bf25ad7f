package conn

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
)

func TestRetryPolicy_FixedDelayNeverGivesUp(t *testing.T) {
	b := FixedRetryPolicy(3 * time.Second).NewBackOff()

	for attempt := 0; attempt < 1000; attempt++ {
		if d := b.NextBackOff(); d != 3*time.Second {
			t.Fatalf("attempt %d: expected 3s, got %v", attempt, d)
		}
	}
}

func TestRetryPolicy_ExponentialIsCapped(t *testing.T) {
	b := DefaultRetryPolicy().NewBackOff()

	want := []time.Duration{3 * time.Second, 6 * time.Second, 12 * time.Second, 24 * time.Second, 30 * time.Second, 30 * time.Second}
	for attempt, w := range want {
		if d := b.NextBackOff(); d != w {
			t.Errorf("attempt %d: expected %v, got %v", attempt, w, d)
		}
	}

	b.Reset()
	if d := b.NextBackOff(); d != 3*time.Second {
		t.Fatalf("expected reset to restart at 3s, got %v", d)
	}
}

func TestRetryPolicy_MaxAttempts(t *testing.T) {
	p := RetryPolicy{InitialDelay: time.Millisecond, MaxDelay: time.Second, Multiplier: 2, MaxAttempts: 2}
	b := p.NewBackOff()

	for i := 0; i < 2; i++ {
		if d := b.NextBackOff(); d == backoff.Stop {
			t.Fatalf("attempt %d: unexpected give up", i)
		}
	}
	if d := b.NextBackOff(); d != backoff.Stop {
		t.Fatalf("expected policy to give up after two attempts, got %v", d)
	}

	b.Reset()
	if d := b.NextBackOff(); d == backoff.Stop {
		t.Fatal("reset must restore the attempt budget")
	}
}

func TestRetryPolicy_JitterStaysInBounds(t *testing.T) {
	p := RetryPolicy{InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 1, Jitter: 0.2}
	b := p.NewBackOff()

	for i := 0; i < 100; i++ {
		d := b.NextBackOff()
		if d < 800*time.Millisecond || d > 1200*time.Millisecond {
			t.Fatalf("delay %v outside ±20%% of 1s", d)
		}
	}
}
