package quiz

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualTicker struct {
	c       chan time.Time
	stopped atomic.Bool
}

func (m *manualTicker) C() <-chan time.Time { return m.c }
func (m *manualTicker) Stop()               { m.stopped.Store(true) }

// manualClock hands out tickers that only fire when tick is called.
type manualClock struct {
	mu      sync.Mutex
	tickers []*manualTicker
}

func (m *manualClock) NewTicker(time.Duration) Ticker {
	m.mu.Lock()
	defer m.mu.Unlock()
	tk := &manualTicker{c: make(chan time.Time, 128)}
	m.tickers = append(m.tickers, tk)
	return tk
}

func (m *manualClock) latest() *manualTicker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.tickers) == 0 {
		return nil
	}
	return m.tickers[len(m.tickers)-1]
}

func (m *manualClock) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tickers)
}

func (m *manualClock) tick(n int) {
	tk := m.latest()
	for i := 0; i < n; i++ {
		tk.c <- time.Now()
	}
}

func TestTimer_CountsDownAndExpiresOnce(t *testing.T) {
	clock := &manualClock{}
	var mu sync.Mutex
	var ticks []int
	expired := make(chan struct{}, 2)

	timer := StartTimer(3, time.Second, clock.NewTicker,
		func(_ *Timer, remaining int) {
			mu.Lock()
			ticks = append(ticks, remaining)
			mu.Unlock()
		},
		func(*Timer) { expired <- struct{}{} },
	)
	clock.tick(5)

	select {
	case <-expired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not expire")
	}
	<-timer.Done()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{2, 1}, ticks)
	assert.Empty(t, expired, "expiry must fire exactly once")
	assert.True(t, clock.latest().stopped.Load())
}

func TestTimer_StopSuppressesCallbacks(t *testing.T) {
	clock := &manualClock{}
	var calls atomic.Int32

	timer := StartTimer(2, time.Second, clock.NewTicker,
		func(*Timer, int) { calls.Add(1) },
		func(*Timer) { calls.Add(1) },
	)
	timer.Stop()
	timer.Stop()
	<-timer.Done()
	clock.tick(3)

	time.Sleep(20 * time.Millisecond)
	require.Zero(t, calls.Load())
	require.True(t, clock.latest().stopped.Load())
}

func TestTimer_NilStopIsSafe(t *testing.T) {
	var timer *Timer
	timer.Stop()
}
