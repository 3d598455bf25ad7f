package quiz

import (
	"sync"
	"time"
)

// Ticker is the tick source of a Timer.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc creates a Ticker firing every d.
type TickerFunc func(d time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// NewRealTicker wraps time.NewTicker.
func NewRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Timer counts a question down once per tick. It delivers onTick for every
// remaining value above zero, then onExpire once, then stops itself.
// Callbacks run on the timer goroutine and receive the timer so the owner
// can tell whether it still holds it.
type Timer struct {
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// StartTimer starts a countdown of seconds ticks.
func StartTimer(seconds int, interval time.Duration, newTicker TickerFunc, onTick func(t *Timer, remaining int), onExpire func(t *Timer)) *Timer {
	if newTicker == nil {
		newTicker = NewRealTicker
	}
	t := &Timer{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	tk := newTicker(interval)
	go func() {
		defer close(t.done)
		defer tk.Stop()
		remaining := seconds
		for {
			select {
			case <-t.stop:
				return
			case <-tk.C():
			}
			// Stop may race with a tick already received.
			select {
			case <-t.stop:
				return
			default:
			}
			remaining--
			if remaining <= 0 {
				onExpire(t)
				return
			}
			onTick(t, remaining)
		}
	}()
	return t
}

// Stop halts the countdown. It does not wait for a callback in progress, so
// it is safe to call while holding a lock that callback needs.
func (t *Timer) Stop() {
	if t == nil {
		return
	}
	t.stopOnce.Do(func() { close(t.stop) })
}

// Done is closed once the timer goroutine has exited.
func (t *Timer) Done() <-chan struct{} {
	return t.done
}
