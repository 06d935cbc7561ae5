package nfc

import (
	"sync"
	"time"
)

// Clock provides an abstraction over time operations to enable testing
// without real time delays.
type Clock interface {
	Now() time.Time

	// NewTicker creates a ticker that sends on its channel every d.
	NewTicker(d time.Duration) Ticker
}

// Ticker is an interface for time.Ticker to enable testing
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock implements Clock using actual time operations
type RealClock struct{}

// NewRealClock creates a new RealClock
func NewRealClock() Clock {
	return RealClock{}
}

func (RealClock) Now() time.Time {
	return time.Now()
}

func (RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

type realTicker struct {
	ticker *time.Ticker
}

func (rt *realTicker) C() <-chan time.Time {
	return rt.ticker.C
}

func (rt *realTicker) Stop() {
	rt.ticker.Stop()
}

// FakeClock implements Clock for testing with controllable time
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

// NewFakeClock creates a new FakeClock starting at the given time
func NewFakeClock(startTime time.Time) *FakeClock {
	return &FakeClock{now: startTime}
}

func (fc *FakeClock) Now() time.Time {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.now
}

func (fc *FakeClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("nfc: non-positive interval for NewTicker")
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	ft := &fakeTicker{
		interval: d,
		next:     fc.now.Add(d),
		c:        make(chan time.Time, 1),
	}
	fc.tickers = append(fc.tickers, ft)
	return ft
}

// Advance moves the fake clock forward by the given duration and fires every
// ticker whose next tick has been reached. A ticker that is not drained drops
// ticks, like time.Ticker.
func (fc *FakeClock) Advance(d time.Duration) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.now = fc.now.Add(d)

	for _, ticker := range fc.tickers {
		ticker.mu.Lock()
		if !ticker.stopped && !fc.now.Before(ticker.next) {
			for !fc.now.Before(ticker.next) {
				ticker.next = ticker.next.Add(ticker.interval)
			}
			select {
			case ticker.c <- fc.now:
			default:
			}
		}
		ticker.mu.Unlock()
	}
}

type fakeTicker struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
	c        chan time.Time
	stopped  bool
}

func (ft *fakeTicker) C() <-chan time.Time {
	return ft.c
}

func (ft *fakeTicker) Stop() {
	ft.mu.Lock()
	ft.stopped = true
	ft.mu.Unlock()
}
