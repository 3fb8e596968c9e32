// Package clock is the daemon's time source. Code that waits on a period
// takes a Clock so tests can drive its tickers by hand.
package clock

import (
	"sync"
	"time"
)

// Clock reads the time and creates tickers.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers ticks on C until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real is the wall clock.
type Real struct{}

func (Real) Now() time.Time                  { return time.Now() }
func (Real) Since(t time.Time) time.Duration { return time.Since(t) }

func (Real) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// Mock is a manually advanced clock. Its tickers fire only from Advance.
type Mock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*mockTicker
}

// NewMock returns a Mock reading t.
func NewMock(t time.Time) *Mock {
	return &Mock{now: t}
}

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Mock) Since(t time.Time) time.Duration {
	return m.Now().Sub(t)
}

// Set moves the clock to t without firing tickers.
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// Advance moves the clock forward by d and fires every ticker whose next
// tick falls in the elapsed span. A ticker that is not drained drops
// ticks, as time.Ticker does.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	for _, t := range m.tickers {
		if m.now.Before(t.next) {
			continue
		}
		for !m.now.Before(t.next) {
			t.next = t.next.Add(t.period)
		}
		select {
		case t.c <- m.now:
		default:
		}
	}
}

// NewTicker registers a ticker that fires every d of advanced time.
func (m *Mock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker period")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &mockTicker{mock: m, period: d, next: m.now.Add(d), c: make(chan time.Time, 1)}
	m.tickers = append(m.tickers, t)
	return t
}

// Tickers returns the number of live tickers.
func (m *Mock) Tickers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tickers)
}

type mockTicker struct {
	mock   *Mock
	period time.Duration
	next   time.Time
	c      chan time.Time
}

func (t *mockTicker) C() <-chan time.Time { return t.c }

func (t *mockTicker) Stop() {
	m := t.mock
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, other := range m.tickers {
		if other == t {
			m.tickers = append(m.tickers[:i], m.tickers[i+1:]...)
			return
		}
	}
}

var (
	defaultMu sync.RWMutex
	def       Clock = Real{}
)

// SetDefault replaces the package clock and returns a func restoring the
// previous one.
func SetDefault(c Clock) (restore func()) {
	defaultMu.Lock()
	prev := def
	def = c
	defaultMu.Unlock()
	return func() {
		defaultMu.Lock()
		def = prev
		defaultMu.Unlock()
	}
}

// Default returns the package clock.
func Default() Clock {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return def
}

// Now reads the package clock.
func Now() time.Time { return Default().Now() }

// Since reads the package clock.
func Since(t time.Time) time.Duration { return Default().Since(t) }
