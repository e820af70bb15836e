package scheduler

import (
	"sync"
	"time"
)

// Clock abstracts wall-clock time so periodic tasks can be driven by a
// virtual clock in tests.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker mirrors time.Ticker behind an interface.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) NewTicker(d time.Duration) Ticker {
	return &systemTicker{t: time.NewTicker(d)}
}

type systemTicker struct {
	t *time.Ticker
}

func (st *systemTicker) C() <-chan time.Time { return st.t.C }
func (st *systemTicker) Stop()               { st.t.Stop() }

// System returns the real wall-clock implementation.
func System() Clock { return systemClock{} }

// ManualClock is a controllable clock for tests. Advance moves time forward
// and fires any tickers whose interval has elapsed.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*manualTicker
}

// NewManualClock returns a manual clock starting at the given instant.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (mc *ManualClock) Now() time.Time {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.now
}

func (mc *ManualClock) NewTicker(d time.Duration) Ticker {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mt := &manualTicker{
		ch:       make(chan time.Time, 1),
		interval: d,
		next:     mc.now.Add(d),
	}
	mc.tickers = append(mc.tickers, mt)
	return mt
}

// Advance moves the clock forward, firing due tickers along the way.
func (mc *ManualClock) Advance(d time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.now = mc.now.Add(d)
	for _, mt := range mc.tickers {
		if mt.stopped {
			continue
		}
		for !mt.next.After(mc.now) {
			mt.next = mt.next.Add(mt.interval)
			select {
			case mt.ch <- mc.now:
			default: // tick dropped if receiver is behind, like time.Ticker
			}
		}
	}
}

type manualTicker struct {
	ch       chan time.Time
	interval time.Duration
	next     time.Time
	stopped  bool
}

func (mt *manualTicker) C() <-chan time.Time { return mt.ch }
func (mt *manualTicker) Stop()               { mt.stopped = true }
