package cache

import (
	"sync"
	"time"
)

// throttleFactor stretches the sweep interval while the host reports itself
// backgrounded, so an idle instance does not burn CPU on a foreground rhythm.
const throttleFactor = 3

// cleanupScheduler drives the periodic expired-entry sweep. It has two live
// states, active and throttled, and a terminal stopped state; stop is
// idempotent and no sweep fires after it returns.
type cleanupScheduler struct {
	mu        sync.Mutex
	base      time.Duration
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopped   bool
	throttled bool
	sweep     func()
}

func newCleanupScheduler(interval time.Duration, sweep func()) *cleanupScheduler {
	s := &cleanupScheduler{
		base:   interval,
		ticker: time.NewTicker(interval),
		stopCh: make(chan struct{}),
		sweep:  sweep,
	}
	go s.run()
	return s
}

func (s *cleanupScheduler) run() {
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.ticker.C:
			s.sweep()
		}
	}
}

// throttle switches to the backgrounded rhythm
func (s *cleanupScheduler) throttle() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.throttled {
		return
	}
	s.throttled = true
	s.ticker.Reset(s.base * throttleFactor)
}

// resume switches back to the foreground rhythm
func (s *cleanupScheduler) resume() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || !s.throttled {
		return
	}
	s.throttled = false
	s.ticker.Reset(s.base)
}

// stop cancels the scheduler. Terminal: a stopped scheduler cannot restart.
func (s *cleanupScheduler) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.ticker.Stop()
}
