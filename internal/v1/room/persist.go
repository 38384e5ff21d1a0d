package room

import (
	"sync"
	"time"
)

const (
	// defaultFlushDelay is how long after the first unflushed change the
	// document is written to the store. Changes inside the window coalesce
	// into one write.
	defaultFlushDelay = 1200 * time.Millisecond

	// defaultRetryDelay is the wait before retrying a failed flush.
	defaultRetryDelay = 600 * time.Millisecond

	// persistTimeout bounds a single store write.
	persistTimeout = 10 * time.Second
)

// persistScheduler coalesces document changes into debounced store writes.
// At most one flush runs at a time; changes arriving mid-flush fold into
// the next one, and a failed flush reschedules itself.
type persistScheduler struct {
	mu        sync.Mutex
	cond      *sync.Cond
	timer     *time.Timer
	inFlight  bool
	requested bool
	closed    bool

	flushDelay time.Duration
	retryDelay time.Duration
	flushFn    func() error
}

func newPersistScheduler(flushDelay, retryDelay time.Duration, flushFn func() error) *persistScheduler {
	s := &persistScheduler{
		flushDelay: flushDelay,
		retryDelay: retryDelay,
		flushFn:    flushFn,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Schedule requests a flush once the debounce window elapses. The window
// opens at the first change of a burst, not the last, so a steady stream
// of edits still persists every flushDelay.
func (s *persistScheduler) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if s.inFlight {
		s.requested = true
		return
	}
	if s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(s.flushDelay, s.fire)
}

func (s *persistScheduler) fire() {
	s.mu.Lock()
	s.timer = nil
	if s.closed || s.inFlight {
		s.mu.Unlock()
		return
	}
	s.inFlight = true
	s.requested = false
	s.mu.Unlock()

	err := s.flushFn()

	s.mu.Lock()
	s.inFlight = false
	pending := s.requested
	s.requested = false
	// Changes that arrived mid-flight and failed writes both re-arm on the
	// shorter cadence: the debounce already happened.
	if !s.closed && (err != nil || pending) {
		s.timer = time.AfterFunc(s.retryDelay, s.fire)
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

// FinalFlush stops the scheduler, waits out any in-flight flush, and runs
// one last synchronous flush. Safe to call more than once; later calls
// wait for the first to finish.
func (s *persistScheduler) FinalFlush() {
	s.mu.Lock()
	if s.closed {
		for s.inFlight {
			s.cond.Wait()
		}
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	for s.inFlight {
		s.cond.Wait()
	}
	s.inFlight = true
	s.mu.Unlock()

	// Best effort: teardown proceeds even if the store is down.
	_ = s.flushFn()

	s.mu.Lock()
	s.inFlight = false
	s.cond.Broadcast()
	s.mu.Unlock()
}
