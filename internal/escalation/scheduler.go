// Package escalation holds the in-process timers that move a pending help
// request to unresolved once its deadline passes.
//
// The scheduler is only a trigger. Whether a fire actually changes anything
// is decided by the store's conditional update, so a cancel that loses the
// race against a fire is harmless.
package escalation

import (
	"log/slog"
	"sync"
	"time"

	"frontdesk/internal/clock"
)

// Func is invoked with the request id when its timer fires.
type Func func(requestID string)

type entry struct {
	timer     *clock.Timer
	cancelled bool
}

// Scheduler maps request ids to armed timers.
type Scheduler struct {
	clock  clock.Clock
	logger *slog.Logger

	mu       sync.Mutex
	timers   map[string]*entry
	closed   bool
	inflight sync.WaitGroup
}

func NewScheduler(c clock.Clock, logger *slog.Logger) *Scheduler {
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		clock:  c,
		logger: logger,
		timers: make(map[string]*entry),
	}
}

// Arm schedules fn(requestID) after delay, replacing any timer already
// armed for the id. It returns false once the scheduler is stopped.
func (s *Scheduler) Arm(requestID string, delay time.Duration, fn Func) bool {
	e := &entry{}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if old := s.timers[requestID]; old != nil {
		s.cancelLocked(old)
	}
	s.timers[requestID] = e
	s.mu.Unlock()

	// AfterFunc may run the callback before returning (zero delay on a fake
	// clock), so it must be called without s.mu held.
	t := s.clock.AfterFunc(delay, func() { s.fire(requestID, e, fn) })

	s.mu.Lock()
	e.timer = t
	if e.cancelled {
		t.Stop()
	}
	s.mu.Unlock()
	return true
}

// Cancel stops the timer for requestID. Cancelling an unknown, fired or
// already cancelled id is a no-op.
func (s *Scheduler) Cancel(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.timers[requestID]; e != nil {
		delete(s.timers, requestID)
		s.cancelLocked(e)
	}
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Armed reports whether a timer is currently armed for requestID.
func (s *Scheduler) Armed(requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[requestID]
	return ok
}

// Stop cancels every armed timer and waits for callbacks already running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.closed = true
	for id, e := range s.timers {
		delete(s.timers, id)
		s.cancelLocked(e)
	}
	s.mu.Unlock()
	s.inflight.Wait()
}

func (s *Scheduler) cancelLocked(e *entry) {
	e.cancelled = true
	if e.timer != nil {
		e.timer.Stop()
	}
}

func (s *Scheduler) fire(requestID string, e *entry, fn Func) {
	s.mu.Lock()
	if s.timers[requestID] == e {
		delete(s.timers, requestID)
	}
	if e.cancelled || s.closed {
		s.mu.Unlock()
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	defer s.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("escalation callback panicked", "request_id", requestID, "panic", r)
		}
	}()
	fn(requestID)
}
