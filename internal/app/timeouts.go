package app

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// TimeoutScheduler keeps at most one pending question timeout per room.
type TimeoutScheduler struct {
	clock clock.Clock
	after time.Duration
	fire  func(roomID string, questionIndex int)

	mu     sync.Mutex
	seq    uint64
	timers map[string]pendingTimeout
}

type pendingTimeout struct {
	timer *clock.Timer
	gen   uint64
}

// NewTimeoutScheduler calls fire with the armed question once `after` has elapsed
// since the latest Arm for that room.
func NewTimeoutScheduler(clk clock.Clock, after time.Duration, fire func(roomID string, questionIndex int)) *TimeoutScheduler {
	return &TimeoutScheduler{
		clock:  clk,
		after:  after,
		fire:   fire,
		timers: make(map[string]pendingTimeout),
	}
}

// Arm starts the countdown for a room's live question, replacing any countdown already running.
func (s *TimeoutScheduler) Arm(roomID string, questionIndex int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[roomID]; ok {
		existing.timer.Stop()
	}
	s.seq++
	gen := s.seq
	timer := s.clock.AfterFunc(s.after, func() {
		s.expire(roomID, questionIndex, gen)
	})
	s.timers[roomID] = pendingTimeout{timer: timer, gen: gen}
}

// Cancel stops the room's countdown. Cancelling an idle room is a no-op.
func (s *TimeoutScheduler) Cancel(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[roomID]; ok {
		existing.timer.Stop()
		delete(s.timers, roomID)
	}
}

// Pending reports whether a countdown is armed for the room.
func (s *TimeoutScheduler) Pending(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[roomID]
	return ok
}

// Stop cancels every pending countdown.
func (s *TimeoutScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for roomID, pending := range s.timers {
		pending.timer.Stop()
		delete(s.timers, roomID)
	}
}

func (s *TimeoutScheduler) expire(roomID string, questionIndex int, gen uint64) {
	s.mu.Lock()
	current, ok := s.timers[roomID]
	if !ok || current.gen != gen {
		// replaced or cancelled while this timer was firing
		s.mu.Unlock()
		return
	}
	delete(s.timers, roomID)
	s.mu.Unlock()

	s.fire(roomID, questionIndex)
}
