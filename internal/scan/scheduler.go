package scan

import (
	"sync"
	"sync/atomic"
	"time"
)

// CancelFunc cancels a scheduled callback. Calling it more than once is harmless.
type CancelFunc func()

// Scheduler runs fn once after delay.
type Scheduler interface {
	ScheduleNext(delay time.Duration, fn func()) CancelFunc
}

// TimerScheduler schedules on time.AfterFunc. While hidden, due callbacks are parked and
// run when the view becomes visible again.
type TimerScheduler struct {
	mu      sync.Mutex
	visible bool
	nextID  uint64
	parked  map[uint64]func()
}

func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{visible: true, parked: make(map[uint64]func())}
}

func (s *TimerScheduler) ScheduleNext(delay time.Duration, fn func()) CancelFunc {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.mu.Unlock()

	var cancelled atomic.Bool
	run := func() {
		if !cancelled.Load() {
			fn()
		}
	}
	t := time.AfterFunc(delay, func() {
		if cancelled.Load() {
			return
		}
		s.mu.Lock()
		if !s.visible {
			s.parked[id] = run
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		run()
	})
	return func() {
		cancelled.Store(true)
		t.Stop()
		s.mu.Lock()
		delete(s.parked, id)
		s.mu.Unlock()
	}
}

// SetVisible pauses or resumes callback delivery.
func (s *TimerScheduler) SetVisible(visible bool) {
	s.mu.Lock()
	s.visible = visible
	var due []func()
	if visible {
		for id, fn := range s.parked {
			due = append(due, fn)
			delete(s.parked, id)
		}
	}
	s.mu.Unlock()
	for _, fn := range due {
		go fn()
	}
}

// Visible reports whether callbacks are being delivered.
func (s *TimerScheduler) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}
