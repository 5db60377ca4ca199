package scan

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimerSchedulerFires(t *testing.T) {
	s := NewTimerScheduler()
	fired := make(chan struct{})
	s.ScheduleNext(5*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("callback did not fire")
	}
}

func TestTimerSchedulerCancel(t *testing.T) {
	s := NewTimerScheduler()
	var n atomic.Int32
	cancel := s.ScheduleNext(20*time.Millisecond, func() { n.Add(1) })
	cancel()
	cancel()

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, n.Load())
}

func TestTimerSchedulerParksWhileHidden(t *testing.T) {
	s := NewTimerScheduler()
	s.SetVisible(false)
	assert.False(t, s.Visible())

	var n atomic.Int32
	s.ScheduleNext(0, func() { n.Add(1) })
	cancelled := s.ScheduleNext(0, func() { n.Add(10) })

	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, n.Load())

	cancelled()
	s.SetVisible(true)
	assert.Eventually(t, func() bool { return n.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, n.Load())
}
