package escalation

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"frontdesk/internal/clock"
)

var epoch = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type recorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *recorder) fn(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

func (r *recorder) fired() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func TestArmFiresOnce(t *testing.T) {
	c := clock.Fake(epoch)
	s := NewScheduler(c, nil)
	rec := &recorder{}

	require.True(t, s.Arm("req-1", 5*time.Minute, rec.fn))
	require.True(t, s.Armed("req-1"))

	c.Advance(4 * time.Minute)
	require.Empty(t, rec.fired())

	c.Advance(time.Minute)
	require.Equal(t, []string{"req-1"}, rec.fired())
	require.False(t, s.Armed("req-1"))

	c.Advance(time.Hour)
	require.Equal(t, []string{"req-1"}, rec.fired())
}

func TestCancelIsIdempotent(t *testing.T) {
	c := clock.Fake(epoch)
	s := NewScheduler(c, nil)
	rec := &recorder{}

	s.Arm("req-1", time.Minute, rec.fn)
	s.Cancel("req-1")
	s.Cancel("req-1")
	s.Cancel("never-armed")
	c.Advance(time.Hour)
	require.Empty(t, rec.fired())
	require.Zero(t, s.Pending())

	s.Arm("req-2", time.Second, rec.fn)
	c.Advance(time.Second)
	s.Cancel("req-2")
	require.Equal(t, []string{"req-2"}, rec.fired())
}

func TestRearmReplacesTimer(t *testing.T) {
	c := clock.Fake(epoch)
	s := NewScheduler(c, nil)
	rec := &recorder{}

	s.Arm("req-1", time.Minute, rec.fn)
	s.Arm("req-1", 10*time.Minute, rec.fn)
	require.Equal(t, 1, s.Pending())

	c.Advance(time.Minute)
	require.Empty(t, rec.fired())
	c.Advance(9 * time.Minute)
	require.Equal(t, []string{"req-1"}, rec.fired())
}

func TestZeroDelayFiresImmediately(t *testing.T) {
	c := clock.Fake(epoch)
	s := NewScheduler(c, nil)
	rec := &recorder{}

	s.Arm("overdue", 0, rec.fn)
	require.Equal(t, []string{"overdue"}, rec.fired())
	require.Zero(t, s.Pending())
}

func TestStopCancelsAndRejectsNewTimers(t *testing.T) {
	c := clock.Fake(epoch)
	s := NewScheduler(c, nil)
	rec := &recorder{}

	s.Arm("a", time.Minute, rec.fn)
	s.Arm("b", time.Minute, rec.fn)
	s.Stop()
	require.False(t, s.Arm("c", time.Minute, rec.fn))
	c.Advance(time.Hour)
	require.Empty(t, rec.fired())
}

func TestStopWaitsForInflightCallback(t *testing.T) {
	s := NewScheduler(clock.Real(), nil)
	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool

	s.Arm("slow", time.Millisecond, func(string) {
		close(started)
		<-release
		finished.Store(true)
	})
	<-started

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatalf("Stop returned while callback was running")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	<-stopped
	require.True(t, finished.Load())
}

func TestCallbackPanicIsContained(t *testing.T) {
	c := clock.Fake(epoch)
	s := NewScheduler(c, nil)
	rec := &recorder{}
	s.Arm("boom", time.Second, func(string) { panic("store exploded") })
	s.Arm("ok", 2*time.Second, rec.fn)
	c.Advance(2 * time.Second)
	require.Equal(t, []string{"ok"}, rec.fired())
}

func TestRealClockFires(t *testing.T) {
	s := NewScheduler(clock.Real(), nil)
	defer s.Stop()
	rec := &recorder{}
	s.Arm("req", 10*time.Millisecond, rec.fn)
	require.Eventually(t, func() bool { return len(rec.fired()) == 1 }, time.Second, 5*time.Millisecond)
}
