package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu    sync.Mutex
	scans []string
}

func (r *recorder) scan(ctx context.Context, uri string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scans = append(r.scans, uri)
}

func (r *recorder) count(uri string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, u := range r.scans {
		if u == uri {
			n++
		}
	}
	return n
}

func testConfig() Config {
	return Config{DefaultDelay: 40 * time.Millisecond, VisibleDelay: 5 * time.Millisecond}
}

func TestScheduleFiresOnceAfterDelay(t *testing.T) {
	rec := &recorder{}
	s := New(testConfig(), rec.scan)
	defer s.Stop()

	s.Trigger("a", TriggerChange)
	assert.Equal(t, Pending, s.State("a"))
	assert.Equal(t, 0, rec.count("a"))

	require.Eventually(t, func() bool { return rec.count("a") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Idle, s.State("a"))
}

func TestRetriggerReplacesPendingScan(t *testing.T) {
	rec := &recorder{}
	s := New(testConfig(), rec.scan)
	defer s.Stop()

	for i := 0; i < 5; i++ {
		s.Trigger("a", TriggerChange)
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return rec.count("a") == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, rec.count("a"))
}

func TestDocumentsAreIndependent(t *testing.T) {
	rec := &recorder{}
	s := New(testConfig(), rec.scan)
	defer s.Stop()

	s.Trigger("a", TriggerChange)
	s.Trigger("b", TriggerChange)
	s.Trigger("a", TriggerChange)

	require.Eventually(t, func() bool {
		return rec.count("a") == 1 && rec.count("b") == 1
	}, time.Second, 5*time.Millisecond)
}

func TestVisibleRangeUsesShorterDelay(t *testing.T) {
	s := New(testConfig(), func(context.Context, string) {})
	defer s.Stop()

	assert.Equal(t, 5*time.Millisecond, s.Delay(TriggerVisibleRange))
	assert.Equal(t, 40*time.Millisecond, s.Delay(TriggerOpen))
	assert.Equal(t, 40*time.Millisecond, s.Delay(TriggerActiveEditor))
	assert.Equal(t, 40*time.Millisecond, s.Delay(TriggerVisibleEditors))
	assert.Equal(t, 40*time.Millisecond, s.Delay(TriggerWorkspace))
}

func TestTriggerAll(t *testing.T) {
	rec := &recorder{}
	s := New(testConfig(), rec.scan)
	defer s.Stop()

	s.TriggerAll([]string{"a", "b", "c"}, TriggerWorkspace)

	require.Eventually(t, func() bool {
		return rec.count("a") == 1 && rec.count("b") == 1 && rec.count("c") == 1
	}, time.Second, 5*time.Millisecond)
}

func TestCancel(t *testing.T) {
	rec := &recorder{}
	s := New(testConfig(), rec.scan)
	defer s.Stop()

	s.Trigger("a", TriggerChange)
	s.Cancel("a")
	assert.Equal(t, Idle, s.State("a"))

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 0, rec.count("a"))
}

func TestScansOfOneDocumentNeverOverlap(t *testing.T) {
	var inFlight, maxInFlight, done int32
	release := make(chan struct{})

	s := New(Config{DefaultDelay: time.Millisecond}, func(ctx context.Context, uri string) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&inFlight, -1)
		atomic.AddInt32(&done, 1)
	})

	s.Trigger("a", TriggerChange)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&inFlight) == 1 }, time.Second, time.Millisecond)

	// Fires while the first scan is still running.
	s.Trigger("a", TriggerChange)
	time.Sleep(20 * time.Millisecond)

	close(release)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&done) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight))

	s.Stop()
}

func TestStopDropsPendingScans(t *testing.T) {
	rec := &recorder{}
	s := New(testConfig(), rec.scan)

	s.Trigger("a", TriggerChange)
	s.Stop()
	s.Trigger("b", TriggerChange)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 0, rec.count("a"))
	assert.Equal(t, 0, rec.count("b"))
}

func (s *Scheduler) tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

func TestCancelForgetsDocument(t *testing.T) {
	rec := &recorder{}
	s := New(testConfig(), rec.scan)
	defer s.Stop()

	s.Trigger("a", TriggerChange)
	s.Trigger("b", TriggerChange)
	s.Cancel("a")
	assert.Equal(t, 1, s.tracked())

	require.Eventually(t, func() bool { return rec.count("b") == 1 }, time.Second, 5*time.Millisecond)
	s.Cancel("b")
	assert.Equal(t, 0, s.tracked())
}

func TestCancelDuringScanForgetsDocumentAfterwards(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	s := New(Config{DefaultDelay: time.Millisecond}, func(ctx context.Context, uri string) {
		close(started)
		<-release
	})
	defer s.Stop()

	s.Trigger("a", TriggerChange)
	<-started

	s.Cancel("a")
	assert.Equal(t, 1, s.tracked())

	close(release)
	require.Eventually(t, func() bool { return s.tracked() == 0 }, time.Second, time.Millisecond)
}

func TestTriggerAfterCancelDuringScanKeepsDocument(t *testing.T) {
	var scans int32
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	s := New(Config{DefaultDelay: time.Millisecond}, func(ctx context.Context, uri string) {
		atomic.AddInt32(&scans, 1)
		started <- struct{}{}
		<-release
	})
	defer s.Stop()

	s.Trigger("a", TriggerChange)
	<-started

	s.Cancel("a")
	s.Trigger("a", TriggerChange)
	close(release)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&scans) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, s.tracked())
}
