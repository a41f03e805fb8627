package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerRunsRepeatedly(t *testing.T) {
	s := NewScheduler(10*time.Millisecond, 2)
	s.Start()
	defer s.Stop()

	var runs atomic.Int32
	s.Schedule(func(context.Context) { runs.Add(1) })

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected at least 3 runs, got %d", runs.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSchedulerCancelStopsRuns(t *testing.T) {
	s := NewScheduler(10*time.Millisecond, 2)
	s.Start()
	defer s.Stop()

	var runs atomic.Int32
	task := s.Schedule(func(context.Context) { runs.Add(1) })
	task.Cancel()
	task.Cancel() // idempotent

	time.Sleep(60 * time.Millisecond)
	if n := runs.Load(); n != 0 {
		t.Errorf("cancelled task ran %d times", n)
	}
	if s.Len() != 0 {
		t.Errorf("expected empty queue, got %d", s.Len())
	}
}

func TestSchedulerCancelDuringRun(t *testing.T) {
	s := NewScheduler(5*time.Millisecond, 2)
	s.Start()
	defer s.Stop()

	started := make(chan struct{})
	release := make(chan struct{})
	var runs atomic.Int32
	var task *Task
	var once sync.Once
	task = s.Schedule(func(context.Context) {
		runs.Add(1)
		once.Do(func() { close(started) })
		<-release
	})

	<-started
	task.Cancel()
	close(release)

	time.Sleep(50 * time.Millisecond)
	if n := runs.Load(); n != 1 {
		t.Errorf("expected the in-flight run only, got %d runs", n)
	}
}

func TestSchedulerRunsOfOneTaskNeverOverlap(t *testing.T) {
	s := NewScheduler(time.Millisecond, 8)
	s.Start()
	defer s.Stop()

	var active, overlaps, runs atomic.Int32
	s.Schedule(func(context.Context) {
		if active.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		runs.Add(1)
	})

	time.Sleep(80 * time.Millisecond)
	if runs.Load() == 0 {
		t.Fatal("task never ran")
	}
	if overlaps.Load() != 0 {
		t.Errorf("runs overlapped %d times", overlaps.Load())
	}
}

func TestSchedulerBoundsConcurrency(t *testing.T) {
	const workers = 2
	s := NewScheduler(time.Millisecond, workers)
	s.Start()
	defer s.Stop()

	var active, peak atomic.Int32
	for i := 0; i < 6; i++ {
		s.Schedule(func(context.Context) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			active.Add(-1)
		})
	}

	time.Sleep(100 * time.Millisecond)
	if p := peak.Load(); p > workers {
		t.Errorf("peak concurrency %d exceeds %d workers", p, workers)
	}
	if peak.Load() == 0 {
		t.Error("no task ran")
	}
}

func TestSchedulerStopWaitsForRuns(t *testing.T) {
	s := NewScheduler(time.Millisecond, 1)
	s.Start()

	started := make(chan struct{})
	var finished atomic.Bool
	var once sync.Once
	s.Schedule(func(ctx context.Context) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		finished.Store(true)
	})

	<-started
	s.Stop()
	if !finished.Load() {
		t.Error("Stop returned before the running task finished")
	}
}
