package realtime

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Task is a recurring unit of work owned by a Scheduler.
type Task struct {
	s     *Scheduler
	run   func(context.Context)
	due   time.Time
	index int // position in the heap, -1 while running or cancelled
	dead  bool
}

// Cancel stops future runs. It is idempotent. A run already in progress is
// not interrupted, but the task is not re-armed afterwards.
func (t *Task) Cancel() {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.dead {
		return
	}
	t.dead = true
	if t.index >= 0 {
		heap.Remove(&s.queue, t.index)
	}
}

// taskQueue is a min-heap of tasks ordered by due time.
type taskQueue []*Task

func (q taskQueue) Len() int           { return len(q) }
func (q taskQueue) Less(i, j int) bool { return q[i].due.Before(q[j].due) }

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	t := x.(*Task)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}

// Scheduler runs every task once per interval from a single timer loop.
// Due runs are handed to goroutines bounded by a weighted semaphore. A task
// is re-armed only after its run returns, so runs of one task never overlap
// and the interval is measured from the end of the previous run.
type Scheduler struct {
	interval time.Duration
	sem      *semaphore.Weighted

	mu    sync.Mutex
	queue taskQueue
	wake  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewScheduler creates a stopped scheduler running at most workers tasks at
// a time.
func NewScheduler(interval time.Duration, workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		interval: interval,
		sem:      semaphore.NewWeighted(int64(workers)),
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the timer loop. Calls after the first are no-ops.
func (s *Scheduler) Start() {
	s.once.Do(func() {
		s.wg.Add(1)
		go s.loop()
	})
}

// Stop cancels the context passed to running tasks and waits for the loop
// and every in-flight run to return.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Schedule registers run to be called one interval from now and every
// interval after each run completes.
func (s *Scheduler) Schedule(run func(context.Context)) *Task {
	t := &Task{s: s, run: run, index: -1}
	s.mu.Lock()
	t.due = time.Now().Add(s.interval)
	heap.Push(&s.queue, t)
	s.mu.Unlock()
	s.signal()
	return t
}

// Len returns the number of armed tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		due, wait := s.popDue(time.Now())
		for _, t := range due {
			if !s.dispatch(t) {
				return
			}
		}
		if len(due) > 0 {
			continue
		}

		timer.Reset(wait)
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
		case <-s.wake:
		}
	}
}

// popDue removes every task due at now. When none is due it returns how long
// to sleep before the next one.
func (s *Scheduler) popDue(now time.Time) ([]*Task, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Task
	for s.queue.Len() > 0 {
		next := s.queue[0]
		if next.due.After(now) {
			return due, next.due.Sub(now)
		}
		due = append(due, heap.Pop(&s.queue).(*Task))
	}
	return due, s.interval
}

// dispatch blocks until a worker slot is free. It returns false once the
// scheduler is stopping.
func (s *Scheduler) dispatch(t *Task) bool {
	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)
		if s.cancelled(t) {
			return
		}
		t.run(s.ctx)
		s.rearm(t)
	}()
	return true
}

func (s *Scheduler) cancelled(t *Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return t.dead
}

func (s *Scheduler) rearm(t *Task) {
	s.mu.Lock()
	if t.dead || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	t.due = time.Now().Add(s.interval)
	heap.Push(&s.queue, t)
	s.mu.Unlock()
	s.signal()
}
