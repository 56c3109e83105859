// Package scheduler runs the worker's periodic tasks from a heap ordered by
// next run time.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kidtube/kidtube/internal/logging"
	"github.com/kidtube/kidtube/internal/metrics"
)

// DefaultLockTTL bounds how long a claimed run slot stays claimed
const DefaultLockTTL = time.Hour

// TaskFunc is the body of a scheduled task
type TaskFunc func(ctx context.Context, now time.Time) error

// Schedule computes a task's next run strictly after a given instant
type Schedule interface {
	Next(after time.Time) time.Time
}

// Every runs a task at a fixed interval
type Every time.Duration

// Next implements Schedule
func (e Every) Next(after time.Time) time.Time {
	return after.Add(time.Duration(e))
}

// DailyAt runs a task once a day at the top of Hour in Location
type DailyAt struct {
	Hour     int
	Location *time.Location
}

// Next implements Schedule
func (d DailyAt) Next(after time.Time) time.Time {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	local := after.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), d.Hour, 0, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, d.Hour, 0, 0, 0, loc)
	}
	return next
}

// Task is a named unit of periodic work
type Task struct {
	Name     string
	Schedule Schedule
	Run      TaskFunc
	LockTTL  time.Duration
}

// Locker claims a run slot across worker instances; *cache.Cache satisfies it
type Locker interface {
	AcquireLock(ctx context.Context, resource string, ttl time.Duration) (bool, error)
}

// Scheduler owns the task heap and the run loop
type Scheduler struct {
	queue      *PriorityQueue
	mu         sync.Mutex
	locker     Locker
	logger     *logging.Logger
	resolution time.Duration
	now        func() time.Time
	names      map[string]bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewScheduler creates a scheduler. A nil locker runs every due slot locally.
func NewScheduler(locker Locker, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Nop()
	}
	q := &PriorityQueue{}
	heap.Init(q)
	return &Scheduler{
		queue:      q,
		locker:     locker,
		logger:     logger.WithComponent("scheduler"),
		resolution: time.Second,
		now:        time.Now,
		names:      make(map[string]bool),
	}
}

// Register adds a task, first due at its schedule's next instant after now
func (s *Scheduler) Register(task Task) error {
	if task.Name == "" || task.Schedule == nil || task.Run == nil {
		return errors.New("task needs a name, schedule and run func")
	}
	if task.LockTTL <= 0 {
		task.LockTTL = DefaultLockTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.names[task.Name] {
		return fmt.Errorf("task %q already registered", task.Name)
	}
	s.names[task.Name] = true
	heap.Push(s.queue, &QueueItem{Task: task, NextRun: task.Schedule.Next(s.now())})
	return nil
}

// Start begins the run loop
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.resolution)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunDue(ctx)
			}
		}
	}()

	s.logger.WithField("tasks", s.Len()).Info("Scheduler started")
}

// Stop stops the loop and waits for a running task to return
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// RunDue runs every task whose slot has arrived and returns how many ran.
// Each task is rescheduled from the current time, so missed slots collapse
// into one run.
func (s *Scheduler) RunDue(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	var due []*QueueItem
	for s.queue.Len() > 0 && !(*s.queue)[0].NextRun.After(now) {
		due = append(due, heap.Pop(s.queue).(*QueueItem))
	}
	s.mu.Unlock()

	ran := 0
	for _, item := range due {
		if s.run(ctx, item, now) {
			ran++
		}
		item.NextRun = item.Task.Schedule.Next(now)

		s.mu.Lock()
		heap.Push(s.queue, item)
		s.mu.Unlock()
	}
	return ran
}

func (s *Scheduler) run(ctx context.Context, item *QueueItem, now time.Time) bool {
	logger := s.logger.WithField("task", item.Task.Name)

	if s.locker != nil {
		slot := fmt.Sprintf("task:%s:%d", item.Task.Name, item.NextRun.Unix())
		ok, err := s.locker.AcquireLock(ctx, slot, item.Task.LockTTL)
		if err != nil {
			logger.WithError(err).Warn("Failed to claim task slot")
			return false
		}
		if !ok {
			logger.Debug("Task slot claimed by another worker")
			return false
		}
	}

	start := time.Now()
	err := item.Task.Run(ctx, now)
	metrics.RecordTaskRun(item.Task.Name, err)
	if err != nil {
		logger.WithError(err).Error("Task failed")
		return true
	}

	logger.WithField("duration_ms", time.Since(start).Milliseconds()).Debug("Task completed")
	return true
}

// NextRun returns when the named task is next due
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range *s.queue {
		if item.Task.Name == name {
			return item.NextRun, true
		}
	}
	return time.Time{}, false
}

// Len returns the number of registered tasks
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.queue.Len()
}

// PriorityQueue orders tasks by next run time
type PriorityQueue []*QueueItem

// QueueItem represents a task in the priority queue
type QueueItem struct {
	Task    Task
	NextRun time.Time
	Index   int
}

func (pq PriorityQueue) Len() int { return len(pq) }

func (pq PriorityQueue) Less(i, j int) bool {
	// Earliest first; ties go by name for a stable order
	if !pq[i].NextRun.Equal(pq[j].NextRun) {
		return pq[i].NextRun.Before(pq[j].NextRun)
	}
	return pq[i].Task.Name < pq[j].Task.Name
}

func (pq PriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].Index = i
	pq[j].Index = j
}

func (pq *PriorityQueue) Push(x interface{}) {
	n := len(*pq)
	item := x.(*QueueItem)
	item.Index = n
	*pq = append(*pq, item)
}

func (pq *PriorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.Index = -1
	*pq = old[0 : n-1]
	return item
}
