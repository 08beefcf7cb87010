// Package scheduler is a cooperative wall-clock scheduler: hourly,
// weekly and monthly recurring tasks plus one-shot delayed triggers,
// each running on its own worker so a long task cannot block the
// others. No scheduler/cron library appears anywhere in the example
// corpus (grepped every go.mod/go.sum in the retrieved pack), so this
// is built directly on time.Ticker/time.Timer — see DESIGN.md for the
// standard-library justification.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"intelhub/internal/hubtypes"
	"intelhub/internal/obs"
)

// TaskFunc is the unit of scheduled work. Its error return is logged,
// never propagated.
type TaskFunc func(ctx context.Context) error

// Scheduler runs a set of independent recurring/one-shot tasks.
type Scheduler struct {
	clock obs.Clock
	log   obs.Logger

	mu      sync.Mutex
	tasks   map[string]context.CancelFunc
	running bool
	wg      sync.WaitGroup
	rootCtx context.Context
	cancel  context.CancelFunc
}

// New returns a Scheduler. Start must be called before any task is
// added: registering a task on a scheduler that is not started returns
// an error.
func New(clock obs.Clock, log obs.Logger) *Scheduler {
	if clock == nil {
		clock = obs.SystemClock{}
	}
	if log == nil {
		log = obs.NewNoopLogger()
	}
	return &Scheduler{clock: clock, log: log, tasks: make(map[string]context.CancelFunc)}
}

// Start makes the scheduler ready to spawn task workers. Stop cancels
// every running task.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rootCtx, s.cancel = context.WithCancel(ctx)
	s.running = true
}

// Stop cancels every task worker and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) register(taskID string) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil, fmt.Errorf("scheduler: not started")
	}
	if _, exists := s.tasks[taskID]; exists {
		return nil, fmt.Errorf("%w: %s", hubtypes.ErrDuplicateTask, taskID)
	}
	ctx, cancel := context.WithCancel(s.rootCtx)
	s.tasks[taskID] = cancel
	return ctx, nil
}

func (s *Scheduler) runSafely(taskID string, ctx context.Context, fn TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler: task panicked", map[string]any{"task_id": taskID, "panic": fmt.Sprint(r)})
		}
	}()
	if err := fn(ctx); err != nil {
		s.log.Error("scheduler: task failed", map[string]any{"task_id": taskID, "error": err.Error()})
	}
}

// worker owns the timing loop for one task: it sleeps until the next
// fire time, runs the task on its own goroutine iteration, and
// recomputes the next fire time — so a slow task delays only itself.
func (s *Scheduler) worker(taskID string, ctx context.Context, fn TaskFunc, next func(from time.Time) time.Time) {
	defer s.wg.Done()
	for {
		now := s.clock.Now()
		fireAt := next(now)
		wait := fireAt.Sub(now)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.runSafely(taskID, ctx, fn)
		}
	}
}

// AddHourlyTask runs fn once per hour, on the hour, starting from the
// next hour boundary.
func (s *Scheduler) AddHourlyTask(taskID string, fn TaskFunc) error {
	ctx, err := s.register(taskID)
	if err != nil {
		return err
	}
	s.wg.Add(1)
	go s.worker(taskID, ctx, fn, func(from time.Time) time.Time {
		return from.Truncate(time.Hour).Add(time.Hour)
	})
	return nil
}

// AddWeeklyTask runs fn once per week on dayOfWeek at midnight local time.
func (s *Scheduler) AddWeeklyTask(taskID string, dayOfWeek time.Weekday, fn TaskFunc) error {
	ctx, err := s.register(taskID)
	if err != nil {
		return err
	}
	s.wg.Add(1)
	go s.worker(taskID, ctx, fn, func(from time.Time) time.Time {
		return nextWeekday(from, dayOfWeek)
	})
	return nil
}

// AddMonthlyTask runs fn once per month on dayOfMonth at midnight local
// time. Months shorter than dayOfMonth fire on the last day instead.
func (s *Scheduler) AddMonthlyTask(taskID string, dayOfMonth int, fn TaskFunc) error {
	ctx, err := s.register(taskID)
	if err != nil {
		return err
	}
	s.wg.Add(1)
	go s.worker(taskID, ctx, fn, func(from time.Time) time.Time {
		return nextMonthDay(from, dayOfMonth)
	})
	return nil
}

// ExecuteTask is a one-shot trigger: fn runs once after delay, on its
// own worker. taskID still must be unique among currently scheduled
// tasks (it is released once the one-shot fires).
func (s *Scheduler) ExecuteTask(taskID string, delay time.Duration, fn TaskFunc) error {
	ctx, err := s.register(taskID)
	if err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.runSafely(taskID, ctx, fn)
		}
		s.mu.Lock()
		delete(s.tasks, taskID)
		s.mu.Unlock()
	}()
	return nil
}

func nextWeekday(from time.Time, target time.Weekday) time.Time {
	midnight := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	daysAhead := (int(target) - int(from.Weekday()) + 7) % 7
	candidate := midnight.AddDate(0, 0, daysAhead)
	if !candidate.After(from) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}

func nextMonthDay(from time.Time, dayOfMonth int) time.Time {
	year, month := from.Year(), from.Month()
	candidate := clampedDate(year, month, dayOfMonth, from.Location())
	if !candidate.After(from) {
		month++
		if month > 12 {
			month = 1
			year++
		}
		candidate = clampedDate(year, month, dayOfMonth, from.Location())
	}
	return candidate
}

func clampedDate(year int, month time.Month, day int, loc *time.Location) time.Time {
	lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}
