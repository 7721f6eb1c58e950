// Package scheduler provides scheduling logic for bizarchive.
//
// Trigger times are computed from cron expressions, but jobs are not
// run on a background goroutine: RunPending executes every due job on
// the caller's goroutine. The dispatcher calls it between poll cycles,
// so maintenance jobs never race in-flight update processing.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts the standard 5-field cron format (min, hour, dom,
// month, dow).
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// job is one scheduled task with its next trigger time.
type job struct {
	schedule cron.Schedule
	next     time.Time
	task     func()
}

// Opts holds configuration options for the scheduler.
type Opts struct {
	Now func() time.Time
}

// Option defines a configuration option for the scheduler.
type Option func(*Opts)

// WithClock injects a time source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Scheduler runs cron-scheduled jobs synchronously via RunPending.
// It is not safe for concurrent use; a single loop owns it.
type Scheduler struct {
	now  func() time.Time
	jobs []*job
}

// NewScheduler creates a scheduler with no jobs.
func NewScheduler(opts ...Option) *Scheduler {
	cfg := Opts{Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Scheduler{now: cfg.Now}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	s.jobs = append(s.jobs, &job{schedule: schedule, next: schedule.Next(s.now()), task: task})
	return nil
}

// AddDailyJob schedules a task once per day at the given wall-clock
// time ("15:04").
func (s *Scheduler) AddDailyJob(at string, task func()) error {
	t, err := time.Parse("15:04", at)
	if err != nil {
		return fmt.Errorf("invalid daily trigger time %q: %w", at, err)
	}
	return s.AddJob(fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()), task)
}

// RunPending runs every job whose trigger time has passed, on the
// calling goroutine, then advances its next trigger. A job missed
// several times over runs once and skips ahead.
func (s *Scheduler) RunPending() {
	now := s.now()
	for _, j := range s.jobs {
		if j.next.After(now) {
			continue
		}
		j.task()
		j.next = j.schedule.Next(now)
	}
}
