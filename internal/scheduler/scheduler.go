// Package scheduler re-runs saved queries on cron schedules, appending each
// result to the answer history.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
)

// Job is one saved query with its schedule.
type Job struct {
	Name  string
	Query string
	Cron  string
	Deep  bool
}

// Runner executes one due job; the scheduler does not care what happens to
// the answer beyond the error.
type Runner interface {
	RunSaved(ctx context.Context, job Job) error
}

// Scheduler ticks once a minute and fires every job whose cron expression
// has come due since its last run. Jobs with unparseable expressions are
// dropped at startup with a log line, not at tick time.
type Scheduler struct {
	runner Runner
	logger *log.Logger

	mu      sync.Mutex
	jobs    []scheduledJob
	stop    chan struct{}
	stopped sync.Once

	tick time.Duration
	now  func() time.Time
}

type scheduledJob struct {
	job     Job
	expr    *cronexpr.Expression
	lastRun time.Time
}

func New(runner Runner, jobs []Job) *Scheduler {
	s := &Scheduler{
		runner: runner,
		logger: log.New(log.Writer(), "[SCHED] ", log.LstdFlags),
		stop:   make(chan struct{}),
		tick:   time.Minute,
		now:    time.Now,
	}
	for _, job := range jobs {
		expr, err := cronexpr.Parse(job.Cron)
		if err != nil {
			s.logger.Printf("job %q has invalid cron %q, skipping: %v", job.Name, job.Cron, err)
			continue
		}
		s.jobs = append(s.jobs, scheduledJob{job: job, expr: expr, lastRun: s.now()})
	}
	return s
}

// Start runs the tick loop until Stop. Call in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	s.stopped.Do(func() { close(s.stop) })
}

// runDue fires every job whose next scheduled time after its last run is in
// the past. Jobs run sequentially; a slow pipeline run delays later jobs
// rather than stacking concurrent runs of the same query.
func (s *Scheduler) runDue(ctx context.Context) {
	now := s.now()
	for i := range s.jobs {
		s.mu.Lock()
		sj := &s.jobs[i]
		due := !sj.expr.Next(sj.lastRun).After(now)
		if due {
			sj.lastRun = now
		}
		s.mu.Unlock()
		if !due {
			continue
		}
		s.logger.Printf("running saved query %q", sj.job.Name)
		if err := s.runner.RunSaved(ctx, sj.job); err != nil {
			s.logger.Printf("saved query %q failed: %v", sj.job.Name, err)
		}
	}
}
