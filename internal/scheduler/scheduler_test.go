package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"
)

type captureRunner struct {
	mu   sync.Mutex
	runs []string
}

func (c *captureRunner) RunSaved(_ context.Context, job Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs = append(c.runs, job.Name)
	return nil
}

func (c *captureRunner) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.runs)
}

func TestRunDueFiresOnSchedule(t *testing.T) {
	t.Parallel()
	runner := &captureRunner{}
	s := New(runner, []Job{{Name: "hourly", Query: "q", Cron: "0 * * * *"}})

	base := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	s.jobs[0].lastRun = base
	s.now = func() time.Time { return base.Add(10 * time.Minute) }
	s.runDue(context.Background())
	if runner.count() != 0 {
		t.Fatal("job fired before its scheduled time")
	}

	s.now = func() time.Time { return base.Add(45 * time.Minute) }
	s.runDue(context.Background())
	if runner.count() != 1 {
		t.Fatalf("runs = %d, want 1 after crossing the hour", runner.count())
	}

	// same tick window again: must not re-fire
	s.runDue(context.Background())
	if runner.count() != 1 {
		t.Fatalf("runs = %d, job re-fired within the same window", runner.count())
	}
}

func TestInvalidCronDroppedAtStartup(t *testing.T) {
	t.Parallel()
	runner := &captureRunner{}
	s := New(runner, []Job{
		{Name: "bad", Query: "q", Cron: "not a cron"},
		{Name: "good", Query: "q", Cron: "*/5 * * * *"},
	})
	if len(s.jobs) != 1 || s.jobs[0].job.Name != "good" {
		t.Fatalf("jobs = %+v", s.jobs)
	}
}

func TestStopTerminatesLoop(t *testing.T) {
	t.Parallel()
	runner := &captureRunner{}
	s := New(runner, nil)
	s.tick = time.Millisecond

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()
	s.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
