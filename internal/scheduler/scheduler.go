// Package scheduler runs the recurring maintenance jobs on cron
// schedules, tracks per-job health, and escalates to the alert notifier
// when a job keeps failing.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// DefaultFailureLimit is how many consecutive failures trigger escalation.
const DefaultFailureLimit = 3

// JobFunc is the body of a scheduled job.
type JobFunc func(ctx context.Context) error

// Escalator receives job health transitions. Satisfied by
// alert.Notifier.
type Escalator interface {
	Critical(ctx context.Context, component string, err error)
	Recovery(ctx context.Context, component string)
}

// JobRecord is a point-in-time snapshot of one job's health.
type JobRecord struct {
	Name                string
	CronSpec            string
	LastSuccessAt       time.Time
	TotalRuns           int
	TotalFailures       int
	ConsecutiveFailures int
	Escalated           bool
}

// job is the live state behind a JobRecord.
type job struct {
	name  string
	spec  string
	sched cron.Schedule
	fn    JobFunc

	mu        sync.Mutex
	running   bool
	record    JobRecord
	escalated bool
}

// Scheduler owns the registered jobs and their timer loops.
type Scheduler struct {
	escalator    Escalator
	failureLimit int
	now          func() time.Time

	mu   sync.Mutex
	jobs map[string]*job

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Opts holds parameters for creating a Scheduler.
type Opts struct {
	Escalator    Escalator
	FailureLimit int              // defaults to DefaultFailureLimit
	Now          func() time.Time // defaults to time.Now; injectable for tests
}

// New creates a Scheduler.
func New(opts Opts) (*Scheduler, error) {
	if opts.Escalator == nil {
		return nil, fmt.Errorf("scheduler: escalator is required")
	}
	s := &Scheduler{
		escalator:    opts.Escalator,
		failureLimit: opts.FailureLimit,
		now:          opts.Now,
		jobs:         make(map[string]*job),
	}
	if s.failureLimit <= 0 {
		s.failureLimit = DefaultFailureLimit
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Register adds a job under a unique name with a 5-field cron spec.
// Must be called before Start.
func (s *Scheduler) Register(name, spec string, fn JobFunc) error {
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return fmt.Errorf("scheduler: parse %q for job %s: %w", spec, name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("scheduler: job %s already registered", name)
	}
	s.jobs[name] = &job{
		name:   name,
		spec:   spec,
		sched:  sched,
		fn:     fn,
		record: JobRecord{Name: name, CronSpec: spec},
	}
	return nil
}

// Start launches one timer loop per registered job. It returns
// immediately; Stop waits for the loops to drain.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
	log.Printf("scheduler: started %d jobs", len(s.jobs))
}

// Stop cancels all timer loops and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer s.wg.Done()
	for {
		next := j.sched.Next(s.now())
		wait := next.Sub(s.now())
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.RunNow(ctx, j.name)
		}
	}
}

// RunNow executes a job immediately. Overlapping runs of the same job
// are skipped rather than queued.
func (s *Scheduler) RunNow(ctx context.Context, name string) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return
	}

	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		log.Printf("scheduler: job %s still running, skipping this fire", name)
		return
	}
	j.running = true
	j.mu.Unlock()

	err := j.fn(ctx)

	j.mu.Lock()
	j.running = false
	j.record.TotalRuns++
	if err != nil {
		j.record.TotalFailures++
		j.record.ConsecutiveFailures++
		streak := j.record.ConsecutiveFailures
		hitLimit := streak == s.failureLimit
		j.record.Escalated = j.record.Escalated || hitLimit
		j.escalated = j.record.Escalated
		j.mu.Unlock()

		log.Printf("scheduler: job %s failed (streak %d): %v", name, streak, err)
		if hitLimit {
			s.escalator.Critical(ctx, "job "+name, err)
		}
		return
	}

	wasEscalated := j.escalated
	j.record.ConsecutiveFailures = 0
	j.record.Escalated = false
	j.escalated = false
	j.record.LastSuccessAt = s.now()
	j.mu.Unlock()

	if wasEscalated {
		s.escalator.Recovery(ctx, "job "+name)
	}
}

// Records returns a snapshot of every job's health, for the dashboard.
func (s *Scheduler) Records() []JobRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobRecord, 0, len(s.jobs))
	for _, j := range s.jobs {
		j.mu.Lock()
		out = append(out, j.record)
		j.mu.Unlock()
	}
	return out
}
