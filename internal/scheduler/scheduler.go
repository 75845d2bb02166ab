// Package scheduler runs periodic maintenance jobs on cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobInfo describes a scheduled job.
type JobInfo struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev,omitempty"`
}

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
	mu   sync.Mutex
	jobs map[string]job
}

type job struct {
	id   cron.EntryID
	spec string
}

// NewScheduler creates a cron scheduler using the standard 5-field parser
// (min, hour, dom, month, dow). Jobs only fire after Start or Run.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	return &Scheduler{cron: c, jobs: make(map[string]job)}
}

// AddJob schedules task under name using the cron expression. Adding a job
// with an existing name replaces it.
func (s *Scheduler) AddJob(name, expr string, task func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(expr, func() {
		started := time.Now()
		task()
		slog.Debug("Scheduler: job finished", "job", name, "duration", time.Since(started))
	})
	if err != nil {
		return fmt.Errorf("schedule job %s (%q): %w", name, expr, err)
	}
	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old.id)
	}
	s.jobs[name] = job{id: id, spec: expr}
	slog.Info("Scheduler.AddJob: scheduled", "job", name, "spec", expr)
	return nil
}

// RemoveJob unschedules a job. It reports whether the job existed.
func (s *Scheduler) RemoveJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if ok {
		s.cron.Remove(j.id)
		delete(s.jobs, name)
	}
	return ok
}

// Jobs lists scheduled jobs sorted by name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for name, j := range s.jobs {
		e := s.cron.Entry(j.id)
		out = append(out, JobInfo{Name: name, Spec: j.spec, Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Start begins firing jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Run starts the scheduler and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start()
	slog.Info("Scheduler.Run: started", "jobs", len(s.Jobs()))
	<-ctx.Done()
	s.Stop()
	slog.Info("Scheduler.Run: stopped")
	return nil
}
