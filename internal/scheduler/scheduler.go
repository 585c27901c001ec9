package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// JobType selects what a job runs
type JobType string

const (
	JobIngest   JobType = "ingest"
	JobEvaluate JobType = "evaluate"
	JobPredict  JobType = "predict"
)

// ErrJobNotFound is returned by RunJob for unknown job names
var ErrJobNotFound = errors.New("job not found")

// Job represents a scheduled job configuration
type Job struct {
	Name       string        `yaml:"name"`
	Type       JobType       `yaml:"type"`
	Interval   time.Duration `yaml:"interval"`
	Enabled    bool          `yaml:"enabled"`
	RunOnStart bool          `yaml:"run_on_start"`
}

// Config holds the job list
type Config struct {
	Jobs []Job `yaml:"jobs"`
}

// DefaultConfig runs a quote pass every minute, an evaluation tick every minute and a
// prediction cycle every hour
func DefaultConfig() Config {
	return Config{Jobs: []Job{
		{Name: "ingest", Type: JobIngest, Interval: time.Minute, Enabled: true, RunOnStart: true},
		{Name: "evaluate", Type: JobEvaluate, Interval: time.Minute, Enabled: true},
		{Name: "predict", Type: JobPredict, Interval: time.Hour, Enabled: true},
	}}
}

// Validate checks job names are unique and every enabled job can be scheduled
func (c Config) Validate() error {
	seen := make(map[string]bool, len(c.Jobs))
	for _, j := range c.Jobs {
		if j.Name == "" {
			return fmt.Errorf("job name is required")
		}
		if seen[j.Name] {
			return fmt.Errorf("duplicate job %q", j.Name)
		}
		seen[j.Name] = true
		switch j.Type {
		case JobIngest, JobEvaluate, JobPredict:
		default:
			return fmt.Errorf("job %q: unknown type %q", j.Name, j.Type)
		}
		if j.Enabled && j.Interval <= 0 {
			return fmt.Errorf("job %q: interval must be positive", j.Name)
		}
	}
	return nil
}

// Task is the work behind a job type
type Task func(ctx context.Context) error

// Status represents scheduler status
type Status struct {
	Running      bool                 `json:"running"`
	EnabledJobs  int                  `json:"enabled_jobs"`
	DisabledJobs int                  `json:"disabled_jobs"`
	Uptime       time.Duration        `json:"uptime"`
	Jobs         []Job                `json:"jobs"`
	LastRuns     map[string]JobResult `json:"last_runs"`
}

// JobResult represents the result of a job execution
type JobResult struct {
	JobName   string        `json:"job_name"`
	Type      JobType       `json:"type"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Skipped   bool          `json:"skipped,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Scheduler runs jobs on fixed intervals
type Scheduler struct {
	config Config
	tasks  map[JobType]Task

	mu        sync.Mutex
	running   bool
	startTime time.Time
	active    map[string]bool
	lastRuns  map[string]JobResult
}

// New creates a scheduler for cfg; tasks are attached with Handle before Start
func New(cfg Config) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}
	return &Scheduler{
		config:   cfg,
		tasks:    make(map[JobType]Task),
		active:   make(map[string]bool),
		lastRuns: make(map[string]JobResult),
	}, nil
}

// Handle registers the task run for every job of type t
func (s *Scheduler) Handle(t JobType, task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t] = task
}

// ListJobs returns all configured jobs
func (s *Scheduler) ListJobs() []Job {
	out := make([]Job, len(s.config.Jobs))
	copy(out, s.config.Jobs)
	return out
}

// GetStatus returns current scheduler status
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Running: s.running, Jobs: s.ListJobs(), LastRuns: make(map[string]JobResult, len(s.lastRuns))}
	for _, job := range s.config.Jobs {
		if job.Enabled {
			st.EnabledJobs++
		} else {
			st.DisabledJobs++
		}
	}
	if s.running {
		st.Uptime = time.Since(s.startTime)
	}
	for k, v := range s.lastRuns {
		st.LastRuns[k] = v
	}
	return st
}

// Start runs every enabled job on its own ticker until ctx is cancelled
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.startTime = time.Now()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	var wg sync.WaitGroup
	started := 0
	for _, job := range s.config.Jobs {
		if !job.Enabled {
			continue
		}
		started++
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.loop(ctx, job, &wg)
		}(job)
	}

	log.Info().Int("jobs", started).Msg("Scheduler starting")
	<-ctx.Done()
	// in-flight runs finish before Start returns so callers can release what they use
	wg.Wait()
	log.Info().Msg("Scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) loop(ctx context.Context, job Job, inflight *sync.WaitGroup) {
	if job.RunOnStart {
		s.run(ctx, job)
	}

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// long runs execute in the background so the ticker keeps firing and
			// overlapping ticks are skipped rather than queued
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				s.run(ctx, job)
			}()
		}
	}
}

// RunJob executes a specific job immediately. A run that overlaps a previous run of the
// same job is skipped.
func (s *Scheduler) RunJob(ctx context.Context, name string) (*JobResult, error) {
	for _, j := range s.config.Jobs {
		if j.Name == name {
			res := s.run(ctx, j)
			return &res, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
}

func (s *Scheduler) run(ctx context.Context, job Job) JobResult {
	start := time.Now()
	result := JobResult{JobName: job.Name, Type: job.Type, StartTime: start}

	s.mu.Lock()
	task := s.tasks[job.Type]
	if s.active[job.Name] {
		s.mu.Unlock()
		result.Skipped = true
		result.EndTime = start
		log.Warn().Str("job", job.Name).Msg("Previous run still in progress, skipping")
		return result
	}
	s.active[job.Name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.active, job.Name)
		s.lastRuns[job.Name] = result
		s.mu.Unlock()
	}()

	var err error
	if task == nil {
		err = fmt.Errorf("no task registered for job type %q", job.Type)
	} else {
		err = runSafely(ctx, task)
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(start)
	result.Success = err == nil
	if err != nil {
		result.Error = err.Error()
		log.Error().Err(err).Str("job", job.Name).Str("type", string(job.Type)).Msg("Job failed")
	} else {
		log.Debug().Str("job", job.Name).Dur("duration", result.Duration).Msg("Job completed")
	}
	return result
}

func runSafely(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task(ctx)
}
