// Package scheduler runs a job on a trigger, plus once at startup.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"thingwatch/internal/runtime/supervisor"
	"thingwatch/pkg/logx"
)

var ErrNotStarted = errors.New("scheduler not started")

// Job is one unit of scheduled work. Errors are recorded, never retried.
type Job func(ctx context.Context) error

type Config struct {
	// RunOnStart runs the job once right after Start.
	RunOnStart bool
	// Timeout bounds one run; 0 means no bound.
	Timeout time.Duration
}

// Info is the scheduler view used by /status and /healthz.
type Info struct {
	Schedule  string        `json:"schedule"`
	Next      time.Time     `json:"next,omitempty"`
	LastStart time.Time     `json:"last_start,omitempty"`
	LastTook  time.Duration `json:"last_took"`
	LastErr   string        `json:"last_error,omitempty"`
	LastBy    string        `json:"last_reason,omitempty"`
	Runs      uint64        `json:"runs"`
	Running   int           `json:"running"`
}

type Service struct {
	cfg Config
	job Job
	log logx.Logger

	ctl sync.Mutex // serialises Start, Stop and Reschedule

	mu      sync.Mutex
	trig    Trigger
	sup     *supervisor.Supervisor
	started bool
	info    Info
}

func New(cfg Config, trig Trigger, job Job, log logx.Logger) *Service {
	return &Service{cfg: cfg, trig: trig, job: job, log: log}
}

func (s *Service) Start(ctx context.Context) error {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	sup := supervisor.New(ctx, supervisor.WithLogger(s.log))
	if err := s.trig.Start(s.fire(sup.Context())); err != nil {
		sup.Cancel()
		return err
	}
	s.sup = sup
	s.started = true
	s.log.Info("scheduler started",
		logx.String("schedule", s.trig.String()),
		logx.Time("next", s.trig.Next()),
		logx.Bool("run_on_start", s.cfg.RunOnStart),
	)
	if s.cfg.RunOnStart {
		sup.Go0("startup-run", func(ctx context.Context) { _ = s.run(ctx, "startup") })
	}
	return nil
}

func (s *Service) fire(ctx context.Context) func() {
	return func() { _ = s.run(ctx, "schedule") }
}

// RunNow runs the job in the caller's goroutine and returns its error.
func (s *Service) RunNow(ctx context.Context, reason string) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	return s.run(ctx, reason)
}

// Reschedule swaps the trigger. The old trigger is stopped first, which
// waits for a run it started.
func (s *Service) Reschedule(ctx context.Context, trig Trigger) error {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	s.mu.Lock()
	old, started := s.trig, s.started
	if !started {
		s.trig = trig
		s.mu.Unlock()
		return nil
	}
	fire := s.fire(s.sup.Context())
	s.mu.Unlock()

	if err := old.Stop(ctx); err != nil {
		return err
	}
	if err := trig.Start(fire); err != nil {
		// Keep the old schedule rather than none.
		if rerr := old.Start(fire); rerr != nil {
			s.log.Error("restoring previous schedule failed", logx.Err(rerr))
		}
		return err
	}
	s.mu.Lock()
	s.trig = trig
	s.mu.Unlock()
	s.log.Info("schedule changed",
		logx.String("from", old.String()),
		logx.String("to", trig.String()),
		logx.Time("next", trig.Next()),
	)
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	trig, sup := s.trig, s.sup
	s.mu.Unlock()

	// Cancel first so a run in flight sees ctx.Done and the trigger drains.
	sup.Cancel()
	err := trig.Stop(ctx)
	if werr := sup.Wait(ctx); err == nil {
		err = werr
	}
	s.log.Info("scheduler stopped")
	return err
}

// Apply swaps the run settings. RunOnStart only matters before Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := s.info
	info.Schedule = s.trig.String()
	info.Next = s.trig.Next()
	return info
}

func (s *Service) run(ctx context.Context, reason string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	start := time.Now()
	s.mu.Lock()
	timeout := s.cfg.Timeout
	s.info.Running++
	s.mu.Unlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := s.job(ctx)

	took := time.Since(start)
	s.mu.Lock()
	s.info.Running--
	s.info.Runs++
	s.info.LastStart = start
	s.info.LastTook = took
	s.info.LastBy = reason
	s.info.LastErr = ""
	if err != nil {
		s.info.LastErr = err.Error()
	}
	s.mu.Unlock()

	// The job logs its own failures.
	s.log.Debug("run finished",
		logx.String("reason", reason),
		logx.Duration("took", took),
		logx.Err(err),
	)
	return err
}
