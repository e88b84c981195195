package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context)

// Scheduler runs a Job on a cron schedule.
type Scheduler struct {
	job  Job
	cron *cron.Cron

	mu    sync.Mutex
	ctx   context.Context
	spec  string
	entry cron.EntryID
}

// New returns a Scheduler for job. Nothing runs until Start.
func New(job Job) *Scheduler {
	logger := slogLogger{l: slog.Default().With("component", "scheduler")}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	return &Scheduler{job: job, cron: c, ctx: context.Background()}
}

// Start installs spec and starts the cron loop. Jobs receive ctx; Start
// stops the loop when ctx is cancelled. With runOnStart the job also runs
// once immediately.
func (s *Scheduler) Start(ctx context.Context, spec string, runOnStart bool) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	if err := s.Reschedule(spec); err != nil {
		return err
	}
	s.cron.Start()
	slog.Info("scheduler: started", "schedule", spec, "next", s.Next())

	if runOnStart {
		go s.job(ctx)
	}
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Reschedule replaces the active schedule. An invalid spec is rejected and
// the previous schedule stays active.
func (s *Scheduler) Reschedule(spec string) error {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("scheduler: parse %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if spec == s.spec && s.entry != 0 {
		return nil
	}
	ctx := s.ctx
	id := s.cron.Schedule(sched, cron.FuncJob(func() { s.job(ctx) }))
	if s.entry != 0 {
		s.cron.Remove(s.entry)
		slog.Info("scheduler: rescheduled", "from", s.spec, "to", spec)
	}
	s.entry = id
	s.spec = spec
	return nil
}

// Spec returns the active schedule.
func (s *Scheduler) Spec() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spec
}

// Next returns the next activation time, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	id := s.entry
	s.mu.Unlock()
	return s.cron.Entry(id).Next
}

// Stop halts the cron loop and waits for a running job to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// slogLogger adapts log/slog to cron.Logger.
type slogLogger struct {
	l *slog.Logger
}

func (s slogLogger) Info(msg string, keysAndValues ...interface{}) {
	// cron's info output is per-tick chatter.
	s.l.Debug("cron: "+msg, keysAndValues...)
}

func (s slogLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	s.l.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
