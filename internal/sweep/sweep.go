// Package sweep runs the monitor workflow on a cron schedule.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/postgres"
	"github.com/linnemanlabs/warden/internal/triage"
)

// Monitor is the triage operation the scheduler drives.
type Monitor interface {
	Monitor(ctx context.Context, hours int) *triage.Summary
}

// Scheduler triggers a monitor sweep on a standard five-field cron spec.
// A sweep still running when the next tick fires is skipped.
type Scheduler struct {
	cron   *cron.Cron
	svc    Monitor
	hours  int
	logger log.Logger
	ctx    context.Context
}

// ValidateSchedule reports whether spec is a valid five-field cron
// expression or descriptor such as "@daily".
func ValidateSchedule(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid monitor schedule %q: %w", spec, err)
	}
	return nil
}

// New creates a Scheduler. Sweeps run with ctx, so cancelling it aborts an
// in-flight sweep on shutdown.
func New(ctx context.Context, logger log.Logger, svc Monitor, spec string, hours int) (*Scheduler, error) {
	if logger == nil {
		logger = log.Nop()
	}
	cl := cronLogger{ctx: ctx, l: logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		svc:    svc,
		hours:  hours,
		logger: logger,
		ctx:    ctx,
	}
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(s.ctx) }); err != nil {
		return nil, fmt.Errorf("invalid monitor schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins scheduling in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops scheduling and returns a context that is done once any running
// sweep has finished.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }

// Next returns the next scheduled run, or the zero time if not started.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// RunOnce performs a single sweep and returns its summary.
func (s *Scheduler) RunOnce(ctx context.Context) *triage.Summary {
	ctx = postgres.WithTrigger(ctx, postgres.TriggerSchedule)
	start := time.Now()

	sum := s.svc.Monitor(ctx, s.hours)

	fields := []any{
		"invocation_id", sum.InvocationID,
		"status", sum.Status,
		"duration_s", time.Since(start).Seconds(),
	}
	if sum.EventsScanned != nil {
		fields = append(fields, "events_scanned", *sum.EventsScanned)
	}
	if sum.CampaignsDetected != nil {
		fields = append(fields, "campaigns", *sum.CampaignsDetected)
	}
	if !sum.OK() {
		s.logger.Warn(ctx, "scheduled sweep failed", append(fields, "error_kind", sum.ErrorKind, "message", sum.Message)...)
		return sum
	}
	s.logger.Info(ctx, "scheduled sweep complete", fields...)
	return sum
}

// cronLogger routes cron's own logging into the service logger.
type cronLogger struct {
	ctx context.Context
	l   log.Logger
}

// Info drops cron's per-tick chatter and keeps only skipped runs.
func (c cronLogger) Info(msg string, keysAndValues ...any) {
	if msg != "skip" {
		return
	}
	c.l.Warn(c.ctx, "cron: sweep still running, skipping tick", keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(c.ctx, err, "cron: "+msg, keysAndValues...)
}
