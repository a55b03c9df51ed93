/*
scheduler.go - Scheduled aggregate audit

PURPOSE:
  Periodically recomputes every client's aggregate from its sales and logs
  any client whose stored values disagree. Drift should never happen; when
  it does it means something wrote to the tables outside the ledger service.

DESIGN:
  - robfig/cron drives the schedule (standard 5-field spec or @every)
  - Runs never overlap; a run that is still going skips the next tick
  - The last result is kept for inspection

CONFIGURATION:
  - Spec: cron expression (AUDIT_SCHEDULE); empty disables the scheduler

USAGE:
  scheduler := NewAuditScheduler(svc, "0 3 * * *", logger)
  if err := scheduler.Start(); err != nil { ... }
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Audit endpoint (on-demand run)
  - ledger/reports.go: Service.Audit
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/warp/client-ledger/ledger"
)

// AuditRun is the outcome of one scheduled audit.
type AuditRun struct {
	StartedAt time.Time
	Duration  time.Duration
	Drifts    []ledger.Drift
	Err       error
}

// AuditScheduler runs ledger.Service.Audit on a cron schedule.
type AuditScheduler struct {
	Ledger  *ledger.Service
	Spec    string
	Timeout time.Duration

	logger zerolog.Logger
	cron   *cron.Cron
	entry  cron.EntryID
	mu     sync.Mutex
	last   *AuditRun
}

// NewAuditScheduler creates a scheduler. It does nothing until Start.
func NewAuditScheduler(svc *ledger.Service, spec string, logger zerolog.Logger) *AuditScheduler {
	return &AuditScheduler{
		Ledger:  svc,
		Spec:    spec,
		Timeout: 5 * time.Minute,
		logger:  logger.With().Str("component", "audit").Logger(),
	}
}

// Start registers the job and starts the cron loop. An empty spec leaves
// the scheduler disabled.
func (s *AuditScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Spec == "" {
		s.logger.Info().Msg("audit scheduler disabled")
		return nil
	}
	if s.cron != nil {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	entry, err := c.AddFunc(s.Spec, func() { s.RunNow(context.Background()) })
	if err != nil {
		return fmt.Errorf("audit schedule %q: %w", s.Spec, err)
	}
	c.Start()
	s.cron, s.entry = c, entry

	s.logger.Info().Str("schedule", s.Spec).Time("next_run", c.Entry(entry).Next).Msg("audit scheduler started")
	return nil
}

// Stop stops the cron loop and waits for a running audit to finish.
func (s *AuditScheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
		s.logger.Info().Msg("audit scheduler stopped")
	}
}

// RunNow runs one audit immediately and records it as the last run.
func (s *AuditScheduler) RunNow(ctx context.Context) AuditRun {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	run := AuditRun{StartedAt: time.Now()}
	run.Drifts, run.Err = s.Ledger.Audit(ctx)
	run.Duration = time.Since(run.StartedAt)

	switch {
	case run.Err != nil:
		s.logger.Error().Err(run.Err).Msg("audit failed")
	case len(run.Drifts) > 0:
		s.logger.Error().Int("clients", len(run.Drifts)).Dur("duration", run.Duration).Msg("audit found drift")
	default:
		s.logger.Info().Dur("duration", run.Duration).Msg("audit clean")
	}

	s.mu.Lock()
	s.last = &run
	s.mu.Unlock()
	return run
}

// LastRun returns the most recent run, or nil.
func (s *AuditScheduler) LastRun() *AuditRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// NextRun returns when the next scheduled audit will start, or the zero
// time when the scheduler is not running.
func (s *AuditScheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}
