/*
scheduler.go - Automated expiry sweep scheduler

PURPOSE:
  Periodically runs the forfeiture pass so carry-over balances expire
  without anyone hitting /toil/sweep by hand.

DESIGN:
  - cron (robfig/cron) drives the schedule; the spec is configurable
  - Each tick calls Engine.Sweep with the current time
  - Sweep is idempotent, so an extra run is harmless
  - Entries that keep losing the write race are skipped and picked up
    on the next tick

CONFIGURATION:
  - Spec: cron expression (default: "0 2 * * *", daily at 02:00)
  - Enabled: whether the scheduler runs at all

USAGE:
  scheduler := NewSweepScheduler(engine, "0 2 * * *")
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerSweep endpoint (manual pass)
  - toil/sweeper.go: Sweep implementation
*/
package api

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/saleemdev/toil-engine/toil"
)

// SweepScheduler runs the expiry sweep on a cron schedule.
type SweepScheduler struct {
	Engine  *toil.Engine
	Spec    string
	Enabled bool

	cron *cron.Cron
}

// NewSweepScheduler creates a scheduler with the given cron spec.
func NewSweepScheduler(engine *toil.Engine, spec string) *SweepScheduler {
	if spec == "" {
		spec = "0 2 * * *"
	}
	return &SweepScheduler{
		Engine:  engine,
		Spec:    spec,
		Enabled: true,
	}
}

// Start begins the scheduler.
func (s *SweepScheduler) Start() error {
	if !s.Enabled {
		log.Println("[Sweeper] Disabled, not starting")
		return nil
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.Spec, s.runOnce); err != nil {
		return err
	}
	s.cron.Start()

	log.Printf("[Sweeper] Started with schedule: %s", s.Spec)
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *SweepScheduler) Stop() {
	if s.cron == nil {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Println("[Sweeper] Stopped")
}

// RunNow triggers an immediate sweep (for testing/admin).
func (s *SweepScheduler) RunNow() {
	s.runOnce()
}

func (s *SweepScheduler) runOnce() {
	ctx := context.Background()
	asOf := time.Now().UTC()

	result, err := s.Engine.Sweep(ctx, asOf)
	if err != nil {
		log.Printf("[Sweeper] Sweep failed: %v", err)
		return
	}

	if result.EntriesExpired > 0 {
		log.Printf("[Sweeper] Expired %d entries, forfeited %s days",
			result.EntriesExpired, result.DaysForfeited.String())
	}
}
