/*
scheduler.go - Automated reconciliation scheduler

PURPOSE:
  Periodically audits every owner's balances and spent totals against
  their transactions and records each run. The scheduler only reports
  drift; repairs are requested explicitly via POST /api/reconcile?repair=true.

DESIGN:
  - Runs until its context is cancelled (fits an errgroup)
  - Lists owners from the backend on every tick
  - Goes through Sessions, so it never interleaves with an owner's requests
  - Records a run per owner, failed or not

CONFIGURATION:
  - Interval: how often to check (RECONCILE_INTERVAL, default 1h; 0 disables)

USAGE:
  scheduler := NewReconciliationScheduler(backend, sessions, time.Hour, log)
  g.Go(func() error { return scheduler.Run(ctx) })

SEE ALSO:
  - handlers.go: Reconcile endpoint (manual reconciliation)
  - ledger/reconcile.go: Engine.Reconcile
*/
package api

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/finance-ledger/ledger"
)

// ReconciliationScheduler handles automated drift audits.
type ReconciliationScheduler struct {
	backend  Backend
	sessions *Sessions
	interval time.Duration
	log      zerolog.Logger
}

func NewReconciliationScheduler(backend Backend, sessions *Sessions, interval time.Duration, log zerolog.Logger) *ReconciliationScheduler {
	return &ReconciliationScheduler{
		backend:  backend,
		sessions: sessions,
		interval: interval,
		log:      log.With().Str("component", "scheduler").Logger(),
	}
}

// Run audits immediately, then on every tick until ctx is done. A zero
// interval disables the scheduler.
func (rs *ReconciliationScheduler) Run(ctx context.Context) error {
	if rs.interval <= 0 {
		rs.log.Info().Msg("disabled, not starting")
		return nil
	}
	rs.log.Info().Dur("interval", rs.interval).Msg("started")

	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	rs.runOnce(ctx)
	for {
		select {
		case <-ticker.C:
			rs.runOnce(ctx)
		case <-ctx.Done():
			rs.log.Info().Msg("stopped")
			return nil
		}
	}
}

// runOnce audits every known owner and returns how many had drift.
func (rs *ReconciliationScheduler) runOnce(ctx context.Context) int {
	owners, err := rs.backend.Owners(ctx)
	if err != nil {
		rs.log.Error().Err(err).Msg("list owners")
		return 0
	}

	drifted := 0
	for _, owner := range owners {
		if ctx.Err() != nil {
			break
		}
		run := rs.reconcile(ledger.WithOwner(ctx, owner), owner)
		if run.Drifts > 0 {
			drifted++
		}
		if err := rs.backend.SaveRun(ctx, run); err != nil {
			rs.log.Error().Err(err).Str("owner", string(owner)).Msg("record reconciliation run")
		}
	}

	if drifted > 0 {
		rs.log.Warn().Int("owners", len(owners)).Int("drifted", drifted).Msg("reconciliation found drift")
	} else {
		rs.log.Debug().Int("owners", len(owners)).Msg("reconciliation clean")
	}
	return drifted
}

func (rs *ReconciliationScheduler) reconcile(ctx context.Context, owner ledger.OwnerID) ledger.ReconciliationRun {
	var (
		report ledger.ReconcileReport
		recErr error
	)
	err := rs.sessions.Do(ctx, func(e *ledger.Engine) error {
		report, recErr = e.Reconcile(ctx, false)
		return nil
	})
	if err == nil {
		err = recErr
	}
	if err != nil {
		rs.log.Error().Err(err).Str("owner", string(owner)).Msg("reconcile")
	}

	run := ledger.RunOf(report, false, err)
	run.ID = uuid.NewString()
	run.Owner = owner
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	return run
}
