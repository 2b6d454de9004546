/*
reconcile.go - Drift audit for derived balances and spent totals

PURPOSE:
  Balances and spent totals are maintained incrementally and never
  recomputed on the hot path. Reconcile recomputes them from the stored
  transactions and reports every row whose stored value differs:

    account: expected = OpeningBalance + Σ effects
    budget:  expected = max(0, Σ amounts of linked expenses)

  Drift comes from lost updates (unserialized callers), compensation that
  failed, or orphaned rows. With repair=true each drift is corrected by a
  single delta through the owning ledger, never by a direct field write,
  and stored transactions the projection does not know (such as an orphan
  left by a failed create) are adopted into it, since the repaired totals
  now count them. Delete an adopted orphan through the engine to undo it.

SEE ALSO:
  - api/scheduler.go: periodic audit runs
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Drift is one row whose stored derived value is wrong.
type Drift struct {
	Kind     EntityKind
	ID       string
	Name     string
	Recorded decimal.Decimal
	Expected decimal.Decimal
	Repaired bool
}

// Difference is Expected - Recorded, the delta a repair applies.
func (d Drift) Difference() decimal.Decimal { return d.Expected.Sub(d.Recorded) }

type ReconcileReport struct {
	Owner           OwnerID
	CheckedAccounts int
	CheckedBudgets  int
	Drifts          []Drift
	StartedAt       time.Time
	FinishedAt      time.Time
}

func (r ReconcileReport) Clean() bool { return len(r.Drifts) == 0 }

// Reconcile audits the owner's accounts and budgets against their
// transactions. Repairs refresh the projection as they go.
func (e *Engine) Reconcile(ctx context.Context, repair bool) (ReconcileReport, error) {
	owner, err := e.ownerOf(ctx)
	if err != nil {
		return ReconcileReport{}, err
	}
	report := ReconcileReport{Owner: owner, StartedAt: e.opts.Now().UTC()}

	f := Filter{Owner: owner}
	txs, err := e.store.Transactions().Select(ctx, f)
	if err != nil {
		return report, fmt.Errorf("reconcile: select transactions: %w", err)
	}
	accounts, err := e.store.Accounts().Select(ctx, f)
	if err != nil {
		return report, fmt.Errorf("reconcile: select accounts: %w", err)
	}
	budgets, err := e.store.Budgets().Select(ctx, f)
	if err != nil {
		return report, fmt.Errorf("reconcile: select budgets: %w", err)
	}

	effects := make(map[AccountID]decimal.Decimal)
	linked := make(map[BudgetID]decimal.Decimal)
	for _, tx := range txs {
		eff := EffectOf(tx)
		effects[eff.Account.AccountID] = effects[eff.Account.AccountID].Add(eff.Account.Amount)
		if eff.Budget != nil {
			linked[eff.Budget.BudgetID] = linked[eff.Budget.BudgetID].Add(eff.Budget.Amount)
		}
	}

	log := e.log.With().Str("owner", string(owner)).Bool("repair", repair).Logger()

	if repair {
		for i := len(txs) - 1; i >= 0; i-- {
			if _, ok := e.cache.Transaction(txs[i].ID); ok {
				continue
			}
			e.cache.prependTransaction(txs[i])
			log.Warn().Str("transaction_id", string(txs[i].ID)).Msg("adopted unknown transaction")
		}
	}

	for _, acc := range accounts {
		report.CheckedAccounts++
		expected := acc.OpeningBalance.Add(effects[acc.ID])
		if expected.Equal(acc.Balance) {
			continue
		}
		d := Drift{Kind: EntityAccount, ID: string(acc.ID), Name: acc.Name, Recorded: acc.Balance, Expected: expected}
		if repair {
			balance, err := e.accounts.ApplyDelta(ctx, acc.ID, d.Difference())
			if err != nil {
				return report, fmt.Errorf("reconcile: repair account %s: %w", acc.ID, err)
			}
			e.cache.setBalance(acc.ID, balance)
			d.Repaired = true
		}
		log.Warn().Str("account_id", string(acc.ID)).Str("recorded", d.Recorded.String()).
			Str("expected", d.Expected.String()).Bool("repaired", d.Repaired).Msg("balance drift")
		report.Drifts = append(report.Drifts, d)
	}

	for _, b := range budgets {
		report.CheckedBudgets++
		expected := linked[b.ID]
		if expected.IsNegative() {
			expected = decimal.Zero
		}
		if expected.Equal(b.Spent) {
			continue
		}
		d := Drift{Kind: EntityBudget, ID: string(b.ID), Name: b.Name, Recorded: b.Spent, Expected: expected}
		if repair {
			change, err := e.budgets.ApplySpentDelta(ctx, b.ID, d.Difference())
			if err != nil {
				return report, fmt.Errorf("reconcile: repair budget %s: %w", b.ID, err)
			}
			e.cache.setSpent(b.ID, change.After)
			d.Repaired = true
		}
		log.Warn().Str("budget_id", string(b.ID)).Str("recorded", d.Recorded.String()).
			Str("expected", d.Expected.String()).Bool("repaired", d.Repaired).Msg("spent drift")
		report.Drifts = append(report.Drifts, d)
	}

	report.FinishedAt = e.opts.Now().UTC()
	log.Info().Int("accounts", report.CheckedAccounts).Int("budgets", report.CheckedBudgets).
		Int("drifts", len(report.Drifts)).Msg("reconciliation finished")
	return report, nil
}

// =============================================================================
// RUN LOG
// =============================================================================

type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// ReconciliationRun is the persisted outcome of one Reconcile call.
type ReconciliationRun struct {
	ID              string
	Owner           OwnerID
	Repair          bool
	Status          RunStatus
	CheckedAccounts int
	CheckedBudgets  int
	Drifts          int
	Repaired        int
	Error           string
	StartedAt       time.Time
	CompletedAt     time.Time
}

// RunOf summarizes a report (and the error Reconcile returned with it).
func RunOf(report ReconcileReport, repair bool, err error) ReconciliationRun {
	run := ReconciliationRun{
		Owner:           report.Owner,
		Repair:          repair,
		Status:          RunCompleted,
		CheckedAccounts: report.CheckedAccounts,
		CheckedBudgets:  report.CheckedBudgets,
		Drifts:          len(report.Drifts),
		StartedAt:       report.StartedAt,
		CompletedAt:     report.FinishedAt,
	}
	for _, d := range report.Drifts {
		if d.Repaired {
			run.Repaired++
		}
	}
	if err != nil {
		run.Status = RunFailed
		run.Error = err.Error()
	}
	return run
}

// RunLog stores reconciliation runs, newest first.
type RunLog interface {
	SaveRun(ctx context.Context, run ReconciliationRun) error
	Runs(ctx context.Context, owner OwnerID, limit int) ([]ReconciliationRun, error)
}
