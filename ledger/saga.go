/*
saga.go - Ordered writes with compensation

PURPOSE:
  The row store cannot apply several writes atomically, so every
  transaction mutation is a saga: an ordered list of steps, each knowing
  how to undo itself. If a required step fails, the steps that already
  succeeded are undone in reverse order and the caller receives a
  StoreWriteError saying whether that worked.

STATE MACHINE (per operation):
  Validating → Writing(primary) → AdjustingBalance → AdjustingBudget → Committed
                    │                    │
                    └────────────────────┴──→ Aborted(compensated bool)

  Validation happens in the engine before the saga starts. A failure in
  the first write aborts with nothing to undo. Advisory steps (budget
  adjustments outside strict mode) never abort; their failures become
  warnings on the result.

CANCELLATION:
  The runner checks ctx between forward steps. Once any write succeeded,
  a cancelled context stops forward progress but compensation still runs
  under context.WithoutCancel, so a cancelled create never leaves an
  orphaned row behind when the store is healthy.

RETRIES:
  Undo operations are retried with exponential backoff. NotFound errors
  are permanent and not retried.
*/
package ledger

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Operation names a public engine mutation.
type Operation string

const (
	OpCreateTransaction Operation = "create_transaction"
	OpUpdateTransaction Operation = "update_transaction"
	OpDeleteTransaction Operation = "delete_transaction"
)

// Step names a write inside an operation.
type Step string

const (
	StepInsertRow     Step = "insert_row"
	StepUpdateRow     Step = "update_row"
	StepDeleteRow     Step = "delete_row"
	StepAdjustBalance Step = "adjust_balance"
	StepAdjustBudget  Step = "adjust_budget"
)

// Stage is the state-machine position of an operation.
type Stage string

const (
	StageValidating       Stage = "validating"
	StageWriting          Stage = "writing"
	StageAdjustingBalance Stage = "adjusting_balance"
	StageAdjustingBudget  Stage = "adjusting_budget"
	StageCommitted        Stage = "committed"
	StageAborted          Stage = "aborted"
)

func (s Step) Stage() Stage {
	switch s {
	case StepAdjustBalance:
		return StageAdjustingBalance
	case StepAdjustBudget:
		return StageAdjustingBudget
	default:
		return StageWriting
	}
}

type sagaStep struct {
	step     Step
	advisory bool

	// Budget context for warnings.
	budgetID BudgetID
	delta    decimal.Decimal

	do   func(ctx context.Context) error
	undo func(ctx context.Context) error

	// onUndoFailed lets a step annotate the final error, e.g. to name an
	// orphaned row.
	onUndoFailed func(sw *StoreWriteError)
}

type saga struct {
	op      Operation
	log     zerolog.Logger
	retries uint64
	steps   []sagaStep
}

func (s *saga) add(st sagaStep) { s.steps = append(s.steps, st) }

// run executes the steps. Warnings are returned even when err != nil.
func (s *saga) run(ctx context.Context) ([]*BudgetAdjustmentError, error) {
	var (
		warnings []*BudgetAdjustmentError
		done     []int
	)
	for i, st := range s.steps {
		if err := ctx.Err(); err != nil {
			return warnings, s.abort(ctx, st.step, done, err, &warnings)
		}
		s.log.Debug().Str("stage", string(st.step.Stage())).Str("step", string(st.step)).Msg("saga step")

		if err := st.do(ctx); err != nil {
			if st.advisory {
				w := &BudgetAdjustmentError{BudgetID: st.budgetID, Delta: st.delta, Err: err}
				warnings = append(warnings, w)
				s.log.Warn().Err(err).Str("budget_id", string(st.budgetID)).
					Str("delta", st.delta.String()).Msg("budget adjustment failed, continuing")
				continue
			}
			if st.step == StepAdjustBudget {
				err = &BudgetAdjustmentError{BudgetID: st.budgetID, Delta: st.delta, Err: err}
			}
			return warnings, s.abort(ctx, st.step, done, err, &warnings)
		}
		done = append(done, i)
	}
	s.log.Debug().Str("stage", string(StageCommitted)).Msg("saga committed")
	return warnings, nil
}

func (s *saga) abort(ctx context.Context, failed Step, done []int, cause error, warnings *[]*BudgetAdjustmentError) error {
	cctx := context.WithoutCancel(ctx)
	sw := &StoreWriteError{Op: s.op, Step: failed, Compensated: true, Err: cause}

	s.log.Warn().Err(cause).Str("step", string(failed)).Int("undo_steps", len(done)).Msg("saga aborting")

	for j := len(done) - 1; j >= 0; j-- {
		st := s.steps[done[j]]
		if st.undo == nil {
			continue
		}
		err := s.retry(cctx, st.undo)
		if err == nil {
			continue
		}
		if st.advisory {
			*warnings = append(*warnings, &BudgetAdjustmentError{BudgetID: st.budgetID, Delta: st.delta.Neg(), Err: err})
			s.log.Warn().Err(err).Str("budget_id", string(st.budgetID)).Msg("budget compensation failed")
			continue
		}
		sw.Compensated = false
		if st.onUndoFailed != nil {
			st.onUndoFailed(sw)
		}
		s.log.Error().Err(err).Str("step", string(st.step)).Msg("compensation failed, manual reconciliation required")
	}

	s.log.Info().Str("stage", string(StageAborted)).Bool("compensated", sw.Compensated).Msg("saga aborted")
	return sw
}

func (s *saga) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 10 * time.Millisecond
	eb.MaxInterval = 250 * time.Millisecond
	b := backoff.WithContext(backoff.WithMaxRetries(eb, s.retries), ctx)

	return backoff.Retry(func() error {
		err := fn(ctx)
		if err != nil && IsNotFound(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}
