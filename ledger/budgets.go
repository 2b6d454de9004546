/*
budgets.go - Budget ledger (single writer of budget spent totals)

PURPOSE:
  Owns the spent field. Spent never goes below zero: a reversal larger
  than the current spent clamps at zero so rounding or a lost update
  cannot compound into a negative total.

ADVISORY:
  The ledger itself always reports failures. Whether a failure aborts the
  surrounding mutation is the engine's decision (Options.StrictBudget).
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BudgetChange records a spent update. Applied is After-Before, which can
// differ from the requested delta when the result was clamped.
type BudgetChange struct {
	BudgetID BudgetID
	Before   decimal.Decimal
	After    decimal.Decimal
}

func (c BudgetChange) Applied() decimal.Decimal { return c.After.Sub(c.Before) }

type BudgetLedger struct {
	table Table[Budget, BudgetPatch]
}

func NewBudgetLedger(store RowStore) *BudgetLedger {
	return &BudgetLedger{table: store.Budgets()}
}

func (l *BudgetLedger) Get(ctx context.Context, id BudgetID) (Budget, error) {
	b, ok, err := selectOne(ctx, l.table, string(id))
	if err != nil {
		return Budget{}, fmt.Errorf("select budget %s: %w", id, err)
	}
	if !ok {
		return Budget{}, notFound(EntityBudget, string(id))
	}
	return b, nil
}

// GetByCategory returns the owner's budget for category whose window
// covers on. found is false when no budget applies; that is not an error.
// When windows overlap the most recently created budget wins.
func (l *BudgetLedger) GetByCategory(ctx context.Context, owner OwnerID, category CategoryID, on time.Time) (Budget, bool, error) {
	rows, err := l.table.Select(ctx, Filter{Owner: owner, CategoryID: category})
	if err != nil {
		return Budget{}, false, fmt.Errorf("select budgets for category %s: %w", category, err)
	}
	var (
		best  Budget
		found bool
	)
	for _, b := range rows {
		if !b.Covers(on) {
			continue
		}
		if !found || b.CreatedAt.After(best.CreatedAt) {
			best, found = b, true
		}
	}
	return best, found, nil
}

// ApplySpentDelta adds signed to spent, clamped at zero.
func (l *BudgetLedger) ApplySpentDelta(ctx context.Context, id BudgetID, signed decimal.Decimal) (BudgetChange, error) {
	b, err := l.Get(ctx, id)
	if err != nil {
		return BudgetChange{}, err
	}
	next := b.Spent.Add(signed)
	if next.IsNegative() {
		next = decimal.Zero
	}
	updated, err := l.table.Update(ctx, string(id), BudgetPatch{Spent: &next})
	if err != nil {
		if errors.Is(err, ErrRowNotFound) {
			return BudgetChange{}, notFound(EntityBudget, string(id))
		}
		return BudgetChange{}, fmt.Errorf("write spent of budget %s: %w", id, err)
	}
	return BudgetChange{BudgetID: id, Before: b.Spent, After: updated.Spent}, nil
}
