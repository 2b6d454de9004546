/*
effect.go - Signed effects of transactions

PURPOSE:
  A transaction's effect is what it does to derived state:
    Income  → +amount on its account
    Expense → -amount on its account, +amount on its budget's spent
              (when linked to a budget)

  Edits are expressed as "reverse the old effect, apply the new one".
  ReapplyEffect computes that as a set of per-target deltas so the engine
  never scatters sign arithmetic across call sites.

INVARIANT (tested in effect_test.go):
  Applying EffectOf(prev).Reverse() then EffectOf(next) to any state yields
  the same state as applying the deltas returned by ReapplyEffect(prev, next).
*/
package ledger

import (
	"github.com/shopspring/decimal"
)

// AccountDelta is a signed change to one account balance.
type AccountDelta struct {
	AccountID AccountID
	Amount    decimal.Decimal
}

// BudgetDelta is a signed change to one budget's spent total.
type BudgetDelta struct {
	BudgetID BudgetID
	Amount   decimal.Decimal
}

// Effect is the full signed effect of one transaction.
type Effect struct {
	Account AccountDelta
	Budget  *BudgetDelta
}

// EffectOf returns the effect a transaction has while it exists.
func EffectOf(tx Transaction) Effect {
	e := Effect{Account: AccountDelta{AccountID: tx.AccountID, Amount: tx.Amount}}
	if tx.Kind == KindExpense {
		e.Account.Amount = tx.Amount.Neg()
		if tx.BudgetID != "" {
			e.Budget = &BudgetDelta{BudgetID: tx.BudgetID, Amount: tx.Amount}
		}
	}
	return e
}

// Reverse returns the effect that cancels e.
func (e Effect) Reverse() Effect {
	r := Effect{Account: AccountDelta{AccountID: e.Account.AccountID, Amount: e.Account.Amount.Neg()}}
	if e.Budget != nil {
		r.Budget = &BudgetDelta{BudgetID: e.Budget.BudgetID, Amount: e.Budget.Amount.Neg()}
	}
	return r
}

// Reapplication is the set of deltas that moves derived state from "old
// transaction applied" to "new transaction applied". Account deltas on the
// same account are netted and a zero net is dropped. Budget deltas are never
// netted: spent is clamped at zero per step, so the old charge is released
// before the new one is applied, even on the same budget.
type Reapplication struct {
	Accounts []AccountDelta
	Budgets  []BudgetDelta
}

func (r Reapplication) IsZero() bool { return len(r.Accounts) == 0 && len(r.Budgets) == 0 }

// ReapplyEffect computes the deltas for editing prev into next.
func ReapplyEffect(prev, next Transaction) Reapplication {
	rev := EffectOf(prev).Reverse()
	fwd := EffectOf(next)

	var r Reapplication
	r.Accounts = combineAccounts(rev.Account, fwd.Account)

	if rev.Budget != nil {
		r.Budgets = append(r.Budgets, *rev.Budget)
	}
	if fwd.Budget != nil {
		r.Budgets = append(r.Budgets, *fwd.Budget)
	}
	return r
}

func combineAccounts(rev, fwd AccountDelta) []AccountDelta {
	if rev.AccountID == fwd.AccountID {
		net := rev.Amount.Add(fwd.Amount)
		if net.IsZero() {
			return nil
		}
		return []AccountDelta{{AccountID: fwd.AccountID, Amount: net}}
	}
	return []AccountDelta{rev, fwd}
}
