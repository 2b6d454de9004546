/*
accounts.go - Account ledger (single writer of account balances)

PURPOSE:
  Owns the balance field. The engine asks for deltas; this ledger turns
  them into fetch-add-write cycles against the row store.

CONCURRENCY:
  ApplyDelta is NOT atomic against concurrent deltas on the same account:
  two callers can read the same balance and the second write wins (lost
  update). Callers must serialize per account. The reconciler detects
  the drift this produces.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

type AccountLedger struct {
	table Table[Account, AccountPatch]
}

func NewAccountLedger(store RowStore) *AccountLedger {
	return &AccountLedger{table: store.Accounts()}
}

// Get returns the account row. NotFoundError when absent.
func (l *AccountLedger) Get(ctx context.Context, id AccountID) (Account, error) {
	acc, ok, err := selectOne(ctx, l.table, string(id))
	if err != nil {
		return Account{}, fmt.Errorf("select account %s: %w", id, err)
	}
	if !ok {
		return Account{}, notFound(EntityAccount, string(id))
	}
	return acc, nil
}

func (l *AccountLedger) GetBalance(ctx context.Context, id AccountID) (decimal.Decimal, error) {
	acc, err := l.Get(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return acc.Balance, nil
}

// ApplyDelta adds signed to the balance and returns the new balance.
func (l *AccountLedger) ApplyDelta(ctx context.Context, id AccountID, signed decimal.Decimal) (decimal.Decimal, error) {
	acc, err := l.Get(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	next := acc.Balance.Add(signed)
	updated, err := l.table.Update(ctx, string(id), AccountPatch{Balance: &next})
	if err != nil {
		if errors.Is(err, ErrRowNotFound) {
			return decimal.Zero, notFound(EntityAccount, string(id))
		}
		return decimal.Zero, fmt.Errorf("write balance of account %s: %w", id, err)
	}
	return updated.Balance, nil
}
