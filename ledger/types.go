/*
Package ledger provides the finance ledger mutation engine.

PURPOSE:
  Keeps accounts, budgets and transactions mutually consistent on top of a
  row store that only guarantees single-row atomicity. Every transaction
  write moves exactly one account balance and, for budgeted expenses,
  exactly one budget's spent total. Edits and deletions undo the prior
  effect before applying the new one.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: balance holder (Bank, Wallet, Credit)
  - Budget: spending allocation for a category over a window
  - Category: income/expense classification
  - Transaction: a single income or expense against one account
  - Patches: partial updates sent to the row store
  - Owner: identity stamped on every write, carried in the context

DESIGN PRINCIPLES:
  1. Precision: all money is decimal.Decimal, never float64
  2. Single writer of derived state: balance and spent only change
     through AccountLedger / BudgetLedger
  3. No ambient identity: the owner travels in context.Context

SEE ALSO:
  - effect.go: signed effect of a transaction and ReapplyEffect
  - engine.go: create/update/delete orchestration
  - store.go: row store contract
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OwnerID string
type AccountID string
type BudgetID string
type CategoryID string
type TransactionID string

// =============================================================================
// CLASSIFICATIONS
// =============================================================================

// Kind is the direction of a transaction or category.
type Kind string

const (
	KindIncome  Kind = "Income"
	KindExpense Kind = "Expense"
)

func (k Kind) Valid() bool { return k == KindIncome || k == KindExpense }

type AccountType string

const (
	AccountBank   AccountType = "Bank"
	AccountWallet AccountType = "Wallet"
	AccountCredit AccountType = "Credit"
)

func (t AccountType) Valid() bool {
	return t == AccountBank || t == AccountWallet || t == AccountCredit
}

// EntityKind names a row type in errors and logs.
type EntityKind string

const (
	EntityAccount     EntityKind = "account"
	EntityBudget      EntityKind = "budget"
	EntityCategory    EntityKind = "category"
	EntityTransaction EntityKind = "transaction"
)

// =============================================================================
// ROWS
// =============================================================================

// Account holds a running balance.
//
// INVARIANT: Balance == OpeningBalance + sum of effects of every transaction
// attributed to the account. OpeningBalance is fixed at creation.
type Account struct {
	ID             AccountID
	Owner          OwnerID
	Name           string
	Type           AccountType
	Balance        decimal.Decimal
	OpeningBalance decimal.Decimal
	CreatedAt      time.Time
}

// Budget tracks how much of Total has been spent by expenses linked to it.
//
// INVARIANT: Spent == max(0, sum of amounts of attributed expenses).
type Budget struct {
	ID         BudgetID
	Owner      OwnerID
	Name       string
	CategoryID CategoryID
	Total      decimal.Decimal
	Spent      decimal.Decimal
	StartDate  time.Time
	EndDate    time.Time
	CreatedAt  time.Time
}

// Covers reports whether day falls inside the budget window (inclusive).
func (b Budget) Covers(day time.Time) bool {
	d := truncateDay(day)
	return !d.Before(truncateDay(b.StartDate)) && !d.After(truncateDay(b.EndDate))
}

// Remaining is Total - Spent, possibly negative when over budget.
func (b Budget) Remaining() decimal.Decimal { return b.Total.Sub(b.Spent) }

type Category struct {
	ID          CategoryID
	Owner       OwnerID
	Name        string
	Kind        Kind
	Description string
}

// Transaction is a single income or expense. BudgetID is empty when the
// transaction is not attributed to a budget.
type Transaction struct {
	ID          TransactionID
	Owner       OwnerID
	AccountID   AccountID
	CategoryID  CategoryID
	BudgetID    BudgetID
	Amount      decimal.Decimal
	Kind        Kind
	Date        time.Time
	Description string
	CreatedAt   time.Time
}

// =============================================================================
// PATCHES - nil fields are left untouched
// =============================================================================

type AccountPatch struct {
	Name    *string
	Type    *AccountType
	Balance *decimal.Decimal
}

func (a Account) WithPatch(p AccountPatch) Account {
	if p.Name != nil {
		a.Name = *p.Name
	}
	if p.Type != nil {
		a.Type = *p.Type
	}
	if p.Balance != nil {
		a.Balance = *p.Balance
	}
	return a
}

type BudgetPatch struct {
	Name       *string
	CategoryID *CategoryID
	Total      *decimal.Decimal
	Spent      *decimal.Decimal
	StartDate  *time.Time
	EndDate    *time.Time
}

func (b Budget) WithPatch(p BudgetPatch) Budget {
	if p.Name != nil {
		b.Name = *p.Name
	}
	if p.CategoryID != nil {
		b.CategoryID = *p.CategoryID
	}
	if p.Total != nil {
		b.Total = *p.Total
	}
	if p.Spent != nil {
		b.Spent = *p.Spent
	}
	if p.StartDate != nil {
		b.StartDate = *p.StartDate
	}
	if p.EndDate != nil {
		b.EndDate = *p.EndDate
	}
	return b
}

type CategoryPatch struct {
	Name        *string
	Kind        *Kind
	Description *string
}

func (c Category) WithPatch(p CategoryPatch) Category {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Kind != nil {
		c.Kind = *p.Kind
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	return c
}

// TransactionPatch is a partial transaction update. BudgetID set to a
// pointer to "" unlinks the budget.
type TransactionPatch struct {
	AccountID   *AccountID
	CategoryID  *CategoryID
	BudgetID    *BudgetID
	Amount      *decimal.Decimal
	Kind        *Kind
	Date        *time.Time
	Description *string
}

func (t Transaction) WithPatch(p TransactionPatch) Transaction {
	if p.AccountID != nil {
		t.AccountID = *p.AccountID
	}
	if p.CategoryID != nil {
		t.CategoryID = *p.CategoryID
	}
	if p.BudgetID != nil {
		t.BudgetID = *p.BudgetID
	}
	if p.Amount != nil {
		t.Amount = *p.Amount
	}
	if p.Kind != nil {
		t.Kind = *p.Kind
	}
	if p.Date != nil {
		t.Date = *p.Date
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	return t
}

// IsEmpty reports whether the patch changes nothing.
func (p TransactionPatch) IsEmpty() bool {
	return p.AccountID == nil && p.CategoryID == nil && p.BudgetID == nil &&
		p.Amount == nil && p.Kind == nil && p.Date == nil && p.Description == nil
}

// fullPatch returns a patch that rewrites every mutable field to t's values.
// Used to restore a row during compensation.
func (t Transaction) fullPatch() TransactionPatch {
	return TransactionPatch{
		AccountID:   &t.AccountID,
		CategoryID:  &t.CategoryID,
		BudgetID:    &t.BudgetID,
		Amount:      &t.Amount,
		Kind:        &t.Kind,
		Date:        &t.Date,
		Description: &t.Description,
	}
}

// =============================================================================
// OWNER CONTEXT
// =============================================================================

type ownerKey struct{}

// WithOwner returns a context carrying the acting owner. Every engine call
// reads the owner from here to stamp and scope its writes.
func WithOwner(ctx context.Context, owner OwnerID) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// OwnerFrom returns the owner stored by WithOwner.
func OwnerFrom(ctx context.Context) (OwnerID, bool) {
	owner, ok := ctx.Value(ownerKey{}).(OwnerID)
	return owner, ok && owner != ""
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
