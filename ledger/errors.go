/*
errors.go - Error taxonomy for the ledger engine

PURPOSE:
  All error types in one place. Sentinels work with errors.Is, structured
  errors carry context (entity, id, failed step) for errors.As so callers
  can render an actionable message.

ERROR CATEGORIES:
  1. Client errors - ValidationFailed, NotFound, InsufficientFunds, InUse.
     Raised before any write; nothing to compensate.
  2. Store errors - StoreWriteFailed. Raised after the primary write or a
     balance write failed. Reports whether compensation restored the store.
  3. Warnings - BudgetAdjustmentFailed. Attached to an otherwise
     successful Result, never returned as the operation error (except in
     strict budget mode, where it surfaces as the cause of StoreWriteFailed).

SEE ALSO:
  - saga.go: produces StoreWriteError
  - engine.go: produces the client errors
*/
package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidationFailed = errors.New("validation failed")

	ErrNotFound = errors.New("not found")

	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrStoreWriteFailed is returned when a write failed after validation.
	// The wrapping StoreWriteError says whether compensation succeeded.
	ErrStoreWriteFailed = errors.New("store write failed")

	// ErrBudgetAdjustmentFailed marks advisory budget failures.
	ErrBudgetAdjustmentFailed = errors.New("budget adjustment failed")

	// ErrInUse is returned when deleting a row other rows still reference.
	ErrInUse = errors.New("in use")

	// ErrRowNotFound is returned by RowStore implementations when an update
	// or delete targets a missing row. Ledgers translate it to NotFoundError.
	ErrRowNotFound = errors.New("row not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the first field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }

type NotFoundError struct {
	Kind EntityKind
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InsufficientFundsError provides details about a balance shortage.
type InsufficientFundsError struct {
	AccountID AccountID
	Available decimal.Decimal
	Requested decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds on account %s: available %s, requested %s, shortfall %s",
		e.AccountID, e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// StoreWriteError reports a failed write inside a mutation.
//
// Compensated is true when every step that had already succeeded was
// undone (vacuously true when the failing step was the first write).
// Orphaned names a transaction row left behind by a failed create whose
// compensation also failed; it needs manual reconciliation.
type StoreWriteError struct {
	Op          Operation
	Step        Step
	Compensated bool
	Orphaned    TransactionID
	Err         error
}

func (e *StoreWriteError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: store write failed at %s", e.Op, e.Step)
	if e.Compensated {
		b.WriteString(" (compensated)")
	} else {
		b.WriteString(" (NOT compensated)")
	}
	if e.Orphaned != "" {
		fmt.Fprintf(&b, " orphaned transaction %s", e.Orphaned)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *StoreWriteError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrStoreWriteFailed}
	}
	return []error{ErrStoreWriteFailed, e.Err}
}

// BudgetAdjustmentError is a non-fatal warning: the transaction and
// balance were committed but the budget's spent total was not moved.
type BudgetAdjustmentError struct {
	BudgetID BudgetID
	Delta    decimal.Decimal
	Err      error
}

func (e *BudgetAdjustmentError) Error() string {
	return fmt.Sprintf("budget %s not adjusted by %s: %v", e.BudgetID, e.Delta, e.Err)
}

func (e *BudgetAdjustmentError) Unwrap() []error {
	return []error{ErrBudgetAdjustmentFailed, e.Err}
}

type InUseError struct {
	Kind       EntityKind
	ID         string
	References int
}

func (e *InUseError) Error() string {
	return fmt.Sprintf("%s %s is still referenced by %d row(s)", e.Kind, e.ID, e.References)
}

func (e *InUseError) Unwrap() error { return ErrInUse }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidationFailed) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInUse)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// NeedsManualReconciliation returns true when a failed mutation could not
// restore the store to its prior state.
func NeedsManualReconciliation(err error) bool {
	var sw *StoreWriteError
	return errors.As(err, &sw) && !sw.Compensated
}

func validationErr(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func notFound(kind EntityKind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}
