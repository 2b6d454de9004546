/*
engine.go - Transaction mutation engine

PURPOSE:
  The public write surface for transactions. Each operation validates,
  computes effects, and runs a saga of single-row writes through the row
  store, the AccountLedger and the BudgetLedger. Only after the saga
  commits does it touch the projection cache.

OPERATIONS:
  CreateTransaction: insert row → adjust balance → adjust budget (advisory)
  UpdateTransaction: update row → reapply balance → reapply budget (advisory)
  DeleteTransaction: reverse balance → reverse budget (advisory) → delete row

COMPENSATION POLICY:
  Create: a failed balance write deletes the inserted row. If that delete
          also fails, the error names the orphaned row.
  Update: a failed balance write undoes the balance deltas already applied
          and restores the row's previous field values (abort, not
          continue).
  Delete: a failed row delete re-applies the reversed effect so the
          transaction stays live and consistent; the caller may retry.
  Strict budget mode turns budget failures into required steps with the
  same compensation rules.

CONCURRENCY:
  The engine has no locks of its own. It expects one logical caller per
  owner (see api.Sessions). Interleaved callers on the same account can
  lose updates; Reconcile detects that.

OWNER:
  Every call reads the acting owner from the context (WithOwner). The
  first Load or mutation binds the engine to that owner.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// MaxDescriptionLength bounds Transaction.Description (in runes).
const MaxDescriptionLength = 500

// =============================================================================
// OPTIONS
// =============================================================================

type Options struct {
	// Logger defaults to a no-op logger.
	Logger *zerolog.Logger

	// Notifier receives post-commit events. Optional.
	Notifier Notifier

	// StrictBudget makes budget adjustments required steps.
	StrictBudget bool

	// AutoAttachBudget links an expense created without a budget to the
	// category's budget covering its date, when there is one.
	AutoAttachBudget bool

	// CompensationRetries is the number of retries for each undo write.
	CompensationRetries int

	// Now defaults to time.Now.
	Now func() time.Time
}

func DefaultOptions() Options {
	return Options{CompensationRetries: 3}
}

// =============================================================================
// EVENTS
// =============================================================================

type EventType string

const (
	EventTransactionCreated EventType = "transaction.created"
	EventTransactionUpdated EventType = "transaction.updated"
	EventTransactionDeleted EventType = "transaction.deleted"
)

// Event describes a committed transaction mutation.
type Event struct {
	Type        EventType
	Owner       OwnerID
	Transaction Transaction
	Warnings    []string
	At          time.Time
}

// Notifier is told about committed mutations. Failures are logged and
// never affect the mutation result.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store    RowStore
	accounts *AccountLedger
	budgets  *BudgetLedger
	cache    *Projection
	opts     Options
	log      zerolog.Logger
	owner    OwnerID
}

func NewEngine(store RowStore, opts Options) *Engine {
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CompensationRetries < 0 {
		opts.CompensationRetries = 0
	}
	return &Engine{
		store:    store,
		accounts: NewAccountLedger(store),
		budgets:  NewBudgetLedger(store),
		cache:    NewProjection(),
		opts:     opts,
		log:      log.With().Str("component", "ledger").Logger(),
	}
}

// View returns the read-only projection.
func (e *Engine) View() View { return e.cache }

func (e *Engine) Accounts() *AccountLedger { return e.accounts }
func (e *Engine) Budgets() *BudgetLedger   { return e.budgets }

// Load fills the projection with the owner's rows from the store.
func (e *Engine) Load(ctx context.Context) error {
	owner, err := e.ownerOf(ctx)
	if err != nil {
		return err
	}
	f := Filter{Owner: owner}
	txs, err := e.store.Transactions().Select(ctx, f)
	if err != nil {
		return fmt.Errorf("load transactions: %w", err)
	}
	accounts, err := e.store.Accounts().Select(ctx, f)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	budgets, err := e.store.Budgets().Select(ctx, f)
	if err != nil {
		return fmt.Errorf("load budgets: %w", err)
	}
	categories, err := e.store.Categories().Select(ctx, f)
	if err != nil {
		return fmt.Errorf("load categories: %w", err)
	}
	e.cache.Replace(txs, accounts, budgets, categories)
	e.log.Debug().Str("owner", string(owner)).Int("transactions", len(txs)).
		Int("accounts", len(accounts)).Int("budgets", len(budgets)).Msg("projection loaded")
	return nil
}

// Result is the canonical record of a committed mutation plus any
// advisory warnings.
type Result struct {
	Transaction Transaction
	Warnings    []*BudgetAdjustmentError
}

// =============================================================================
// CREATE
// =============================================================================

type NewTransaction struct {
	AccountID   AccountID
	CategoryID  CategoryID
	BudgetID    BudgetID
	Amount      decimal.Decimal
	Kind        Kind
	Date        time.Time
	Description string
}

func (e *Engine) CreateTransaction(ctx context.Context, in NewTransaction) (Result, error) {
	owner, err := e.ownerOf(ctx)
	if err != nil {
		return Result{}, err
	}
	if err := validateNew(in); err != nil {
		return Result{}, err
	}

	acc, err := e.ownedAccount(ctx, owner, in.AccountID)
	if err != nil {
		return Result{}, err
	}

	budgetID := in.BudgetID
	if budgetID != "" {
		if _, err := e.ownedBudget(ctx, owner, budgetID); err != nil {
			return Result{}, err
		}
	} else if e.opts.AutoAttachBudget && in.Kind == KindExpense {
		b, ok, err := e.budgets.GetByCategory(ctx, owner, in.CategoryID, in.Date)
		if err != nil {
			return Result{}, err
		}
		if ok {
			budgetID = b.ID
		}
	}

	if in.Kind == KindExpense && acc.Balance.LessThan(in.Amount) {
		return Result{}, &InsufficientFundsError{
			AccountID: acc.ID,
			Available: acc.Balance,
			Requested: in.Amount,
			Shortfall: in.Amount.Sub(acc.Balance),
		}
	}

	row := Transaction{
		Owner:       owner,
		AccountID:   in.AccountID,
		CategoryID:  in.CategoryID,
		BudgetID:    budgetID,
		Amount:      in.Amount,
		Kind:        in.Kind,
		Date:        in.Date,
		Description: in.Description,
		CreatedAt:   e.opts.Now().UTC(),
	}
	effect := EffectOf(row)

	var (
		created  Transaction
		balances = make(map[AccountID]decimal.Decimal)
		spent    = make(map[BudgetID]decimal.Decimal)
		txs      = e.store.Transactions()
	)
	s := e.newSaga(OpCreateTransaction, owner, "")
	s.add(sagaStep{
		step: StepInsertRow,
		do: func(ctx context.Context) error {
			var err error
			created, err = txs.Insert(ctx, row)
			return err
		},
		undo: func(ctx context.Context) error {
			err := txs.Delete(ctx, string(created.ID))
			if errors.Is(err, ErrRowNotFound) {
				return nil
			}
			return err
		},
		onUndoFailed: func(sw *StoreWriteError) { sw.Orphaned = created.ID },
	})
	s.add(e.balanceStep(effect.Account, balances))
	if effect.Budget != nil {
		s.add(e.budgetStep(*effect.Budget, spent))
	}

	warnings, err := s.run(ctx)
	if err != nil {
		return Result{Warnings: warnings}, err
	}

	e.cache.prependTransaction(created)
	e.commitDerived(balances, spent)
	e.notify(ctx, EventTransactionCreated, created, warnings)
	return Result{Transaction: created, Warnings: warnings}, nil
}

// =============================================================================
// UPDATE
// =============================================================================

func (e *Engine) UpdateTransaction(ctx context.Context, id TransactionID, patch TransactionPatch) (Result, error) {
	owner, err := e.ownerOf(ctx)
	if err != nil {
		return Result{}, err
	}
	prev, ok := e.cache.Transaction(id)
	if !ok {
		return Result{}, notFound(EntityTransaction, string(id))
	}
	if err := validatePatch(patch); err != nil {
		return Result{}, err
	}
	if patch.IsEmpty() {
		return Result{Transaction: prev}, nil
	}

	next := prev.WithPatch(patch)
	if next.AccountID != prev.AccountID {
		if _, err := e.ownedAccount(ctx, owner, next.AccountID); err != nil {
			return Result{}, err
		}
	}
	if next.BudgetID != "" && next.BudgetID != prev.BudgetID {
		if _, err := e.ownedBudget(ctx, owner, next.BudgetID); err != nil {
			return Result{}, err
		}
	}

	re := ReapplyEffect(prev, next)

	var (
		updated  Transaction
		balances = make(map[AccountID]decimal.Decimal)
		spent    = make(map[BudgetID]decimal.Decimal)
		txs      = e.store.Transactions()
	)
	s := e.newSaga(OpUpdateTransaction, owner, id)
	s.add(sagaStep{
		step: StepUpdateRow,
		do: func(ctx context.Context) error {
			var err error
			updated, err = txs.Update(ctx, string(id), patch)
			if errors.Is(err, ErrRowNotFound) {
				return notFound(EntityTransaction, string(id))
			}
			return err
		},
		undo: func(ctx context.Context) error {
			_, err := txs.Update(ctx, string(id), prev.fullPatch())
			return err
		},
	})
	for _, d := range re.Accounts {
		s.add(e.balanceStep(d, balances))
	}
	for _, d := range re.Budgets {
		s.add(e.budgetStep(d, spent))
	}

	warnings, err := s.run(ctx)
	if err != nil {
		return Result{Warnings: warnings}, err
	}

	e.cache.replaceTransaction(updated)
	e.commitDerived(balances, spent)
	e.notify(ctx, EventTransactionUpdated, updated, warnings)
	return Result{Transaction: updated, Warnings: warnings}, nil
}

// =============================================================================
// DELETE
// =============================================================================

// DeleteTransaction reverses the transaction's effect and removes it. The
// returned Result carries the deleted record.
func (e *Engine) DeleteTransaction(ctx context.Context, id TransactionID) (Result, error) {
	owner, err := e.ownerOf(ctx)
	if err != nil {
		return Result{}, err
	}
	prev, ok := e.cache.Transaction(id)
	if !ok {
		return Result{}, notFound(EntityTransaction, string(id))
	}

	reversal := EffectOf(prev).Reverse()

	var (
		balances = make(map[AccountID]decimal.Decimal)
		spent    = make(map[BudgetID]decimal.Decimal)
		txs      = e.store.Transactions()
	)
	s := e.newSaga(OpDeleteTransaction, owner, id)
	s.add(e.balanceStep(reversal.Account, balances))
	if reversal.Budget != nil {
		s.add(e.budgetStep(*reversal.Budget, spent))
	}
	s.add(sagaStep{
		step: StepDeleteRow,
		do: func(ctx context.Context) error {
			err := txs.Delete(ctx, string(id))
			if errors.Is(err, ErrRowNotFound) {
				return nil
			}
			return err
		},
	})

	warnings, err := s.run(ctx)
	if err != nil {
		return Result{Warnings: warnings}, err
	}

	e.cache.removeTransaction(id)
	e.commitDerived(balances, spent)
	e.notify(ctx, EventTransactionDeleted, prev, warnings)
	return Result{Transaction: prev, Warnings: warnings}, nil
}

// =============================================================================
// STEPS
// =============================================================================

func (e *Engine) newSaga(op Operation, owner OwnerID, id TransactionID) *saga {
	lc := e.log.With().Str("op", string(op)).Str("owner", string(owner))
	if id != "" {
		lc = lc.Str("transaction_id", string(id))
	}
	return &saga{op: op, log: lc.Logger(), retries: uint64(e.opts.CompensationRetries)}
}

// balanceStep applies d through the AccountLedger and records the latest
// balance for the projection.
func (e *Engine) balanceStep(d AccountDelta, balances map[AccountID]decimal.Decimal) sagaStep {
	return sagaStep{
		step: StepAdjustBalance,
		do: func(ctx context.Context) error {
			b, err := e.accounts.ApplyDelta(ctx, d.AccountID, d.Amount)
			if err != nil {
				return err
			}
			balances[d.AccountID] = b
			return nil
		},
		undo: func(ctx context.Context) error {
			b, err := e.accounts.ApplyDelta(ctx, d.AccountID, d.Amount.Neg())
			if err != nil {
				return err
			}
			balances[d.AccountID] = b
			return nil
		},
	}
}

// budgetStep applies d through the BudgetLedger. The undo reverses what was
// actually applied, which differs from d when clamping kicked in.
func (e *Engine) budgetStep(d BudgetDelta, spent map[BudgetID]decimal.Decimal) sagaStep {
	var change BudgetChange
	return sagaStep{
		step:     StepAdjustBudget,
		advisory: !e.opts.StrictBudget,
		budgetID: d.BudgetID,
		delta:    d.Amount,
		do: func(ctx context.Context) error {
			c, err := e.budgets.ApplySpentDelta(ctx, d.BudgetID, d.Amount)
			if err != nil {
				return err
			}
			change = c
			spent[d.BudgetID] = c.After
			return nil
		},
		undo: func(ctx context.Context) error {
			c, err := e.budgets.ApplySpentDelta(ctx, d.BudgetID, change.Applied().Neg())
			if err != nil {
				return err
			}
			spent[d.BudgetID] = c.After
			return nil
		},
	}
}

func (e *Engine) commitDerived(balances map[AccountID]decimal.Decimal, spent map[BudgetID]decimal.Decimal) {
	for id, b := range balances {
		e.cache.setBalance(id, b)
	}
	for id, s := range spent {
		e.cache.setSpent(id, s)
	}
}

func (e *Engine) notify(ctx context.Context, typ EventType, tx Transaction, warnings []*BudgetAdjustmentError) {
	if e.opts.Notifier == nil {
		return
	}
	ev := Event{Type: typ, Owner: tx.Owner, Transaction: tx, At: e.opts.Now().UTC()}
	for _, w := range warnings {
		ev.Warnings = append(ev.Warnings, w.Error())
	}
	if err := e.opts.Notifier.Notify(ctx, ev); err != nil {
		e.log.Warn().Err(err).Str("event", string(typ)).Str("transaction_id", string(tx.ID)).Msg("notify failed")
	}
}

// =============================================================================
// OWNERSHIP & VALIDATION
// =============================================================================

func (e *Engine) ownerOf(ctx context.Context) (OwnerID, error) {
	owner, ok := OwnerFrom(ctx)
	if !ok {
		return "", validationErr("owner", "is required")
	}
	if e.owner == "" {
		e.owner = owner
	} else if e.owner != owner {
		return "", validationErr("owner", "does not match this ledger")
	}
	return owner, nil
}

// ownedAccount resolves an account, hiding other owners' rows as NotFound.
func (e *Engine) ownedAccount(ctx context.Context, owner OwnerID, id AccountID) (Account, error) {
	acc, err := e.accounts.Get(ctx, id)
	if err != nil {
		return Account{}, err
	}
	if acc.Owner != owner {
		return Account{}, notFound(EntityAccount, string(id))
	}
	return acc, nil
}

func (e *Engine) ownedBudget(ctx context.Context, owner OwnerID, id BudgetID) (Budget, error) {
	b, err := e.budgets.Get(ctx, id)
	if err != nil {
		return Budget{}, err
	}
	if b.Owner != owner {
		return Budget{}, notFound(EntityBudget, string(id))
	}
	return b, nil
}

// validateNew checks fields in a fixed order and reports the first failure:
// description, amount, account, category, date, kind.
func validateNew(in NewTransaction) error {
	if utf8.RuneCountInString(in.Description) > MaxDescriptionLength {
		return validationErr("description", fmt.Sprintf("exceeds %d characters", MaxDescriptionLength))
	}
	if !in.Amount.IsPositive() {
		return validationErr("amount", "must be greater than zero")
	}
	if in.AccountID == "" {
		return validationErr("account", "is required")
	}
	if in.CategoryID == "" {
		return validationErr("category", "is required")
	}
	if in.Date.IsZero() {
		return validationErr("date", "is required")
	}
	if !in.Kind.Valid() {
		return validationErr("kind", "must be Income or Expense")
	}
	return nil
}

func validatePatch(p TransactionPatch) error {
	if p.Description != nil && utf8.RuneCountInString(*p.Description) > MaxDescriptionLength {
		return validationErr("description", fmt.Sprintf("exceeds %d characters", MaxDescriptionLength))
	}
	if p.Amount != nil && !p.Amount.IsPositive() {
		return validationErr("amount", "must be greater than zero")
	}
	if p.AccountID != nil && *p.AccountID == "" {
		return validationErr("account", "cannot be empty")
	}
	if p.CategoryID != nil && *p.CategoryID == "" {
		return validationErr("category", "cannot be empty")
	}
	if p.Date != nil && p.Date.IsZero() {
		return validationErr("date", "cannot be empty")
	}
	if p.Kind != nil && !p.Kind.Valid() {
		return validationErr("kind", "must be Income or Expense")
	}
	return nil
}
