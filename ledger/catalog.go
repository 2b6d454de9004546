/*
catalog.go - Accounts, budgets and categories (reference data)

PURPOSE:
  Create, rename and delete the rows transactions point at. These are
  single-row writes, so no saga is needed. Derived fields stay with their
  ledgers: an account's balance is set once from the opening balance and a
  budget's spent starts at zero; neither can be patched here.

DELETION:
  A row that transactions (or, for categories, budgets) still reference
  is not deleted; InUseError reports the reference count.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

type NewAccount struct {
	Name           string
	Type           AccountType
	OpeningBalance decimal.Decimal
}

func (e *Engine) CreateAccount(ctx context.Context, in NewAccount) (Account, error) {
	owner, err := e.ownerOf(ctx)
	if err != nil {
		return Account{}, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return Account{}, validationErr("name", "is required")
	}
	if !in.Type.Valid() {
		return Account{}, validationErr("type", "must be Bank, Wallet or Credit")
	}
	acc, err := e.store.Accounts().Insert(ctx, Account{
		Owner:          owner,
		Name:           in.Name,
		Type:           in.Type,
		Balance:        in.OpeningBalance,
		OpeningBalance: in.OpeningBalance,
		CreatedAt:      e.opts.Now().UTC(),
	})
	if err != nil {
		return Account{}, fmt.Errorf("insert account: %w", err)
	}
	e.cache.putAccount(acc)
	return acc, nil
}

// UpdateAccount renames or retypes an account. Balance is rejected.
func (e *Engine) UpdateAccount(ctx context.Context, id AccountID, patch AccountPatch) (Account, error) {
	owner, err := e.ownerOf(ctx)
	if err != nil {
		return Account{}, err
	}
	if patch.Balance != nil {
		return Account{}, validationErr("balance", "is derived from transactions")
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return Account{}, validationErr("name", "cannot be empty")
	}
	if patch.Type != nil && !patch.Type.Valid() {
		return Account{}, validationErr("type", "must be Bank, Wallet or Credit")
	}
	if _, err := e.ownedAccount(ctx, owner, id); err != nil {
		return Account{}, err
	}
	acc, err := e.store.Accounts().Update(ctx, string(id), patch)
	if err != nil {
		return Account{}, rowErr(err, EntityAccount, string(id), "update account")
	}
	e.cache.putAccount(acc)
	return acc, nil
}

func (e *Engine) DeleteAccount(ctx context.Context, id AccountID) error {
	owner, err := e.ownerOf(ctx)
	if err != nil {
		return err
	}
	if _, err := e.ownedAccount(ctx, owner, id); err != nil {
		return err
	}
	refs, err := e.store.Transactions().Select(ctx, Filter{Owner: owner, AccountID: id})
	if err != nil {
		return fmt.Errorf("count account references: %w", err)
	}
	if len(refs) > 0 {
		return &InUseError{Kind: EntityAccount, ID: string(id), References: len(refs)}
	}
	if err := e.store.Accounts().Delete(ctx, string(id)); err != nil {
		return rowErr(err, EntityAccount, string(id), "delete account")
	}
	e.cache.removeAccount(id)
	return nil
}

// =============================================================================
// BUDGETS
// =============================================================================

type NewBudget struct {
	Name       string
	CategoryID CategoryID
	Total      decimal.Decimal
	StartDate  time.Time
	EndDate    time.Time
}

func (e *Engine) CreateBudget(ctx context.Context, in NewBudget) (Budget, error) {
	owner, err := e.ownerOf(ctx)
	if err != nil {
		return Budget{}, err
	}
	b := Budget{
		Owner:      owner,
		Name:       in.Name,
		CategoryID: in.CategoryID,
		Total:      in.Total,
		Spent:      decimal.Zero,
		StartDate:  in.StartDate,
		EndDate:    in.EndDate,
		CreatedAt:  e.opts.Now().UTC(),
	}
	if err := validateBudget(b); err != nil {
		return Budget{}, err
	}
	if _, err := e.ownedCategory(ctx, owner, in.CategoryID); err != nil {
		return Budget{}, err
	}
	created, err := e.store.Budgets().Insert(ctx, b)
	if err != nil {
		return Budget{}, fmt.Errorf("insert budget: %w", err)
	}
	e.cache.putBudget(created)
	return created, nil
}

// UpdateBudget changes a budget's definition. Spent is rejected.
func (e *Engine) UpdateBudget(ctx context.Context, id BudgetID, patch BudgetPatch) (Budget, error) {
	owner, err := e.ownerOf(ctx)
	if err != nil {
		return Budget{}, err
	}
	if patch.Spent != nil {
		return Budget{}, validationErr("spent", "is derived from transactions")
	}
	current, err := e.ownedBudget(ctx, owner, id)
	if err != nil {
		return Budget{}, err
	}
	if err := validateBudget(current.WithPatch(patch)); err != nil {
		return Budget{}, err
	}
	if patch.CategoryID != nil && *patch.CategoryID != current.CategoryID {
		if _, err := e.ownedCategory(ctx, owner, *patch.CategoryID); err != nil {
			return Budget{}, err
		}
	}
	b, err := e.store.Budgets().Update(ctx, string(id), patch)
	if err != nil {
		return Budget{}, rowErr(err, EntityBudget, string(id), "update budget")
	}
	e.cache.putBudget(b)
	return b, nil
}

func (e *Engine) DeleteBudget(ctx context.Context, id BudgetID) error {
	owner, err := e.ownerOf(ctx)
	if err != nil {
		return err
	}
	if _, err := e.ownedBudget(ctx, owner, id); err != nil {
		return err
	}
	refs, err := e.store.Transactions().Select(ctx, Filter{Owner: owner, BudgetID: id})
	if err != nil {
		return fmt.Errorf("count budget references: %w", err)
	}
	if len(refs) > 0 {
		return &InUseError{Kind: EntityBudget, ID: string(id), References: len(refs)}
	}
	if err := e.store.Budgets().Delete(ctx, string(id)); err != nil {
		return rowErr(err, EntityBudget, string(id), "delete budget")
	}
	e.cache.removeBudget(id)
	return nil
}

func validateBudget(b Budget) error {
	if strings.TrimSpace(b.Name) == "" {
		return validationErr("name", "is required")
	}
	if b.CategoryID == "" {
		return validationErr("category", "is required")
	}
	if !b.Total.IsPositive() {
		return validationErr("total", "must be greater than zero")
	}
	if b.StartDate.IsZero() || b.EndDate.IsZero() {
		return validationErr("period", "start and end dates are required")
	}
	if truncateDay(b.EndDate).Before(truncateDay(b.StartDate)) {
		return validationErr("period", "end date is before start date")
	}
	return nil
}

// =============================================================================
// CATEGORIES
// =============================================================================

type NewCategory struct {
	Name        string
	Kind        Kind
	Description string
}

func (e *Engine) CreateCategory(ctx context.Context, in NewCategory) (Category, error) {
	owner, err := e.ownerOf(ctx)
	if err != nil {
		return Category{}, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return Category{}, validationErr("name", "is required")
	}
	if !in.Kind.Valid() {
		return Category{}, validationErr("kind", "must be Income or Expense")
	}
	c, err := e.store.Categories().Insert(ctx, Category{
		Owner:       owner,
		Name:        in.Name,
		Kind:        in.Kind,
		Description: in.Description,
	})
	if err != nil {
		return Category{}, fmt.Errorf("insert category: %w", err)
	}
	e.cache.putCategory(c)
	return c, nil
}

func (e *Engine) UpdateCategory(ctx context.Context, id CategoryID, patch CategoryPatch) (Category, error) {
	owner, err := e.ownerOf(ctx)
	if err != nil {
		return Category{}, err
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return Category{}, validationErr("name", "cannot be empty")
	}
	if patch.Kind != nil && !patch.Kind.Valid() {
		return Category{}, validationErr("kind", "must be Income or Expense")
	}
	if _, err := e.ownedCategory(ctx, owner, id); err != nil {
		return Category{}, err
	}
	c, err := e.store.Categories().Update(ctx, string(id), patch)
	if err != nil {
		return Category{}, rowErr(err, EntityCategory, string(id), "update category")
	}
	e.cache.putCategory(c)
	return c, nil
}

// DeleteCategory refuses while transactions or budgets use the category.
func (e *Engine) DeleteCategory(ctx context.Context, id CategoryID) error {
	owner, err := e.ownerOf(ctx)
	if err != nil {
		return err
	}
	if _, err := e.ownedCategory(ctx, owner, id); err != nil {
		return err
	}
	txs, err := e.store.Transactions().Select(ctx, Filter{Owner: owner, CategoryID: id})
	if err != nil {
		return fmt.Errorf("count category references: %w", err)
	}
	budgets, err := e.store.Budgets().Select(ctx, Filter{Owner: owner, CategoryID: id})
	if err != nil {
		return fmt.Errorf("count category references: %w", err)
	}
	if n := len(txs) + len(budgets); n > 0 {
		return &InUseError{Kind: EntityCategory, ID: string(id), References: n}
	}
	if err := e.store.Categories().Delete(ctx, string(id)); err != nil {
		return rowErr(err, EntityCategory, string(id), "delete category")
	}
	e.cache.removeCategory(id)
	return nil
}

func (e *Engine) ownedCategory(ctx context.Context, owner OwnerID, id CategoryID) (Category, error) {
	c, ok, err := selectOne(ctx, e.store.Categories(), string(id))
	if err != nil {
		return Category{}, fmt.Errorf("select category %s: %w", id, err)
	}
	if !ok || c.Owner != owner {
		return Category{}, notFound(EntityCategory, string(id))
	}
	return c, nil
}

func rowErr(err error, kind EntityKind, id, action string) error {
	if errors.Is(err, ErrRowNotFound) {
		return notFound(kind, id)
	}
	return fmt.Errorf("%s %s: %w", action, id, err)
}
