/*
store.go - Row store contract consumed by the engine

PURPOSE:
  Defines the interface between the ledger and the backing database. The
  store is a remote row service: per-entity select/insert/update/delete,
  each atomic for a single row, with NO multi-row or cross-table
  transaction primitive. The engine never assumes one.

KEY INTERFACES:
  Table[R, P]: per-entity operations, R is the row type, P its patch type
  RowStore:    the four tables the engine works with

CONTRACT FOR IMPLEMENTATIONS:
  - Insert assigns an ID when the row has none and returns the stored row.
  - Update applies only the non-nil fields of the patch and returns the
    row as stored afterwards.
  - Update and Delete of a missing row return ErrRowNotFound.
  - Select with an empty Filter returns every row; results are ordered
    (transactions by date desc, accounts and budgets by creation desc,
    categories by name).

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory with fault injection (tests, dev)
  - store/sqlite: SQLite via database/sql

SEE ALSO:
  - accounts.go, budgets.go: the only writers of balance / spent
*/
package ledger

import "context"

// TableName identifies an entity table. Stores use it for fault injection
// and logging.
type TableName string

const (
	TableAccounts     TableName = "accounts"
	TableBudgets      TableName = "budgets"
	TableCategories   TableName = "categories"
	TableTransactions TableName = "transactions"
)

// Filter narrows Select. Zero-valued fields are ignored; fields that do not
// apply to a table are ignored by that table.
type Filter struct {
	ID         string
	Owner      OwnerID
	AccountID  AccountID
	CategoryID CategoryID
	BudgetID   BudgetID
}

// Table is the per-entity capability of the row store.
type Table[R any, P any] interface {
	Select(ctx context.Context, f Filter) ([]R, error)
	Insert(ctx context.Context, row R) (R, error)
	Update(ctx context.Context, id string, patch P) (R, error)
	Delete(ctx context.Context, id string) error
}

type RowStore interface {
	Accounts() Table[Account, AccountPatch]
	Budgets() Table[Budget, BudgetPatch]
	Categories() Table[Category, CategoryPatch]
	Transactions() Table[Transaction, TransactionPatch]
}

// selectOne returns the single row matching id, or ok=false.
func selectOne[R any, P any](ctx context.Context, t Table[R, P], id string) (R, bool, error) {
	var zero R
	rows, err := t.Select(ctx, Filter{ID: id})
	if err != nil {
		return zero, false, err
	}
	if len(rows) == 0 {
		return zero, false, nil
	}
	return rows[0], true, nil
}
