package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/warp/finance-ledger/ledger"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

var accountDef = tableDef[ledger.Account, ledger.AccountPatch]{
	name:    ledger.TableAccounts,
	columns: []string{"id", "owner", "name", "type", "balance", "opening_balance", "created_at"},
	orderBy: "created_at DESC, rowid DESC",
	filters: func(f ledger.Filter) map[string]string {
		return map[string]string{"owner": string(f.Owner)}
	},
	id:    func(a ledger.Account) string { return string(a.ID) },
	setID: func(a *ledger.Account, id string) { a.ID = ledger.AccountID(id) },
	values: func(a ledger.Account) []any {
		return []any{string(a.ID), string(a.Owner), a.Name, string(a.Type),
			a.Balance.String(), a.OpeningBalance.String(), formatTime(a.CreatedAt)}
	},
	scan: func(row scanner) (ledger.Account, error) {
		var (
			a                         ledger.Account
			balance, opening, created string
		)
		if err := row.Scan(&a.ID, &a.Owner, &a.Name, &a.Type, &balance, &opening, &created); err != nil {
			return ledger.Account{}, err
		}
		var err error
		if a.Balance, err = parseDecimal(balance); err != nil {
			return ledger.Account{}, fmt.Errorf("account %s balance: %w", a.ID, err)
		}
		if a.OpeningBalance, err = parseDecimal(opening); err != nil {
			return ledger.Account{}, fmt.Errorf("account %s opening balance: %w", a.ID, err)
		}
		if a.CreatedAt, err = parseTime(created); err != nil {
			return ledger.Account{}, fmt.Errorf("account %s created_at: %w", a.ID, err)
		}
		return a, nil
	},
	sets: func(p ledger.AccountPatch) (sets []string, args []any) {
		sets, args = set(sets, args, "name", p.Name, stringOf[string])
		sets, args = set(sets, args, "type", p.Type, stringOf[ledger.AccountType])
		sets, args = set(sets, args, "balance", p.Balance, decimalText)
		return sets, args
	},
}

// =============================================================================
// BUDGETS
// =============================================================================

var budgetDef = tableDef[ledger.Budget, ledger.BudgetPatch]{
	name: ledger.TableBudgets,
	columns: []string{"id", "owner", "name", "category_id", "total", "spent",
		"start_date", "end_date", "created_at"},
	orderBy: "created_at DESC, rowid DESC",
	filters: func(f ledger.Filter) map[string]string {
		return map[string]string{"owner": string(f.Owner), "category_id": string(f.CategoryID)}
	},
	id:    func(b ledger.Budget) string { return string(b.ID) },
	setID: func(b *ledger.Budget, id string) { b.ID = ledger.BudgetID(id) },
	values: func(b ledger.Budget) []any {
		return []any{string(b.ID), string(b.Owner), b.Name, string(b.CategoryID),
			b.Total.String(), b.Spent.String(), formatTime(b.StartDate), formatTime(b.EndDate),
			formatTime(b.CreatedAt)}
	},
	scan: func(row scanner) (ledger.Budget, error) {
		var (
			b                                 ledger.Budget
			total, spent, start, end, created string
		)
		if err := row.Scan(&b.ID, &b.Owner, &b.Name, &b.CategoryID, &total, &spent, &start, &end, &created); err != nil {
			return ledger.Budget{}, err
		}
		var err error
		if b.Total, err = parseDecimal(total); err != nil {
			return ledger.Budget{}, fmt.Errorf("budget %s total: %w", b.ID, err)
		}
		if b.Spent, err = parseDecimal(spent); err != nil {
			return ledger.Budget{}, fmt.Errorf("budget %s spent: %w", b.ID, err)
		}
		if b.StartDate, b.EndDate, b.CreatedAt, err = parseBudgetDates(start, end, created); err != nil {
			return ledger.Budget{}, fmt.Errorf("budget %s dates: %w", b.ID, err)
		}
		return b, nil
	},
	sets: func(p ledger.BudgetPatch) (sets []string, args []any) {
		sets, args = set(sets, args, "name", p.Name, stringOf[string])
		sets, args = set(sets, args, "category_id", p.CategoryID, stringOf[ledger.CategoryID])
		sets, args = set(sets, args, "total", p.Total, decimalText)
		sets, args = set(sets, args, "spent", p.Spent, decimalText)
		sets, args = set(sets, args, "start_date", p.StartDate, timeText)
		sets, args = set(sets, args, "end_date", p.EndDate, timeText)
		return sets, args
	},
}

// =============================================================================
// CATEGORIES
// =============================================================================

var categoryDef = tableDef[ledger.Category, ledger.CategoryPatch]{
	name:    ledger.TableCategories,
	columns: []string{"id", "owner", "name", "kind", "description"},
	orderBy: "name ASC, rowid DESC",
	filters: func(f ledger.Filter) map[string]string {
		return map[string]string{"owner": string(f.Owner)}
	},
	id:    func(c ledger.Category) string { return string(c.ID) },
	setID: func(c *ledger.Category, id string) { c.ID = ledger.CategoryID(id) },
	values: func(c ledger.Category) []any {
		return []any{string(c.ID), string(c.Owner), c.Name, string(c.Kind), c.Description}
	},
	scan: func(row scanner) (ledger.Category, error) {
		var c ledger.Category
		err := row.Scan(&c.ID, &c.Owner, &c.Name, &c.Kind, &c.Description)
		return c, err
	},
	sets: func(p ledger.CategoryPatch) (sets []string, args []any) {
		sets, args = set(sets, args, "name", p.Name, stringOf[string])
		sets, args = set(sets, args, "kind", p.Kind, stringOf[ledger.Kind])
		sets, args = set(sets, args, "description", p.Description, stringOf[string])
		return sets, args
	},
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

var transactionDef = tableDef[ledger.Transaction, ledger.TransactionPatch]{
	name: ledger.TableTransactions,
	columns: []string{"id", "owner", "account_id", "category_id", "budget_id", "amount",
		"kind", "date", "description", "created_at"},
	orderBy: "date DESC, created_at DESC, rowid DESC",
	filters: func(f ledger.Filter) map[string]string {
		return map[string]string{
			"owner":       string(f.Owner),
			"account_id":  string(f.AccountID),
			"category_id": string(f.CategoryID),
			"budget_id":   string(f.BudgetID),
		}
	},
	id:    func(t ledger.Transaction) string { return string(t.ID) },
	setID: func(t *ledger.Transaction, id string) { t.ID = ledger.TransactionID(id) },
	values: func(t ledger.Transaction) []any {
		return []any{string(t.ID), string(t.Owner), string(t.AccountID), string(t.CategoryID),
			nullString(string(t.BudgetID)), t.Amount.String(), string(t.Kind), formatTime(t.Date),
			t.Description, formatTime(t.CreatedAt)}
	},
	scan: func(row scanner) (ledger.Transaction, error) {
		var (
			t                     ledger.Transaction
			budget                sql.NullString
			amount, date, created string
		)
		if err := row.Scan(&t.ID, &t.Owner, &t.AccountID, &t.CategoryID, &budget, &amount,
			&t.Kind, &date, &t.Description, &created); err != nil {
			return ledger.Transaction{}, err
		}
		t.BudgetID = ledger.BudgetID(budget.String)
		var err error
		if t.Amount, err = parseDecimal(amount); err != nil {
			return ledger.Transaction{}, fmt.Errorf("transaction %s amount: %w", t.ID, err)
		}
		if t.Date, err = parseTime(date); err != nil {
			return ledger.Transaction{}, fmt.Errorf("transaction %s date: %w", t.ID, err)
		}
		if t.CreatedAt, err = parseTime(created); err != nil {
			return ledger.Transaction{}, fmt.Errorf("transaction %s created_at: %w", t.ID, err)
		}
		return t, nil
	},
	sets: func(p ledger.TransactionPatch) (sets []string, args []any) {
		sets, args = set(sets, args, "account_id", p.AccountID, stringOf[ledger.AccountID])
		sets, args = set(sets, args, "category_id", p.CategoryID, stringOf[ledger.CategoryID])
		sets, args = set(sets, args, "budget_id", p.BudgetID, nullableOf[ledger.BudgetID])
		sets, args = set(sets, args, "amount", p.Amount, decimalText)
		sets, args = set(sets, args, "kind", p.Kind, stringOf[ledger.Kind])
		sets, args = set(sets, args, "date", p.Date, timeText)
		sets, args = set(sets, args, "description", p.Description, stringOf[string])
		return sets, args
	},
}

func parseBudgetDates(a, b, c string) (time.Time, time.Time, time.Time, error) {
	ta, err := parseTime(a)
	if err != nil {
		return time.Time{}, time.Time{}, time.Time{}, err
	}
	tb, err := parseTime(b)
	if err != nil {
		return time.Time{}, time.Time{}, time.Time{}, err
	}
	tc, err := parseTime(c)
	if err != nil {
		return time.Time{}, time.Time{}, time.Time{}, err
	}
	return ta, tb, tc, nil
}
