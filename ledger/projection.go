/*
projection.go - In-memory projection cache

PURPOSE:
  Holds the currently known transactions, accounts, budgets and categories
  of one owner for read views and derived totals. The engine is the only
  writer and touches it only after a write was confirmed by the store.
  Callers get the read-only View.

ORDERING:
  Transactions: date descending, new records prepended (newest first).
  Accounts, budgets: creation descending, new records prepended.
  Categories: by name.

DERIVED VALUES:
  Summary aggregates totals the way the UI shows them: income, expenses,
  net savings, total balance, budget allocation/spent/remaining, and a
  status per budget (safe < 80% ≤ warning < 100% ≤ danger).
*/
package ledger

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// View is the read-only face of the projection.
type View interface {
	Transactions() []Transaction
	Transaction(id TransactionID) (Transaction, bool)
	Accounts() []Account
	Account(id AccountID) (Account, bool)
	Budgets() []Budget
	Budget(id BudgetID) (Budget, bool)
	Categories() []Category
	Summary() Summary
}

// Projection is safe for concurrent readers; writes come from the engine.
type Projection struct {
	mu           sync.RWMutex
	transactions []Transaction
	accounts     []Account
	budgets      []Budget
	categories   []Category
}

func NewProjection() *Projection { return &Projection{} }

var _ View = (*Projection)(nil)

// Replace swaps in a freshly loaded state.
func (p *Projection) Replace(txs []Transaction, accounts []Account, budgets []Budget, categories []Category) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transactions = append([]Transaction(nil), txs...)
	p.accounts = append([]Account(nil), accounts...)
	p.budgets = append([]Budget(nil), budgets...)
	p.categories = append([]Category(nil), categories...)
	sortCategories(p.categories)
}

// =============================================================================
// READS
// =============================================================================

func (p *Projection) Transactions() []Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Transaction(nil), p.transactions...)
}

func (p *Projection) Transaction(id TransactionID) (Transaction, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if i := indexOf(p.transactions, func(t Transaction) bool { return t.ID == id }); i >= 0 {
		return p.transactions[i], true
	}
	return Transaction{}, false
}

func (p *Projection) Accounts() []Account {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Account(nil), p.accounts...)
}

func (p *Projection) Account(id AccountID) (Account, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if i := indexOf(p.accounts, func(a Account) bool { return a.ID == id }); i >= 0 {
		return p.accounts[i], true
	}
	return Account{}, false
}

func (p *Projection) Budgets() []Budget {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Budget(nil), p.budgets...)
}

func (p *Projection) Budget(id BudgetID) (Budget, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if i := indexOf(p.budgets, func(b Budget) bool { return b.ID == id }); i >= 0 {
		return p.budgets[i], true
	}
	return Budget{}, false
}

func (p *Projection) Categories() []Category {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Category(nil), p.categories...)
}

// =============================================================================
// WRITES (engine only)
// =============================================================================

func (p *Projection) prependTransaction(tx Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transactions = append([]Transaction{tx}, p.transactions...)
}

func (p *Projection) replaceTransaction(tx Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i := indexOf(p.transactions, func(t Transaction) bool { return t.ID == tx.ID }); i >= 0 {
		p.transactions[i] = tx
	}
}

func (p *Projection) removeTransaction(id TransactionID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transactions = removeWhere(p.transactions, func(t Transaction) bool { return t.ID == id })
}

// putAccount replaces the cached account or prepends it when unknown.
func (p *Projection) putAccount(acc Account) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i := indexOf(p.accounts, func(a Account) bool { return a.ID == acc.ID }); i >= 0 {
		p.accounts[i] = acc
		return
	}
	p.accounts = append([]Account{acc}, p.accounts...)
}

func (p *Projection) setBalance(id AccountID, balance decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i := indexOf(p.accounts, func(a Account) bool { return a.ID == id }); i >= 0 {
		p.accounts[i].Balance = balance
	}
}

func (p *Projection) removeAccount(id AccountID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts = removeWhere(p.accounts, func(a Account) bool { return a.ID == id })
}

func (p *Projection) putBudget(b Budget) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i := indexOf(p.budgets, func(x Budget) bool { return x.ID == b.ID }); i >= 0 {
		p.budgets[i] = b
		return
	}
	p.budgets = append([]Budget{b}, p.budgets...)
}

func (p *Projection) setSpent(id BudgetID, spent decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i := indexOf(p.budgets, func(b Budget) bool { return b.ID == id }); i >= 0 {
		p.budgets[i].Spent = spent
	}
}

func (p *Projection) removeBudget(id BudgetID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.budgets = removeWhere(p.budgets, func(b Budget) bool { return b.ID == id })
}

func (p *Projection) putCategory(c Category) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i := indexOf(p.categories, func(x Category) bool { return x.ID == c.ID }); i >= 0 {
		p.categories[i] = c
	} else {
		p.categories = append(p.categories, c)
	}
	sortCategories(p.categories)
}

func (p *Projection) removeCategory(id CategoryID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.categories = removeWhere(p.categories, func(c Category) bool { return c.ID == id })
}

// =============================================================================
// SUMMARY
// =============================================================================

type BudgetStatus string

const (
	BudgetSafe    BudgetStatus = "safe"
	BudgetWarning BudgetStatus = "warning"
	BudgetDanger  BudgetStatus = "danger"
)

type BudgetUsage struct {
	BudgetID   BudgetID
	Name       string
	Total      decimal.Decimal
	Spent      decimal.Decimal
	Percentage int64
	Status     BudgetStatus
}

type Summary struct {
	TotalIncome    decimal.Decimal
	TotalExpenses  decimal.Decimal
	NetSavings     decimal.Decimal
	TotalBalance   decimal.Decimal
	TotalAllocated decimal.Decimal
	TotalSpent     decimal.Decimal
	TotalRemaining decimal.Decimal
	Budgets        []BudgetUsage
}

func (p *Projection) Summary() Summary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var s Summary
	for _, t := range p.transactions {
		switch t.Kind {
		case KindIncome:
			s.TotalIncome = s.TotalIncome.Add(t.Amount)
		case KindExpense:
			s.TotalExpenses = s.TotalExpenses.Add(t.Amount)
		}
	}
	s.NetSavings = s.TotalIncome.Sub(s.TotalExpenses)

	for _, a := range p.accounts {
		s.TotalBalance = s.TotalBalance.Add(a.Balance)
	}
	for _, b := range p.budgets {
		s.TotalAllocated = s.TotalAllocated.Add(b.Total)
		s.TotalSpent = s.TotalSpent.Add(b.Spent)
		s.Budgets = append(s.Budgets, UsageOf(b))
	}
	s.TotalRemaining = s.TotalAllocated.Sub(s.TotalSpent)
	return s
}

// UsageOf rates a budget: percentage is spent/total rounded to an integer,
// 0 when total is not positive.
func UsageOf(b Budget) BudgetUsage {
	u := BudgetUsage{BudgetID: b.ID, Name: b.Name, Total: b.Total, Spent: b.Spent, Status: BudgetSafe}
	if b.Total.IsPositive() {
		u.Percentage = b.Spent.Div(b.Total).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	}
	switch {
	case u.Percentage >= 100:
		u.Status = BudgetDanger
	case u.Percentage >= 80:
		u.Status = BudgetWarning
	}
	return u
}

// =============================================================================
// HELPERS
// =============================================================================

func indexOf[T any](xs []T, match func(T) bool) int {
	for i, x := range xs {
		if match(x) {
			return i
		}
	}
	return -1
}

func removeWhere[T any](xs []T, match func(T) bool) []T {
	out := xs[:0]
	for _, x := range xs {
		if !match(x) {
			out = append(out, x)
		}
	}
	return out
}

func sortCategories(cs []Category) {
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].Name < cs[j].Name })
}
