// Package store provides ledger.RowStore implementations.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/warp/finance-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Op is a row store operation, used to target faults and hooks.
type Op string

const (
	OpSelect Op = "select"
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// ErrInjected is the default error returned by an injected fault.
var ErrInjected = errors.New("injected store failure")

// Fault makes matching calls fail.
type Fault struct {
	Table ledger.TableName
	Op    Op
	// ID restricts the fault to one row (for Select: Filter.ID). Empty
	// matches every row.
	ID string
	// Skip lets this many matching calls succeed before failing.
	Skip int
	// Times is how many calls fail; 0 fails forever.
	Times int
	Err   error
}

// Hook runs before every call, outside the store lock, so it may call back
// into the store.
type Hook func(ctx context.Context, table ledger.TableName, op Op, id string)

// Memory keeps each table in a map guarded by one mutex. Every call is
// atomic for its row and there is no multi-row transaction, matching the
// remote row service the engine is written against.
type Memory struct {
	mu     sync.Mutex
	faults []*Fault
	hook   Hook
	calls  map[callKey]int
	seq    int64

	accounts     *memTable[ledger.Account, ledger.AccountPatch]
	budgets      *memTable[ledger.Budget, ledger.BudgetPatch]
	categories   *memTable[ledger.Category, ledger.CategoryPatch]
	transactions *memTable[ledger.Transaction, ledger.TransactionPatch]

	runs []ledger.ReconciliationRun
}

type callKey struct {
	table ledger.TableName
	op    Op
}

var (
	_ ledger.RowStore = (*Memory)(nil)
	_ ledger.RunLog   = (*Memory)(nil)
)

func NewMemory() *Memory {
	m := &Memory{calls: make(map[callKey]int)}

	m.accounts = &memTable[ledger.Account, ledger.AccountPatch]{
		m: m, name: ledger.TableAccounts, rows: map[string]*memRow[ledger.Account]{},
		id:    func(a ledger.Account) string { return string(a.ID) },
		setID: func(a *ledger.Account, id string) { a.ID = ledger.AccountID(id) },
		apply: ledger.Account.WithPatch,
		match: func(a ledger.Account, f ledger.Filter) bool {
			return (f.ID == "" || string(a.ID) == f.ID) && (f.Owner == "" || a.Owner == f.Owner)
		},
		compare: func(a, b ledger.Account) int { return b.CreatedAt.Compare(a.CreatedAt) },
	}
	m.budgets = &memTable[ledger.Budget, ledger.BudgetPatch]{
		m: m, name: ledger.TableBudgets, rows: map[string]*memRow[ledger.Budget]{},
		id:    func(b ledger.Budget) string { return string(b.ID) },
		setID: func(b *ledger.Budget, id string) { b.ID = ledger.BudgetID(id) },
		apply: ledger.Budget.WithPatch,
		match: func(b ledger.Budget, f ledger.Filter) bool {
			return (f.ID == "" || string(b.ID) == f.ID) && (f.Owner == "" || b.Owner == f.Owner) &&
				(f.CategoryID == "" || b.CategoryID == f.CategoryID)
		},
		compare: func(a, b ledger.Budget) int { return b.CreatedAt.Compare(a.CreatedAt) },
	}
	m.categories = &memTable[ledger.Category, ledger.CategoryPatch]{
		m: m, name: ledger.TableCategories, rows: map[string]*memRow[ledger.Category]{},
		id:    func(c ledger.Category) string { return string(c.ID) },
		setID: func(c *ledger.Category, id string) { c.ID = ledger.CategoryID(id) },
		apply: ledger.Category.WithPatch,
		match: func(c ledger.Category, f ledger.Filter) bool {
			return (f.ID == "" || string(c.ID) == f.ID) && (f.Owner == "" || c.Owner == f.Owner)
		},
		compare: func(a, b ledger.Category) int { return strings.Compare(a.Name, b.Name) },
	}
	m.transactions = &memTable[ledger.Transaction, ledger.TransactionPatch]{
		m: m, name: ledger.TableTransactions, rows: map[string]*memRow[ledger.Transaction]{},
		id:    func(t ledger.Transaction) string { return string(t.ID) },
		setID: func(t *ledger.Transaction, id string) { t.ID = ledger.TransactionID(id) },
		apply: ledger.Transaction.WithPatch,
		match: func(t ledger.Transaction, f ledger.Filter) bool {
			return (f.ID == "" || string(t.ID) == f.ID) && (f.Owner == "" || t.Owner == f.Owner) &&
				(f.AccountID == "" || t.AccountID == f.AccountID) &&
				(f.CategoryID == "" || t.CategoryID == f.CategoryID) &&
				(f.BudgetID == "" || t.BudgetID == f.BudgetID)
		},
		compare: func(a, b ledger.Transaction) int {
			if c := b.Date.Compare(a.Date); c != 0 {
				return c
			}
			return b.CreatedAt.Compare(a.CreatedAt)
		},
	}
	return m
}

func (m *Memory) Accounts() ledger.Table[ledger.Account, ledger.AccountPatch] { return m.accounts }
func (m *Memory) Budgets() ledger.Table[ledger.Budget, ledger.BudgetPatch]    { return m.budgets }
func (m *Memory) Categories() ledger.Table[ledger.Category, ledger.CategoryPatch] {
	return m.categories
}
func (m *Memory) Transactions() ledger.Table[ledger.Transaction, ledger.TransactionPatch] {
	return m.transactions
}

// =============================================================================
// FAULT INJECTION
// =============================================================================

// Inject adds a fault. Faults are checked in insertion order.
func (m *Memory) Inject(f Fault) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.Err == nil {
		f.Err = ErrInjected
	}
	m.faults = append(m.faults, &f)
}

func (m *Memory) ClearFaults() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = nil
}

func (m *Memory) SetHook(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = h
}

// Calls returns how many times op ran against table, failed calls included.
func (m *Memory) Calls(table ledger.TableName, op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[callKey{table, op}]
}

// enter runs the hook and then returns with the lock held, or returns the
// injected error without the lock.
func (m *Memory) enter(ctx context.Context, table ledger.TableName, op Op, id string) error {
	m.mu.Lock()
	hook := m.hook
	m.mu.Unlock()
	if hook != nil {
		hook(ctx, table, op, id)
	}

	m.mu.Lock()
	m.calls[callKey{table, op}]++
	if err := m.faultLocked(table, op, id); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("%s %s: %w", op, table, err)
	}
	return nil
}

func (m *Memory) faultLocked(table ledger.TableName, op Op, id string) error {
	for i, f := range m.faults {
		if f.Table != table || f.Op != op || (f.ID != "" && f.ID != id) {
			continue
		}
		if f.Skip > 0 {
			f.Skip--
			continue
		}
		if f.Times > 0 {
			f.Times--
			if f.Times == 0 {
				m.faults = append(m.faults[:i], m.faults[i+1:]...)
			}
		}
		return f.Err
	}
	return nil
}

// =============================================================================
// GENERIC TABLE
// =============================================================================

type memRow[R any] struct {
	seq int64
	row R
}

type memTable[R any, P any] struct {
	m    *Memory
	name ledger.TableName
	rows map[string]*memRow[R]

	id      func(R) string
	setID   func(*R, string)
	apply   func(R, P) R
	match   func(R, ledger.Filter) bool
	compare func(a, b R) int
}

func (t *memTable[R, P]) Select(ctx context.Context, f ledger.Filter) ([]R, error) {
	if err := t.m.enter(ctx, t.name, OpSelect, f.ID); err != nil {
		return nil, err
	}
	defer t.m.mu.Unlock()

	var hits []*memRow[R]
	for _, r := range t.rows {
		if t.match(r.row, f) {
			hits = append(hits, r)
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if c := t.compare(hits[i].row, hits[j].row); c != 0 {
			return c < 0
		}
		return hits[i].seq > hits[j].seq
	})
	out := make([]R, len(hits))
	for i, r := range hits {
		out[i] = r.row
	}
	return out, nil
}

func (t *memTable[R, P]) Insert(ctx context.Context, row R) (R, error) {
	if err := t.m.enter(ctx, t.name, OpInsert, t.id(row)); err != nil {
		var zero R
		return zero, err
	}
	defer t.m.mu.Unlock()

	if t.id(row) == "" {
		t.setID(&row, uuid.NewString())
	}
	if _, exists := t.rows[t.id(row)]; exists {
		var zero R
		return zero, fmt.Errorf("insert %s: duplicate id %s", t.name, t.id(row))
	}
	t.m.seq++
	t.rows[t.id(row)] = &memRow[R]{seq: t.m.seq, row: row}
	return row, nil
}

func (t *memTable[R, P]) Update(ctx context.Context, id string, patch P) (R, error) {
	var zero R
	if err := t.m.enter(ctx, t.name, OpUpdate, id); err != nil {
		return zero, err
	}
	defer t.m.mu.Unlock()

	r, ok := t.rows[id]
	if !ok {
		return zero, fmt.Errorf("update %s %s: %w", t.name, id, ledger.ErrRowNotFound)
	}
	r.row = t.apply(r.row, patch)
	return r.row, nil
}

func (t *memTable[R, P]) Delete(ctx context.Context, id string) error {
	if err := t.m.enter(ctx, t.name, OpDelete, id); err != nil {
		return err
	}
	defer t.m.mu.Unlock()

	if _, ok := t.rows[id]; !ok {
		return fmt.Errorf("delete %s %s: %w", t.name, id, ledger.ErrRowNotFound)
	}
	delete(t.rows, id)
	return nil
}

// =============================================================================
// RUN LOG & RESET
// =============================================================================

func (m *Memory) SaveRun(_ context.Context, run ledger.ReconciliationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	m.runs = append([]ledger.ReconciliationRun{run}, m.runs...)
	return nil
}

func (m *Memory) Runs(_ context.Context, owner ledger.OwnerID, limit int) ([]ledger.ReconciliationRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.ReconciliationRun
	for _, r := range m.runs {
		if owner != "" && r.Owner != owner {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ResetOwner drops every row the owner has (for demo scenarios).
func (m *Memory) ResetOwner(_ context.Context, owner ledger.OwnerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dropOwned(m.accounts, func(a ledger.Account) bool { return a.Owner == owner })
	dropOwned(m.budgets, func(b ledger.Budget) bool { return b.Owner == owner })
	dropOwned(m.categories, func(c ledger.Category) bool { return c.Owner == owner })
	dropOwned(m.transactions, func(t ledger.Transaction) bool { return t.Owner == owner })
	return nil
}

func dropOwned[R any, P any](t *memTable[R, P], owned func(R) bool) {
	for id, r := range t.rows {
		if owned(r.row) {
			delete(t.rows, id)
		}
	}
}

// Owners lists every owner with at least one account, sorted.
func (m *Memory) Owners(_ context.Context) ([]ledger.OwnerID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[ledger.OwnerID]bool)
	var out []ledger.OwnerID
	for _, r := range m.accounts.rows {
		if !seen[r.row.Owner] {
			seen[r.row.Owner] = true
			out = append(out, r.row.Owner)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
