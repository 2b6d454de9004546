/*
Package sqlite provides a SQLite-backed implementation of ledger.RowStore.

PURPOSE:
  Persists accounts, budgets, categories and transactions as plain rows.
  Each Table call is atomic for its row only; the store deliberately
  offers no cross-table transaction so the ledger engine runs against the
  same contract it would have with a remote row service.

INTERFACES IMPLEMENTED:
  ledger.RowStore: per-entity Select/Insert/Update/Delete
  ledger.RunLog:   reconciliation run history

KEY TABLES:
  accounts, budgets, categories, transactions: one row per entity
  reconciliation_runs:                         audit history

MONEY AND TIME:
  Decimals are stored as TEXT (decimal.Decimal.String) so nothing passes
  through float64. Timestamps are fixed-width UTC text, which keeps
  ORDER BY on them chronological.

MIGRATION:
  Schema is versioned under migrations/ and applied on New() with
  golang-migrate (embedded iofs source, sqlite3 driver).

WAL MODE:
  File databases are opened with WAL for concurrent readers and a single
  writer.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store, ledger.DefaultOptions())

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite3 "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/finance-ledger/ledger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed width so text comparison matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements ledger.RowStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	accounts     *table[ledger.Account, ledger.AccountPatch]
	budgets      *table[ledger.Budget, ledger.BudgetPatch]
	categories   *table[ledger.Category, ledger.CategoryPatch]
	transactions *table[ledger.Transaction, ledger.TransactionPatch]
}

var (
	_ ledger.RowStore = (*Store)(nil)
	_ ledger.RunLog   = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL"
	if dbPath == ":memory:" {
		dsn = dbPath + "?_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every new connection to :memory: is a fresh database.
		db.SetMaxOpenConns(1)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	s := &Store{db: db}
	s.accounts = &table[ledger.Account, ledger.AccountPatch]{s: s, def: accountDef}
	s.budgets = &table[ledger.Budget, ledger.BudgetPatch]{s: s, def: budgetDef}
	s.categories = &table[ledger.Category, ledger.CategoryPatch]{s: s, def: categoryDef}
	s.transactions = &table[ledger.Transaction, ledger.TransactionPatch]{s: s, def: transactionDef}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// runMigrations applies migrations on the store's own connection. The
// migrate instance is not closed because that would close db as well.
func runMigrations(db *sql.DB) error {
	driver, err := migratesqlite3.WithInstance(db, &migratesqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return src.Close()
}

func (s *Store) Accounts() ledger.Table[ledger.Account, ledger.AccountPatch] { return s.accounts }
func (s *Store) Budgets() ledger.Table[ledger.Budget, ledger.BudgetPatch]    { return s.budgets }
func (s *Store) Categories() ledger.Table[ledger.Category, ledger.CategoryPatch] {
	return s.categories
}
func (s *Store) Transactions() ledger.Table[ledger.Transaction, ledger.TransactionPatch] {
	return s.transactions
}

// ResetOwner deletes every row the owner has (for demo scenarios).
func (s *Store) ResetOwner(ctx context.Context, owner ledger.OwnerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range []string{"transactions", "budgets", "categories", "accounts"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+t+" WHERE owner = ?", string(owner)); err != nil {
			return fmt.Errorf("reset %s: %w", t, err)
		}
	}
	return nil
}

// Owners lists every owner with at least one account, sorted.
func (s *Store) Owners(ctx context.Context) ([]ledger.OwnerID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT owner FROM accounts ORDER BY owner")
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	defer rows.Close()

	var owners []ledger.OwnerID
	for rows.Next() {
		var o ledger.OwnerID
		if err := rows.Scan(&o); err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		owners = append(owners, o)
	}
	return owners, rows.Err()
}

// =============================================================================
// GENERIC TABLE
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

// tableDef maps one entity onto its table. Columns are listed id first.
type tableDef[R any, P any] struct {
	name    ledger.TableName
	columns []string
	orderBy string
	// filters maps Filter fields that apply to this table onto columns.
	filters func(f ledger.Filter) map[string]string

	id     func(R) string
	setID  func(*R, string)
	values func(R) []any
	scan   func(scanner) (R, error)
	// sets returns "column = ?" assignments for the non-nil patch fields.
	sets func(P) ([]string, []any)
}

type table[R any, P any] struct {
	s   *Store
	def tableDef[R, P]
}

func (t *table[R, P]) selectSQL() string {
	return "SELECT " + strings.Join(t.def.columns, ", ") + " FROM " + string(t.def.name)
}

func (t *table[R, P]) Select(ctx context.Context, f ledger.Filter) ([]R, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	query := t.selectSQL()
	var (
		where []string
		args  []any
	)
	if f.ID != "" {
		where = append(where, "id = ?")
		args = append(args, f.ID)
	}
	for col, val := range t.def.filters(f) {
		if val == "" {
			continue
		}
		where = append(where, col+" = ?")
		args = append(args, val)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + t.def.orderBy

	rows, err := t.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", t.def.name, err)
	}
	defer rows.Close()

	var out []R
	for rows.Next() {
		r, err := t.def.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", t.def.name, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *table[R, P]) Insert(ctx context.Context, row R) (R, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if t.def.id(row) == "" {
		t.def.setID(&row, uuid.NewString())
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(t.def.columns)), ", ")
	query := "INSERT INTO " + string(t.def.name) + " (" + strings.Join(t.def.columns, ", ") + ") VALUES (" + placeholders + ")"

	if _, err := t.s.db.ExecContext(ctx, query, t.def.values(row)...); err != nil {
		var zero R
		if isUniqueConstraintError(err) {
			return zero, fmt.Errorf("insert %s: duplicate id %s", t.def.name, t.def.id(row))
		}
		return zero, fmt.Errorf("insert %s: %w", t.def.name, err)
	}
	return row, nil
}

// Update writes the patch and reads the row back inside one SQL
// transaction, so the returned row is the one the patch produced.
func (t *table[R, P]) Update(ctx context.Context, id string, patch P) (R, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	var zero R
	tx, err := t.s.db.BeginTx(ctx, nil)
	if err != nil {
		return zero, fmt.Errorf("update %s: begin: %w", t.def.name, err)
	}
	defer tx.Rollback()

	if sets, args := t.def.sets(patch); len(sets) > 0 {
		query := "UPDATE " + string(t.def.name) + " SET " + strings.Join(sets, ", ") + " WHERE id = ?"
		res, err := tx.ExecContext(ctx, query, append(args, id)...)
		if err != nil {
			return zero, fmt.Errorf("update %s %s: %w", t.def.name, id, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return zero, fmt.Errorf("update %s %s: %w", t.def.name, id, ledger.ErrRowNotFound)
		}
	}

	row, err := t.def.scan(tx.QueryRowContext(ctx, t.selectSQL()+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return zero, fmt.Errorf("update %s %s: %w", t.def.name, id, ledger.ErrRowNotFound)
	}
	if err != nil {
		return zero, fmt.Errorf("update %s %s: read back: %w", t.def.name, id, err)
	}
	if err := tx.Commit(); err != nil {
		return zero, fmt.Errorf("update %s %s: commit: %w", t.def.name, id, err)
	}
	return row, nil
}

func (t *table[R, P]) Delete(ctx context.Context, id string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	res, err := t.s.db.ExecContext(ctx, "DELETE FROM "+string(t.def.name)+" WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", t.def.name, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", t.def.name, id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s %s: %w", t.def.name, id, ledger.ErrRowNotFound)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseDecimal(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique
}

// set appends "col = ?" when v is non-nil.
func set[T any](sets []string, args []any, col string, v *T, conv func(T) any) ([]string, []any) {
	if v == nil {
		return sets, args
	}
	return append(sets, col+" = ?"), append(args, conv(*v))
}

func decimalText(d decimal.Decimal) any { return d.String() }
func timeText(t time.Time) any          { return formatTime(t) }
func stringOf[T ~string](v T) any       { return string(v) }
func nullableOf[T ~string](v T) any     { return nullString(string(v)) }
