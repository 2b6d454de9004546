package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/warp/finance-ledger/ledger"
)

// =============================================================================
// RECONCILIATION RUNS (ledger.RunLog)
// =============================================================================

// SaveRun inserts a run, or updates it when the ID is already known.
func (s *Store) SaveRun(ctx context.Context, r ledger.ReconciliationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	query := `
		INSERT INTO reconciliation_runs (id, owner, repair, status, checked_accounts,
			checked_budgets, drifts, repaired, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			checked_accounts = excluded.checked_accounts,
			checked_budgets = excluded.checked_budgets,
			drifts = excluded.drifts,
			repaired = excluded.repaired,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	var completedAt sql.NullString
	if !r.CompletedAt.IsZero() {
		completedAt = sql.NullString{String: formatTime(r.CompletedAt), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		r.ID, string(r.Owner), r.Repair, string(r.Status), r.CheckedAccounts,
		r.CheckedBudgets, r.Drifts, r.Repaired, r.Error,
		formatTime(r.StartedAt), completedAt,
	)
	if err != nil {
		return fmt.Errorf("save reconciliation run: %w", err)
	}
	return nil
}

// Runs returns the owner's runs, newest first. An empty owner returns runs
// of every owner; limit <= 0 means no limit.
func (s *Store) Runs(ctx context.Context, owner ledger.OwnerID, limit int) ([]ledger.ReconciliationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, owner, repair, status, checked_accounts, checked_budgets,
			drifts, repaired, error, started_at, completed_at
		FROM reconciliation_runs
	`
	var args []any
	if owner != "" {
		query += " WHERE owner = ?"
		args = append(args, string(owner))
	}
	query += " ORDER BY started_at DESC, rowid DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reconciliation runs: %w", err)
	}
	defer rows.Close()

	var runs []ledger.ReconciliationRun
	for rows.Next() {
		var (
			r           ledger.ReconciliationRun
			startedAt   string
			completedAt sql.NullString
		)
		if err := rows.Scan(
			&r.ID, &r.Owner, &r.Repair, &r.Status, &r.CheckedAccounts, &r.CheckedBudgets,
			&r.Drifts, &r.Repaired, &r.Error, &startedAt, &completedAt,
		); err != nil {
			return nil, fmt.Errorf("scan reconciliation run: %w", err)
		}
		if r.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("run %s started_at: %w", r.ID, err)
		}
		if completedAt.Valid {
			if r.CompletedAt, err = parseTime(completedAt.String); err != nil {
				return nil, fmt.Errorf("run %s completed_at: %w", r.ID, err)
			}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
