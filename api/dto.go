/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts are decimal.Decimal, which encodes as a JSON string ("12.50")
  and decodes from either a string or a number.

DATES:
  Request dates accept "2006-01-02" or RFC3339. Responses use RFC3339.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/finance-ledger/ledger"
)

// =============================================================================
// TRANSACTIONS
// =============================================================================

type TransactionDTO struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	CategoryID  string          `json:"category_id"`
	BudgetID    string          `json:"budget_id,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Kind        string          `json:"kind"`
	Date        string          `json:"date"`
	Description string          `json:"description,omitempty"`
	CreatedAt   string          `json:"created_at,omitempty"`
}

type CreateTransactionRequest struct {
	AccountID   string          `json:"account_id"`
	CategoryID  string          `json:"category_id"`
	BudgetID    string          `json:"budget_id,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Kind        string          `json:"kind"`
	Date        string          `json:"date"`
	Description string          `json:"description,omitempty"`
}

// UpdateTransactionRequest: absent fields are unchanged. budget_id "" clears
// the budget link.
type UpdateTransactionRequest struct {
	AccountID   *string          `json:"account_id,omitempty"`
	CategoryID  *string          `json:"category_id,omitempty"`
	BudgetID    *string          `json:"budget_id,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Kind        *string          `json:"kind,omitempty"`
	Date        *string          `json:"date,omitempty"`
	Description *string          `json:"description,omitempty"`
}

// MutationResponse is returned by transaction create/update/delete.
type MutationResponse struct {
	Transaction TransactionDTO `json:"transaction"`
	Warnings    []WarningDTO   `json:"warnings,omitempty"`
}

// WarningDTO describes a budget adjustment that did not happen.
type WarningDTO struct {
	BudgetID string          `json:"budget_id"`
	Delta    decimal.Decimal `json:"delta"`
	Message  string          `json:"message"`
}

// =============================================================================
// ACCOUNTS
// =============================================================================

type AccountDTO struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Type           string          `json:"type"`
	Balance        decimal.Decimal `json:"balance"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	CreatedAt      string          `json:"created_at"`
}

type CreateAccountRequest struct {
	Name           string          `json:"name"`
	Type           string          `json:"type"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

type UpdateAccountRequest struct {
	Name *string `json:"name,omitempty"`
	Type *string `json:"type,omitempty"`
}

// =============================================================================
// BUDGETS
// =============================================================================

type BudgetDTO struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	CategoryID string          `json:"category_id"`
	Total      decimal.Decimal `json:"total"`
	Spent      decimal.Decimal `json:"spent"`
	Remaining  decimal.Decimal `json:"remaining"`
	Percentage int64           `json:"percentage"`
	Status     string          `json:"status"`
	StartDate  string          `json:"start_date"`
	EndDate    string          `json:"end_date"`
	CreatedAt  string          `json:"created_at"`
}

type CreateBudgetRequest struct {
	Name       string          `json:"name"`
	CategoryID string          `json:"category_id"`
	Total      decimal.Decimal `json:"total"`
	StartDate  string          `json:"start_date"`
	EndDate    string          `json:"end_date"`
}

type UpdateBudgetRequest struct {
	Name       *string          `json:"name,omitempty"`
	CategoryID *string          `json:"category_id,omitempty"`
	Total      *decimal.Decimal `json:"total,omitempty"`
	StartDate  *string          `json:"start_date,omitempty"`
	EndDate    *string          `json:"end_date,omitempty"`
}

// =============================================================================
// CATEGORIES
// =============================================================================

type CategoryDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
}

type CreateCategoryRequest struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
}

type UpdateCategoryRequest struct {
	Name        *string `json:"name,omitempty"`
	Kind        *string `json:"kind,omitempty"`
	Description *string `json:"description,omitempty"`
}

// =============================================================================
// SUMMARY & RECONCILIATION
// =============================================================================

type SummaryDTO struct {
	TotalIncome    decimal.Decimal  `json:"total_income"`
	TotalExpenses  decimal.Decimal  `json:"total_expenses"`
	NetSavings     decimal.Decimal  `json:"net_savings"`
	TotalBalance   decimal.Decimal  `json:"total_balance"`
	TotalAllocated decimal.Decimal  `json:"total_allocated"`
	TotalSpent     decimal.Decimal  `json:"total_spent"`
	TotalRemaining decimal.Decimal  `json:"total_remaining"`
	Budgets        []BudgetUsageDTO `json:"budgets"`
}

type BudgetUsageDTO struct {
	BudgetID   string          `json:"budget_id"`
	Name       string          `json:"name"`
	Total      decimal.Decimal `json:"total"`
	Spent      decimal.Decimal `json:"spent"`
	Percentage int64           `json:"percentage"`
	Status     string          `json:"status"`
}

type DriftDTO struct {
	Kind       string          `json:"kind"`
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Recorded   decimal.Decimal `json:"recorded"`
	Expected   decimal.Decimal `json:"expected"`
	Difference decimal.Decimal `json:"difference"`
	Repaired   bool            `json:"repaired"`
}

type ReconcileResponse struct {
	RunID           string     `json:"run_id,omitempty"`
	CheckedAccounts int        `json:"checked_accounts"`
	CheckedBudgets  int        `json:"checked_budgets"`
	Drifts          []DriftDTO `json:"drifts"`
	StartedAt       string     `json:"started_at"`
	FinishedAt      string     `json:"finished_at"`
}

type ReconciliationRunDTO struct {
	ID              string `json:"id"`
	Repair          bool   `json:"repair"`
	Status          string `json:"status"`
	CheckedAccounts int    `json:"checked_accounts"`
	CheckedBudgets  int    `json:"checked_budgets"`
	Drifts          int    `json:"drifts"`
	Repaired        int    `json:"repaired"`
	Error           string `json:"error,omitempty"`
	StartedAt       string `json:"started_at"`
	CompletedAt     string `json:"completed_at,omitempty"`
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response. Step, Compensated and
// Orphaned are set for failed writes.
type ErrorResponse struct {
	Error       string `json:"error"`
	Code        string `json:"code,omitempty"`
	Details     any    `json:"details,omitempty"`
	Field       string `json:"field,omitempty"`
	Step        string `json:"step,omitempty"`
	Compensated *bool  `json:"compensated,omitempty"`
	Orphaned    string `json:"orphaned_transaction_id,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:          string(tx.ID),
		AccountID:   string(tx.AccountID),
		CategoryID:  string(tx.CategoryID),
		BudgetID:    string(tx.BudgetID),
		Amount:      tx.Amount,
		Kind:        string(tx.Kind),
		Date:        formatTime(tx.Date),
		Description: tx.Description,
		CreatedAt:   formatTime(tx.CreatedAt),
	}
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toMutationResponse(res ledger.Result) MutationResponse {
	resp := MutationResponse{Transaction: toTransactionDTO(res.Transaction)}
	for _, w := range res.Warnings {
		resp.Warnings = append(resp.Warnings, WarningDTO{
			BudgetID: string(w.BudgetID),
			Delta:    w.Delta,
			Message:  w.Error(),
		})
	}
	return resp
}

func toAccountDTO(a ledger.Account) AccountDTO {
	return AccountDTO{
		ID:             string(a.ID),
		Name:           a.Name,
		Type:           string(a.Type),
		Balance:        a.Balance,
		OpeningBalance: a.OpeningBalance,
		CreatedAt:      formatTime(a.CreatedAt),
	}
}

func toBudgetDTO(b ledger.Budget) BudgetDTO {
	u := ledger.UsageOf(b)
	return BudgetDTO{
		ID:         string(b.ID),
		Name:       b.Name,
		CategoryID: string(b.CategoryID),
		Total:      b.Total,
		Spent:      b.Spent,
		Remaining:  b.Remaining(),
		Percentage: u.Percentage,
		Status:     string(u.Status),
		StartDate:  formatTime(b.StartDate),
		EndDate:    formatTime(b.EndDate),
		CreatedAt:  formatTime(b.CreatedAt),
	}
}

func toCategoryDTO(c ledger.Category) CategoryDTO {
	return CategoryDTO{ID: string(c.ID), Name: c.Name, Kind: string(c.Kind), Description: c.Description}
}

func toSummaryDTO(s ledger.Summary) SummaryDTO {
	dto := SummaryDTO{
		TotalIncome:    s.TotalIncome,
		TotalExpenses:  s.TotalExpenses,
		NetSavings:     s.NetSavings,
		TotalBalance:   s.TotalBalance,
		TotalAllocated: s.TotalAllocated,
		TotalSpent:     s.TotalSpent,
		TotalRemaining: s.TotalRemaining,
		Budgets:        make([]BudgetUsageDTO, len(s.Budgets)),
	}
	for i, u := range s.Budgets {
		dto.Budgets[i] = BudgetUsageDTO{
			BudgetID:   string(u.BudgetID),
			Name:       u.Name,
			Total:      u.Total,
			Spent:      u.Spent,
			Percentage: u.Percentage,
			Status:     string(u.Status),
		}
	}
	return dto
}

func toReconcileResponse(r ledger.ReconcileReport, runID string) ReconcileResponse {
	resp := ReconcileResponse{
		RunID:           runID,
		CheckedAccounts: r.CheckedAccounts,
		CheckedBudgets:  r.CheckedBudgets,
		Drifts:          make([]DriftDTO, len(r.Drifts)),
		StartedAt:       formatTime(r.StartedAt),
		FinishedAt:      formatTime(r.FinishedAt),
	}
	for i, d := range r.Drifts {
		resp.Drifts[i] = DriftDTO{
			Kind:       string(d.Kind),
			ID:         d.ID,
			Name:       d.Name,
			Recorded:   d.Recorded,
			Expected:   d.Expected,
			Difference: d.Difference(),
			Repaired:   d.Repaired,
		}
	}
	return resp
}

func toRunDTO(r ledger.ReconciliationRun) ReconciliationRunDTO {
	dto := ReconciliationRunDTO{
		ID:              r.ID,
		Repair:          r.Repair,
		Status:          string(r.Status),
		CheckedAccounts: r.CheckedAccounts,
		CheckedBudgets:  r.CheckedBudgets,
		Drifts:          r.Drifts,
		Repaired:        r.Repaired,
		Error:           r.Error,
		StartedAt:       formatTime(r.StartedAt),
	}
	if !r.CompletedAt.IsZero() {
		dto.CompletedAt = formatTime(r.CompletedAt)
	}
	return dto
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// parseDate accepts a plain date or an RFC3339 timestamp.
func parseDate(field, s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, &ledger.ValidationError{Field: field, Reason: fmt.Sprintf("invalid date %q", s)}
}
