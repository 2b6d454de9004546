/*
handlers_test.go - HTTP tests for the ledger API

Tests for:
- Owner header enforcement and owner isolation
- Catalog and transaction CRUD through the router
- Error mapping (validation, not found, insufficient funds, in use,
  store write failures with compensation details)
- Reconciliation endpoint and run history
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/finance-ledger/ledger"
	"github.com/warp/finance-ledger/ledger/store"
)

var _ Backend = (*store.Memory)(nil)

type testServer struct {
	t        *testing.T
	router   http.Handler
	mem      *store.Memory
	sessions *Sessions
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	mem := store.NewMemory()
	opts := ledger.DefaultOptions()
	opts.CompensationRetries = 0
	sessions := NewSessions(mem, opts)
	h := NewHandler(sessions, mem, zerolog.Nop())
	return &testServer{
		t:        t,
		router:   NewRouter(h, RouterOptions{Logger: zerolog.Nop()}),
		mem:      mem,
		sessions: sessions,
	}
}

func (s *testServer) do(method, path, owner string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set(OwnerHeader, owner)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// seed creates a category, an account with the given opening balance and a
// budget for the category covering March 2024.
func (s *testServer) seed(owner, opening string) (CategoryDTO, AccountDTO, BudgetDTO) {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/categories", owner, CreateCategoryRequest{Name: "Groceries", Kind: "Expense"})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	cat := decodeBody[CategoryDTO](s.t, rec)

	rec = s.do(http.MethodPost, "/api/accounts", owner, CreateAccountRequest{
		Name: "Checking", Type: "Bank", OpeningBalance: decimal.RequireFromString(opening),
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	acc := decodeBody[AccountDTO](s.t, rec)

	rec = s.do(http.MethodPost, "/api/budgets", owner, CreateBudgetRequest{
		Name: "Food", CategoryID: cat.ID, Total: decimal.NewFromInt(400),
		StartDate: "2024-03-01", EndDate: "2024-03-31",
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	budget := decodeBody[BudgetDTO](s.t, rec)
	return cat, acc, budget
}

func TestOwnerHeaderRequired(t *testing.T) {
	s := setupTestServer(t)

	rec := s.do(http.MethodGet, "/api/accounts", "", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "owner", resp.Field)
}

func TestHealthz_NoOwnerNeeded(t *testing.T) {
	s := setupTestServer(t)

	rec := s.do(http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTransactionLifecycle(t *testing.T) {
	// GIVEN: an account with 1000 and a groceries budget
	s := setupTestServer(t)
	cat, acc, budget := s.seed("alice", "1000")

	// WHEN: an expense of 120.50 is created against the budget
	rec := s.do(http.MethodPost, "/api/transactions", "alice", CreateTransactionRequest{
		AccountID: acc.ID, CategoryID: cat.ID, BudgetID: budget.ID,
		Amount: decimal.RequireFromString("120.50"), Kind: "Expense",
		Date: "2024-03-05", Description: "Weekly shop",
	})

	// THEN: balance and spent moved by the amount
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[MutationResponse](t, rec)
	assert.NotEmpty(t, created.Transaction.ID)
	assert.Empty(t, created.Warnings)

	accounts := decodeBody[[]AccountDTO](t, s.do(http.MethodGet, "/api/accounts", "alice", nil))
	require.Len(t, accounts, 1)
	assert.True(t, accounts[0].Balance.Equal(decimal.RequireFromString("879.50")))

	budgets := decodeBody[[]BudgetDTO](t, s.do(http.MethodGet, "/api/budgets", "alice", nil))
	require.Len(t, budgets, 1)
	assert.True(t, budgets[0].Spent.Equal(decimal.RequireFromString("120.50")))

	// WHEN: the amount is edited down to 20
	amount := decimal.NewFromInt(20)
	rec = s.do(http.MethodPatch, "/api/transactions/"+created.Transaction.ID, "alice", UpdateTransactionRequest{Amount: &amount})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: the old effect was undone before the new one applied
	summary := decodeBody[SummaryDTO](t, s.do(http.MethodGet, "/api/summary", "alice", nil))
	assert.True(t, summary.TotalBalance.Equal(decimal.NewFromInt(980)))
	assert.True(t, summary.TotalSpent.Equal(decimal.NewFromInt(20)))
	assert.True(t, summary.TotalExpenses.Equal(decimal.NewFromInt(20)))

	// WHEN: the transaction is deleted
	rec = s.do(http.MethodDelete, "/api/transactions/"+created.Transaction.ID, "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: everything is back to the opening state
	summary = decodeBody[SummaryDTO](t, s.do(http.MethodGet, "/api/summary", "alice", nil))
	assert.True(t, summary.TotalBalance.Equal(decimal.NewFromInt(1000)))
	assert.True(t, summary.TotalSpent.IsZero())
	txs := decodeBody[[]TransactionDTO](t, s.do(http.MethodGet, "/api/transactions", "alice", nil))
	assert.Empty(t, txs)

	// AND: deleting again is a 404
	rec = s.do(http.MethodDelete, "/api/transactions/"+created.Transaction.ID, "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateTransaction_ErrorMapping(t *testing.T) {
	s := setupTestServer(t)
	cat, acc, _ := s.seed("alice", "100")

	tests := []struct {
		name   string
		req    CreateTransactionRequest
		status int
		code   string
		field  string
	}{
		{
			name:   "non-positive amount",
			req:    CreateTransactionRequest{AccountID: acc.ID, CategoryID: cat.ID, Amount: decimal.Zero, Kind: "Expense", Date: "2024-03-05"},
			status: http.StatusBadRequest,
			code:   "validation_failed",
			field:  "amount",
		},
		{
			name:   "bad date",
			req:    CreateTransactionRequest{AccountID: acc.ID, CategoryID: cat.ID, Amount: decimal.NewFromInt(5), Kind: "Expense", Date: "05/03/2024"},
			status: http.StatusBadRequest,
			code:   "validation_failed",
			field:  "date",
		},
		{
			name:   "unknown account",
			req:    CreateTransactionRequest{AccountID: "missing", CategoryID: cat.ID, Amount: decimal.NewFromInt(5), Kind: "Expense", Date: "2024-03-05"},
			status: http.StatusNotFound,
			code:   "not_found",
		},
		{
			name:   "insufficient funds",
			req:    CreateTransactionRequest{AccountID: acc.ID, CategoryID: cat.ID, Amount: decimal.NewFromInt(150), Kind: "Expense", Date: "2024-03-05"},
			status: http.StatusUnprocessableEntity,
			code:   "insufficient_funds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/transactions", "alice", tt.req)

			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			resp := decodeBody[ErrorResponse](t, rec)
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, tt.field, resp.Field)
		})
	}

	// Nothing was written by any of the failures.
	summary := decodeBody[SummaryDTO](t, s.do(http.MethodGet, "/api/summary", "alice", nil))
	assert.True(t, summary.TotalBalance.Equal(decimal.NewFromInt(100)))
}

func TestCreateTransaction_CompensatedStoreFailure(t *testing.T) {
	// GIVEN: the first balance write will fail
	s := setupTestServer(t)
	cat, acc, _ := s.seed("alice", "500")
	s.mem.Inject(store.Fault{Table: ledger.TableAccounts, Op: store.OpUpdate, Times: 1})

	// WHEN: a transaction is created
	rec := s.do(http.MethodPost, "/api/transactions", "alice", CreateTransactionRequest{
		AccountID: acc.ID, CategoryID: cat.ID, Amount: decimal.NewFromInt(50), Kind: "Income", Date: "2024-03-05",
	})

	// THEN: 500 reports the failed step and that the insert was undone
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "store_write_failed", resp.Code)
	assert.Equal(t, "adjust_balance", resp.Step)
	require.NotNil(t, resp.Compensated)
	assert.True(t, *resp.Compensated)
	assert.Empty(t, resp.Orphaned)

	rows, err := s.mem.Transactions().Select(ledger.WithOwner(context.Background(), "alice"), ledger.Filter{Owner: "alice"})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestOwnerIsolation(t *testing.T) {
	// GIVEN: alice has an account
	s := setupTestServer(t)
	cat, acc, _ := s.seed("alice", "100")

	// WHEN: bob lists accounts and tries to spend from alice's account
	accounts := decodeBody[[]AccountDTO](t, s.do(http.MethodGet, "/api/accounts", "bob", nil))
	rec := s.do(http.MethodPost, "/api/transactions", "bob", CreateTransactionRequest{
		AccountID: acc.ID, CategoryID: cat.ID, Amount: decimal.NewFromInt(5), Kind: "Income", Date: "2024-03-05",
	})

	// THEN: bob sees nothing and alice's account is "not found" for him
	assert.Empty(t, accounts)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteCategory_InUse(t *testing.T) {
	s := setupTestServer(t)
	cat, _, budget := s.seed("alice", "100")

	rec := s.do(http.MethodDelete, "/api/categories/"+cat.ID, "alice", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "in_use", decodeBody[ErrorResponse](t, rec).Code)

	require.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, "/api/budgets/"+budget.ID, "alice", nil).Code)
	assert.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, "/api/categories/"+cat.ID, "alice", nil).Code)
}

func TestUpdateCatalogRows(t *testing.T) {
	s := setupTestServer(t)
	cat, acc, budget := s.seed("alice", "100")

	name := "Savings"
	rec := s.do(http.MethodPatch, "/api/accounts/"+acc.ID, "alice", UpdateAccountRequest{Name: &name})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Savings", decodeBody[AccountDTO](t, rec).Name)

	total := decimal.NewFromInt(50)
	rec = s.do(http.MethodPatch, "/api/budgets/"+budget.ID, "alice", UpdateBudgetRequest{Total: &total})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeBody[BudgetDTO](t, rec).Total.Equal(total))

	end := "2024-02-01"
	rec = s.do(http.MethodPatch, "/api/budgets/"+budget.ID, "alice", UpdateBudgetRequest{EndDate: &end})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	desc := "Food and household"
	rec = s.do(http.MethodPatch, "/api/categories/"+cat.ID, "alice", UpdateCategoryRequest{Description: &desc})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, desc, decodeBody[CategoryDTO](t, rec).Description)
}

func TestReconcile_DetectsAndRepairsDrift(t *testing.T) {
	// GIVEN: a balance corrupted behind the engine's back
	s := setupTestServer(t)
	_, acc, _ := s.seed("alice", "100")
	wrong := decimal.NewFromInt(70)
	_, err := s.mem.Accounts().Update(context.Background(), acc.ID, ledger.AccountPatch{Balance: &wrong})
	require.NoError(t, err)

	// WHEN: reconcile runs without repair
	rec := s.do(http.MethodPost, "/api/reconcile", "alice", nil)

	// THEN: the drift is reported but not fixed
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeBody[ReconcileResponse](t, rec)
	require.Len(t, report.Drifts, 1)
	assert.Equal(t, acc.ID, report.Drifts[0].ID)
	assert.True(t, report.Drifts[0].Difference.Equal(decimal.NewFromInt(30)))
	assert.False(t, report.Drifts[0].Repaired)

	// WHEN: reconcile runs with repair
	rec = s.do(http.MethodPost, "/api/reconcile?repair=true", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeBody[ReconcileResponse](t, rec).Drifts[0].Repaired)

	// THEN: a third run is clean and all three are in the history
	rec = s.do(http.MethodPost, "/api/reconcile", "alice", nil)
	assert.Empty(t, decodeBody[ReconcileResponse](t, rec).Drifts)

	runs := decodeBody[[]ReconciliationRunDTO](t, s.do(http.MethodGet, "/api/reconcile/runs", "alice", nil))
	require.Len(t, runs, 3)
	assert.Equal(t, 0, runs[0].Drifts)
	assert.Equal(t, 1, runs[1].Repaired)
	assert.Equal(t, "completed", runs[2].Status)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/reconcile/runs?limit=x", "alice", nil).Code)
}

func TestInvalidBody(t *testing.T) {
	s := setupTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/accounts", bytes.NewBufferString("{not json"))
	req.Header.Set(OwnerHeader, "alice")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request body", decodeBody[ErrorResponse](t, rec).Error)
}
