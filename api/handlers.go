/*
handlers.go - HTTP API handlers for the finance ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the owner's engine through Sessions.

ENDPOINTS:
  Transactions:
    GET    /api/transactions           List (newest first)
    POST   /api/transactions           Create
    PATCH  /api/transactions/{id}      Update (partial)
    DELETE /api/transactions/{id}      Delete

  Accounts / Budgets / Categories:
    GET, POST /api/{accounts|budgets|categories}
    PATCH, DELETE /api/{accounts|budgets|categories}/{id}

  Reporting:
    GET    /api/summary                Totals and budget usage
    POST   /api/reconcile?repair=true  Audit (and optionally repair) drift
    GET    /api/reconcile/runs         Reconciliation history

  Scenarios:
    GET    /api/scenarios              List demo scenarios
    POST   /api/scenarios/load         Load a demo scenario

REQUEST FLOW:
  1. Parse HTTP request
  2. Convert to ledger input
  3. Run against the owner's engine (Sessions.Do)
  4. Serialize response
  5. Map errors to status codes

ERROR HANDLING:
  - 400: Validation errors, invalid input
  - 404: Row not found (or owned by someone else)
  - 409: Row still referenced
  - 422: Insufficient funds
  - 500: Store write failed; body says whether it was compensated

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/finance-ledger/ledger"
	"github.com/warp/finance-ledger/logging"
)

const defaultRunsLimit = 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	sessions *Sessions
	backend  Backend
	log      zerolog.Logger
}

func NewHandler(sessions *Sessions, backend Backend, log zerolog.Logger) *Handler {
	return &Handler{sessions: sessions, backend: backend, log: log}
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	var txs []ledger.Transaction
	err := h.sessions.Do(r.Context(), func(e *ledger.Engine) error {
		txs = e.View().Transactions()
		return nil
	})
	if err != nil {
		h.writeLedgerError(w, r, "Failed to list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if !decode(w, r, &req) {
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		h.writeLedgerError(w, r, "Invalid transaction", err)
		return
	}
	in := ledger.NewTransaction{
		AccountID:   ledger.AccountID(req.AccountID),
		CategoryID:  ledger.CategoryID(req.CategoryID),
		BudgetID:    ledger.BudgetID(req.BudgetID),
		Amount:      req.Amount,
		Kind:        ledger.Kind(req.Kind),
		Date:        date,
		Description: req.Description,
	}

	var res ledger.Result
	err = h.sessions.Do(r.Context(), func(e *ledger.Engine) error {
		res, err = e.CreateTransaction(r.Context(), in)
		return err
	})
	if err != nil {
		h.writeLedgerError(w, r, "Failed to create transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMutationResponse(res))
}

func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))
	var req UpdateTransactionRequest
	if !decode(w, r, &req) {
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		h.writeLedgerError(w, r, "Invalid transaction", err)
		return
	}

	var res ledger.Result
	err = h.sessions.Do(r.Context(), func(e *ledger.Engine) error {
		res, err = e.UpdateTransaction(r.Context(), id, patch)
		return err
	})
	if err != nil {
		h.writeLedgerError(w, r, "Failed to update transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toMutationResponse(res))
}

func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))

	var res ledger.Result
	err := h.sessions.Do(r.Context(), func(e *ledger.Engine) error {
		var err error
		res, err = e.DeleteTransaction(r.Context(), id)
		return err
	})
	if err != nil {
		h.writeLedgerError(w, r, "Failed to delete transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toMutationResponse(res))
}

func (req UpdateTransactionRequest) toPatch() (ledger.TransactionPatch, error) {
	var p ledger.TransactionPatch
	if req.AccountID != nil {
		v := ledger.AccountID(*req.AccountID)
		p.AccountID = &v
	}
	if req.CategoryID != nil {
		v := ledger.CategoryID(*req.CategoryID)
		p.CategoryID = &v
	}
	if req.BudgetID != nil {
		v := ledger.BudgetID(*req.BudgetID)
		p.BudgetID = &v
	}
	if req.Kind != nil {
		v := ledger.Kind(*req.Kind)
		p.Kind = &v
	}
	if req.Date != nil {
		d, err := parseDate("date", *req.Date)
		if err != nil {
			return p, err
		}
		p.Date = &d
	}
	p.Amount = req.Amount
	p.Description = req.Description
	return p, nil
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	var accounts []ledger.Account
	err := h.sessions.Do(r.Context(), func(e *ledger.Engine) error {
		accounts = e.View().Accounts()
		return nil
	})
	if err != nil {
		h.writeLedgerError(w, r, "Failed to list accounts", err)
		return
	}
	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toAccountDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if !decode(w, r, &req) {
		return
	}

	var acc ledger.Account
	err := h.sessions.Do(r.Context(), func(e *ledger.Engine) error {
		var err error
		acc, err = e.CreateAccount(r.Context(), ledger.NewAccount{
			Name:           req.Name,
			Type:           ledger.AccountType(req.Type),
			OpeningBalance: req.OpeningBalance,
		})
		return err
	})
	if err != nil {
		h.writeLedgerError(w, r, "Failed to create account", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(acc))
}

func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	var req UpdateAccountRequest
	if !decode(w, r, &req) {
		return
	}
	patch := ledger.AccountPatch{Name: req.Name}
	if req.Type != nil {
		t := ledger.AccountType(*req.Type)
		patch.Type = &t
	}

	var acc ledger.Account
	err := h.sessions.Do(r.Context(), func(e *ledger.Engine) error {
		var err error
		acc, err = e.UpdateAccount(r.Context(), id, patch)
		return err
	})
	if err != nil {
		h.writeLedgerError(w, r, "Failed to update account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acc))
}

func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	err := h.sessions.Do(r.Context(), func(e *ledger.Engine) error {
		return e.DeleteAccount(r.Context(), id)
	})
	if err != nil {
		h.writeLedgerError(w, r, "Failed to delete account", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// BUDGET HANDLERS
// =============================================================================

func (h *Handler) ListBudgets(w http.ResponseWriter, r *http.Request) {
	var budgets []ledger.Budget
	err := h.sessions.Do(r.Context(), func(e *ledger.Engine) error {
		budgets = e.View().Budgets()
		return nil
	})
	if err != nil {
		h.writeLedgerError(w, r, "Failed to list budgets", err)
		return
	}
	dtos := make([]BudgetDTO, len(budgets))
	for i, b := range budgets {
		dtos[i] = toBudgetDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateBudget(w http.ResponseWriter, r *http.Request) {
	var req CreateBudgetRequest
	if !decode(w, r, &req) {
		return
	}
	start, err := parseDate("start_date", req.StartDate)
	if err != nil {
		h.writeLedgerError(w, r, "Invalid budget", err)
		return
	}
	end, err := parseDate("end_date", req.EndDate)
	if err != nil {
		h.writeLedgerError(w, r, "Invalid budget", err)
		return
	}

	var b ledger.Budget
	err = h.sessions.Do(r.Context(), func(e *ledger.Engine) error {
		b, err = e.CreateBudget(r.Context(), ledger.NewBudget{
			Name:       req.Name,
			CategoryID: ledger.CategoryID(req.CategoryID),
			Total:      req.Total,
			StartDate:  start,
			EndDate:    end,
		})
		return err
	})
	if err != nil {
		h.writeLedgerError(w, r, "Failed to create budget", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBudgetDTO(b))
}

func (h *Handler) UpdateBudget(w http.ResponseWriter, r *http.Request) {
	id := ledger.BudgetID(chi.URLParam(r, "id"))
	var req UpdateBudgetRequest
	if !decode(w, r, &req) {
		return
	}
	patch := ledger.BudgetPatch{Name: req.Name, Total: req.Total}
	if req.CategoryID != nil {
		c := ledger.CategoryID(*req.CategoryID)
		patch.CategoryID = &c
	}
	if req.StartDate != nil {
		d, err := parseDate("start_date", *req.StartDate)
		if err != nil {
			h.writeLedgerError(w, r, "Invalid budget", err)
			return
		}
		patch.StartDate = &d
	}
	if req.EndDate != nil {
		d, err := parseDate("end_date", *req.EndDate)
		if err != nil {
			h.writeLedgerError(w, r, "Invalid budget", err)
			return
		}
		patch.EndDate = &d
	}

	var b ledger.Budget
	err := h.sessions.Do(r.Context(), func(e *ledger.Engine) error {
		var err error
		b, err = e.UpdateBudget(r.Context(), id, patch)
		return err
	})
	if err != nil {
		h.writeLedgerError(w, r, "Failed to update budget", err)
		return
	}
	writeJSON(w, http.StatusOK, toBudgetDTO(b))
}

func (h *Handler) DeleteBudget(w http.ResponseWriter, r *http.Request) {
	id := ledger.BudgetID(chi.URLParam(r, "id"))
	err := h.sessions.Do(r.Context(), func(e *ledger.Engine) error {
		return e.DeleteBudget(r.Context(), id)
	})
	if err != nil {
		h.writeLedgerError(w, r, "Failed to delete budget", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CATEGORY HANDLERS
// =============================================================================

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	var categories []ledger.Category
	err := h.sessions.Do(r.Context(), func(e *ledger.Engine) error {
		categories = e.View().Categories()
		return nil
	})
	if err != nil {
		h.writeLedgerError(w, r, "Failed to list categories", err)
		return
	}
	dtos := make([]CategoryDTO, len(categories))
	for i, c := range categories {
		dtos[i] = toCategoryDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CreateCategoryRequest
	if !decode(w, r, &req) {
		return
	}

	var c ledger.Category
	err := h.sessions.Do(r.Context(), func(e *ledger.Engine) error {
		var err error
		c, err = e.CreateCategory(r.Context(), ledger.NewCategory{
			Name:        req.Name,
			Kind:        ledger.Kind(req.Kind),
			Description: req.Description,
		})
		return err
	})
	if err != nil {
		h.writeLedgerError(w, r, "Failed to create category", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCategoryDTO(c))
}

func (h *Handler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	id := ledger.CategoryID(chi.URLParam(r, "id"))
	var req UpdateCategoryRequest
	if !decode(w, r, &req) {
		return
	}
	patch := ledger.CategoryPatch{Name: req.Name, Description: req.Description}
	if req.Kind != nil {
		k := ledger.Kind(*req.Kind)
		patch.Kind = &k
	}

	var c ledger.Category
	err := h.sessions.Do(r.Context(), func(e *ledger.Engine) error {
		var err error
		c, err = e.UpdateCategory(r.Context(), id, patch)
		return err
	})
	if err != nil {
		h.writeLedgerError(w, r, "Failed to update category", err)
		return
	}
	writeJSON(w, http.StatusOK, toCategoryDTO(c))
}

func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	id := ledger.CategoryID(chi.URLParam(r, "id"))
	err := h.sessions.Do(r.Context(), func(e *ledger.Engine) error {
		return e.DeleteCategory(r.Context(), id)
	})
	if err != nil {
		h.writeLedgerError(w, r, "Failed to delete category", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// REPORTING HANDLERS
// =============================================================================

func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	var s ledger.Summary
	err := h.sessions.Do(r.Context(), func(e *ledger.Engine) error {
		s = e.View().Summary()
		return nil
	})
	if err != nil {
		h.writeLedgerError(w, r, "Failed to build summary", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(s))
}

// Reconcile audits the owner's balances and spent totals and records the
// run. ?repair=true corrects what it finds.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	repair, _ := strconv.ParseBool(r.URL.Query().Get("repair"))

	var (
		report ledger.ReconcileReport
		recErr error
	)
	err := h.sessions.Do(r.Context(), func(e *ledger.Engine) error {
		report, recErr = e.Reconcile(r.Context(), repair)
		return nil
	})
	if err != nil {
		h.writeLedgerError(w, r, "Failed to reconcile", err)
		return
	}

	run := ledger.RunOf(report, repair, recErr)
	run.ID = uuid.NewString()
	if run.Owner == "" {
		run.Owner, _ = ledger.OwnerFrom(r.Context())
	}
	if err := h.backend.SaveRun(r.Context(), run); err != nil {
		log := logging.FromContext(r.Context())
		log.Error().Err(err).Msg("failed to record reconciliation run")
	}
	if recErr != nil {
		h.writeLedgerError(w, r, "Failed to reconcile", recErr)
		return
	}
	writeJSON(w, http.StatusOK, toReconcileResponse(report, run.ID))
}

func (h *Handler) ListReconciliationRuns(w http.ResponseWriter, r *http.Request) {
	owner, _ := ledger.OwnerFrom(r.Context())
	limit := defaultRunsLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	runs, err := h.backend.Runs(r.Context(), owner, limit)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to list reconciliation runs", err)
		return
	}
	dtos := make([]ReconciliationRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeLedgerError maps the ledger error taxonomy onto HTTP statuses.
func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, message string, err error) {
	resp := ErrorResponse{Error: message, Details: err.Error()}
	status := http.StatusInternalServerError

	var (
		ve *ledger.ValidationError
		sw *ledger.StoreWriteError
	)
	switch {
	case errors.As(err, &ve):
		status = http.StatusBadRequest
		resp.Code = "validation_failed"
		resp.Field = ve.Field
	case errors.Is(err, ledger.ErrNotFound):
		status = http.StatusNotFound
		resp.Code = "not_found"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		status = http.StatusUnprocessableEntity
		resp.Code = "insufficient_funds"
	case errors.Is(err, ledger.ErrInUse):
		status = http.StatusConflict
		resp.Code = "in_use"
	case errors.As(err, &sw):
		resp.Code = "store_write_failed"
		resp.Step = string(sw.Step)
		compensated := sw.Compensated
		resp.Compensated = &compensated
		resp.Orphaned = string(sw.Orphaned)
	}

	if status >= http.StatusInternalServerError {
		log := logging.FromContext(r.Context())
		ev := log.Error().Err(err)
		if ledger.NeedsManualReconciliation(err) {
			ev = ev.Bool("needs_reconciliation", true)
		}
		ev.Msg(message)
	}
	writeJSON(w, status, resp)
}
