/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the calling owner's ledger
	with realistic data. Every row goes through the engine, so balances
	and spent totals are produced the same way real traffic produces them.

AVAILABLE SCENARIOS:

	starter:       One bank account, salary, a groceries budget
	over-budget:   Dining budget pushed past 100%
	multi-account: Bank, wallet and credit card with budgets in several states

HOW SCENARIOS WORK:
 1. Reset the owner's rows (other owners are untouched) under the
    owner's session lock, then retire the session so the projection reloads
 2. Create categories, accounts and budgets
 3. Add transactions dated inside the current month

USAGE VIA API:

	POST /api/scenarios/load
	X-Owner-ID: demo
	{"scenario_id": "over-budget"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, e, month)
 3. Add it to 'loaders'

NOTE:

	Scenarios reset the owner's data. Only use in development/demo environments.
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/finance-ledger/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "starter",
		Name:        "Starter",
		Description: "One bank account with salary income and a groceries budget",
	},
	{
		ID:          "over-budget",
		Name:        "Over Budget",
		Description: "Dining out pushes a budget past its total",
	},
	{
		ID:          "multi-account",
		Name:        "Multi-Account",
		Description: "Bank, wallet and credit card with budgets in safe, warning and danger states",
	},
}

type scenarioLoader func(ctx context.Context, e *ledger.Engine, month time.Time) error

var loaders = map[string]scenarioLoader{
	"starter":       loadStarterScenario,
	"over-budget":   loadOverBudgetScenario,
	"multi-account": loadMultiAccountScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario replaces the owner's ledger with a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}
	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	owner, _ := ledger.OwnerFrom(ctx)

	if err := h.sessions.Reset(ctx, owner, func(ctx context.Context) error {
		return h.backend.ResetOwner(ctx, owner)
	}); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset ledger", err)
		return
	}

	month := monthStart(time.Now().UTC())
	err := h.sessions.Do(ctx, func(e *ledger.Engine) error {
		return load(ctx, e, month)
	})
	if err != nil {
		h.writeLedgerError(w, r, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.log.Info().Str("owner", string(owner)).Str("scenario", req.ScenarioID).Msg("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadStarterScenario(ctx context.Context, e *ledger.Engine, month time.Time) error {
	b := &builder{ctx: ctx, e: e}

	salary := b.category("Salary", ledger.KindIncome)
	groceries := b.category("Groceries", ledger.KindExpense)
	checking := b.account("Checking", ledger.AccountBank, "500")
	b.budget("Groceries", groceries, "400", month)

	b.tx(checking, salary, ledger.KindIncome, "3200", month, "Monthly salary")
	b.tx(checking, groceries, ledger.KindExpense, "84.30", month.AddDate(0, 0, 2), "Weekly shop")
	b.tx(checking, groceries, ledger.KindExpense, "61.15", month.AddDate(0, 0, 9), "Weekly shop")
	return b.err
}

func loadOverBudgetScenario(ctx context.Context, e *ledger.Engine, month time.Time) error {
	b := &builder{ctx: ctx, e: e}

	salary := b.category("Salary", ledger.KindIncome)
	dining := b.category("Dining", ledger.KindExpense)
	checking := b.account("Checking", ledger.AccountBank, "0")
	b.budget("Dining out", dining, "150", month)

	b.tx(checking, salary, ledger.KindIncome, "2800", month, "Monthly salary")
	b.tx(checking, dining, ledger.KindExpense, "62.50", month.AddDate(0, 0, 3), "Birthday dinner")
	b.tx(checking, dining, ledger.KindExpense, "48.00", month.AddDate(0, 0, 10), "Sushi")
	b.tx(checking, dining, ledger.KindExpense, "71.20", month.AddDate(0, 0, 17), "Team lunch")
	return b.err
}

func loadMultiAccountScenario(ctx context.Context, e *ledger.Engine, month time.Time) error {
	b := &builder{ctx: ctx, e: e}

	salary := b.category("Salary", ledger.KindIncome)
	freelance := b.category("Freelance", ledger.KindIncome)
	rent := b.category("Rent", ledger.KindExpense)
	transport := b.category("Transport", ledger.KindExpense)
	fun := b.category("Entertainment", ledger.KindExpense)

	bank := b.account("Main bank", ledger.AccountBank, "1200")
	wallet := b.account("Wallet", ledger.AccountWallet, "80")
	card := b.account("Credit card", ledger.AccountCredit, "1500")

	b.budget("Rent", rent, "1000", month)
	b.budget("Transport", transport, "120", month)
	b.budget("Entertainment", fun, "200", month)

	b.tx(bank, salary, ledger.KindIncome, "3000", month, "Monthly salary")
	b.tx(bank, freelance, ledger.KindIncome, "450", month.AddDate(0, 0, 12), "Logo design")
	b.tx(bank, rent, ledger.KindExpense, "950", month.AddDate(0, 0, 1), "Rent")
	b.tx(wallet, transport, ledger.KindExpense, "35", month.AddDate(0, 0, 4), "Metro pass top-up")
	b.tx(card, transport, ledger.KindExpense, "30", month.AddDate(0, 0, 8), "Train tickets")
	b.tx(card, fun, ledger.KindExpense, "89.99", month.AddDate(0, 0, 6), "Concert")
	b.tx(card, fun, ledger.KindExpense, "130", month.AddDate(0, 0, 14), "Weekend trip")
	return b.err
}

// =============================================================================
// BUILDER
// =============================================================================

// builder stops at the first error and keeps it in err.
type builder struct {
	ctx     context.Context
	e       *ledger.Engine
	budgets map[ledger.CategoryID]ledger.BudgetID
	err     error
}

func (b *builder) category(name string, kind ledger.Kind) ledger.CategoryID {
	if b.err != nil {
		return ""
	}
	c, err := b.e.CreateCategory(b.ctx, ledger.NewCategory{Name: name, Kind: kind})
	if err != nil {
		b.err = fmt.Errorf("category %s: %w", name, err)
	}
	return c.ID
}

func (b *builder) account(name string, typ ledger.AccountType, opening string) ledger.AccountID {
	if b.err != nil {
		return ""
	}
	acc, err := b.e.CreateAccount(b.ctx, ledger.NewAccount{
		Name:           name,
		Type:           typ,
		OpeningBalance: decimal.RequireFromString(opening),
	})
	if err != nil {
		b.err = fmt.Errorf("account %s: %w", name, err)
	}
	return acc.ID
}

func (b *builder) budget(name string, category ledger.CategoryID, total string, month time.Time) {
	if b.err != nil {
		return
	}
	created, err := b.e.CreateBudget(b.ctx, ledger.NewBudget{
		Name:       name,
		CategoryID: category,
		Total:      decimal.RequireFromString(total),
		StartDate:  month,
		EndDate:    month.AddDate(0, 1, -1),
	})
	if err != nil {
		b.err = fmt.Errorf("budget %s: %w", name, err)
		return
	}
	if b.budgets == nil {
		b.budgets = make(map[ledger.CategoryID]ledger.BudgetID)
	}
	b.budgets[category] = created.ID
}

// tx links expenses to the budget created for their category.
func (b *builder) tx(account ledger.AccountID, category ledger.CategoryID, kind ledger.Kind, amount string, date time.Time, desc string) {
	if b.err != nil {
		return
	}
	in := ledger.NewTransaction{
		AccountID:   account,
		CategoryID:  category,
		Amount:      decimal.RequireFromString(amount),
		Kind:        kind,
		Date:        date,
		Description: desc,
	}
	if kind == ledger.KindExpense {
		in.BudgetID = b.budgets[category]
	}
	if _, err := b.e.CreateTransaction(b.ctx, in); err != nil {
		b.err = fmt.Errorf("transaction %q: %w", desc, err)
	}
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
