package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/finance-ledger/ledger"
)

func TestUsageOf(t *testing.T) {
	tests := []struct {
		spent, total string
		pct          int64
		status       ledger.BudgetStatus
	}{
		{"0", "100", 0, ledger.BudgetSafe},
		{"79.4", "100", 79, ledger.BudgetSafe},
		{"79.5", "100", 80, ledger.BudgetWarning},
		{"99", "100", 99, ledger.BudgetWarning},
		{"100", "100", 100, ledger.BudgetDanger},
		{"181.70", "150", 121, ledger.BudgetDanger},
		{"10", "0", 0, ledger.BudgetSafe},
	}
	for _, tt := range tests {
		t.Run(tt.spent+"/"+tt.total, func(t *testing.T) {
			u := ledger.UsageOf(ledger.Budget{Name: "B", Spent: d(tt.spent), Total: d(tt.total)})
			assert.Equal(t, tt.pct, u.Percentage)
			assert.Equal(t, tt.status, u.Status)
		})
	}
}

func TestSummary(t *testing.T) {
	// GIVEN: two accounts, an income and two expenses, one budgeted
	f := newFixture(t)
	a := f.account("A", "100")
	b := f.account("B", "50")
	salary := f.category("Salary", ledger.KindIncome)
	food := f.category("Food", ledger.KindExpense)
	budget := f.budget(food.ID, "200")
	f.create(income(a.ID, salary.ID, "1000"))
	f.create(expense(a.ID, food.ID, budget.ID, "170"))
	f.create(expense(b.ID, food.ID, "", "20"))

	// WHEN
	s := f.e.View().Summary()

	// THEN
	assert.True(t, s.TotalIncome.Equal(d("1000")))
	assert.True(t, s.TotalExpenses.Equal(d("190")))
	assert.True(t, s.NetSavings.Equal(d("810")))
	assert.True(t, s.TotalBalance.Equal(d("960")))
	assert.True(t, s.TotalAllocated.Equal(d("200")))
	assert.True(t, s.TotalSpent.Equal(d("170")))
	assert.True(t, s.TotalRemaining.Equal(d("30")))
	require.Len(t, s.Budgets, 1)
	assert.Equal(t, ledger.BudgetWarning, s.Budgets[0].Status)
}

func TestProjection_Ordering(t *testing.T) {
	f := newFixture(t)
	acc := f.account("A", "0")
	gift := f.category("Gift", ledger.KindIncome)

	older := income(acc.ID, gift.ID, "1")
	older.Date = march(20)
	first := f.create(older)
	newer := income(acc.ID, gift.ID, "2")
	newer.Date = march(5)
	second := f.create(newer)

	// New records are prepended regardless of date.
	live := f.e.View().Transactions()
	require.Len(t, live, 2)
	assert.Equal(t, second.ID, live[0].ID)

	// A fresh load orders by date, newest first.
	reloaded := ledger.NewEngine(f.mem, ledger.DefaultOptions())
	require.NoError(t, reloaded.Load(f.ctx))
	loaded := reloaded.View().Transactions()
	require.Len(t, loaded, 2)
	assert.Equal(t, first.ID, loaded[0].ID)
	assert.Equal(t, second.ID, loaded[1].ID)
}

func TestProjection_ReadsAreCopies(t *testing.T) {
	f := newFixture(t)
	acc := f.account("A", "0")
	gift := f.category("Gift", ledger.KindIncome)
	f.create(income(acc.ID, gift.ID, "1"))

	txs := f.e.View().Transactions()
	txs[0].Amount = d("1000")

	again := f.e.View().Transactions()
	assert.True(t, again[0].Amount.Equal(d("1")))
}

func TestBudgetCovers(t *testing.T) {
	b := ledger.Budget{StartDate: march(1), EndDate: march(31)}

	assert.True(t, b.Covers(time.Date(2024, 3, 31, 22, 0, 0, 0, time.UTC)))
	assert.False(t, b.Covers(time.Date(2024, 2, 29, 23, 0, 0, 0, time.UTC)))
	assert.True(t, ledger.Budget{Total: d("10"), Spent: d("25")}.Remaining().Equal(d("-15")))
}
