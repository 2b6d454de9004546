package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/finance-ledger/ledger"
	"github.com/warp/finance-ledger/ledger/store"
)

func TestAccountLedger_ApplyDelta(t *testing.T) {
	// GIVEN: an account with 100
	ctx := context.Background()
	mem := store.NewMemory()
	acc, err := mem.Accounts().Insert(ctx, ledger.Account{Owner: "alice", Name: "A", Type: ledger.AccountBank, Balance: d("100")})
	require.NoError(t, err)
	l := ledger.NewAccountLedger(mem)

	// WHEN: applying -30.25 then +5
	b1, err := l.ApplyDelta(ctx, acc.ID, d("-30.25"))
	require.NoError(t, err)
	b2, err := l.ApplyDelta(ctx, acc.ID, d("5"))
	require.NoError(t, err)

	// THEN: each call returns the new balance, which may go negative
	assert.True(t, b1.Equal(d("69.75")))
	assert.True(t, b2.Equal(d("74.75")))
	b3, err := l.ApplyDelta(ctx, acc.ID, d("-100"))
	require.NoError(t, err)
	assert.True(t, b3.Equal(d("-25.25")))
}

func TestAccountLedger_Missing(t *testing.T) {
	l := ledger.NewAccountLedger(store.NewMemory())

	_, err := l.GetBalance(context.Background(), "nope")
	var nf *ledger.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, ledger.EntityAccount, nf.Kind)

	_, err = l.ApplyDelta(context.Background(), "nope", d("1"))
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestAccountLedger_WriteFailure(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	acc, err := mem.Accounts().Insert(ctx, ledger.Account{Owner: "alice", Name: "A", Balance: d("10")})
	require.NoError(t, err)
	mem.Inject(store.Fault{Table: ledger.TableAccounts, Op: store.OpUpdate, Times: 1})

	_, err = ledger.NewAccountLedger(mem).ApplyDelta(ctx, acc.ID, d("1"))

	assert.ErrorIs(t, err, store.ErrInjected)
	assert.False(t, ledger.IsNotFound(err))
}

func TestBudgetLedger_SpentIsClampedAtZero(t *testing.T) {
	// GIVEN: a budget with 40 spent
	ctx := context.Background()
	mem := store.NewMemory()
	b, err := mem.Budgets().Insert(ctx, ledger.Budget{Owner: "alice", Name: "Food", Total: d("100"), Spent: d("40")})
	require.NoError(t, err)
	l := ledger.NewBudgetLedger(mem)

	// WHEN: releasing 60
	change, err := l.ApplySpentDelta(ctx, b.ID, d("-60"))

	// THEN: spent stops at zero and Applied reports the real movement
	require.NoError(t, err)
	assert.True(t, change.Before.Equal(d("40")))
	assert.True(t, change.After.IsZero())
	assert.True(t, change.Applied().Equal(d("-40")))

	// AND: undoing by the applied amount restores the original value
	back, err := l.ApplySpentDelta(ctx, b.ID, change.Applied().Neg())
	require.NoError(t, err)
	assert.True(t, back.After.Equal(d("40")))
}

func TestBudgetLedger_GetByCategory(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	insert := func(name, owner string, start, end time.Time, created int) ledger.Budget {
		b, err := mem.Budgets().Insert(ctx, ledger.Budget{
			Owner: ledger.OwnerID(owner), Name: name, CategoryID: "food", Total: d("100"),
			StartDate: start, EndDate: end, CreatedAt: march(1).Add(time.Duration(created) * time.Hour),
		})
		require.NoError(t, err)
		return b
	}
	monthly := insert("March", "alice", march(1), march(31), 1)
	weekly := insert("Week 2", "alice", march(8), march(14), 2)
	insert("Bob's", "bob", march(1), march(31), 3)
	l := ledger.NewBudgetLedger(mem)

	tests := []struct {
		name  string
		on    time.Time
		want  ledger.BudgetID
		found bool
	}{
		{"window start is inclusive", march(1), monthly.ID, true},
		{"overlap picks newest", march(10), weekly.ID, true},
		{"window end is inclusive", time.Date(2024, 3, 31, 23, 59, 0, 0, time.UTC), monthly.ID, true},
		{"outside every window", time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, found, err := l.GetByCategory(ctx, "alice", "food", tt.on)
			require.NoError(t, err)
			assert.Equal(t, tt.found, found)
			assert.Equal(t, tt.want, b.ID)
		})
	}

	_, found, err := l.GetByCategory(ctx, "alice", "rent", march(10))
	require.NoError(t, err)
	assert.False(t, found)
}
