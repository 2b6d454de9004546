package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/finance-ledger/ledger"
	"github.com/warp/finance-ledger/ledger/store"
)

func TestReconcile_DetectsLostUpdate(t *testing.T) {
	// GIVEN: two unserialized engines for the same owner
	f := newFixture(t)
	acc := f.account("A", "100")
	gift := f.category("Gift", ledger.KindIncome)

	other := ledger.NewEngine(f.mem, ledger.DefaultOptions())
	require.NoError(t, other.Load(f.ctx))

	// WHEN: the second engine writes between the first one's read and write
	fired := false
	f.mem.SetHook(func(_ context.Context, table ledger.TableName, op store.Op, _ string) {
		if fired || table != ledger.TableAccounts || op != store.OpUpdate {
			return
		}
		fired = true
		_, err := other.CreateTransaction(f.ctx, income(acc.ID, gift.ID, "30"))
		assert.NoError(t, err)
	})
	f.create(income(acc.ID, gift.ID, "50"))
	f.mem.SetHook(nil)

	// THEN: the stale write won and reconcile reports the missing 30
	assert.True(t, f.balance(acc.ID).Equal(d("150")))
	report, err := f.e.Reconcile(f.ctx, false)
	require.NoError(t, err)
	require.Len(t, report.Drifts, 1)
	drift := report.Drifts[0]
	assert.Equal(t, ledger.EntityAccount, drift.Kind)
	assert.Equal(t, string(acc.ID), drift.ID)
	assert.True(t, drift.Expected.Equal(d("180")))
	assert.True(t, drift.Difference().Equal(d("30")))
	assert.False(t, drift.Repaired)

	// AND: repair applies the difference and a second pass is clean
	report, err = f.e.Reconcile(f.ctx, true)
	require.NoError(t, err)
	require.Len(t, report.Drifts, 1)
	assert.True(t, report.Drifts[0].Repaired)
	assert.True(t, f.balance(acc.ID).Equal(d("180")))
	cached, _ := f.e.View().Account(acc.ID)
	assert.True(t, cached.Balance.Equal(d("180")))

	report, err = f.e.Reconcile(f.ctx, false)
	require.NoError(t, err)
	assert.True(t, report.Clean())
}

func TestReconcile_OrphanedRowShowsAsDrift(t *testing.T) {
	f := newFixture(t)
	acc := f.account("A", "500")
	cat := f.category("Gift", ledger.KindIncome)
	f.mem.Inject(store.Fault{Table: ledger.TableAccounts, Op: store.OpUpdate, Times: 1})
	f.mem.Inject(store.Fault{Table: ledger.TableTransactions, Op: store.OpDelete, Times: 1})

	_, err := f.e.CreateTransaction(f.ctx, income(acc.ID, cat.ID, "50"))
	require.True(t, ledger.NeedsManualReconciliation(err))

	report, err := f.e.Reconcile(f.ctx, false)
	require.NoError(t, err)
	require.Len(t, report.Drifts, 1)
	assert.True(t, report.Drifts[0].Recorded.Equal(d("500")))
	assert.True(t, report.Drifts[0].Expected.Equal(d("550")))
	assert.Empty(t, f.e.View().Transactions())
}

func TestReconcile_RepairAdoptsOrphanedRow(t *testing.T) {
	// GIVEN: a failed create left its transaction row behind
	f := newFixture(t)
	acc := f.account("A", "500")
	cat := f.category("Gift", ledger.KindIncome)
	f.mem.Inject(store.Fault{Table: ledger.TableAccounts, Op: store.OpUpdate, Times: 1})
	f.mem.Inject(store.Fault{Table: ledger.TableTransactions, Op: store.OpDelete, Times: 1})
	_, err := f.e.CreateTransaction(f.ctx, income(acc.ID, cat.ID, "50"))
	var sw *ledger.StoreWriteError
	require.ErrorAs(t, err, &sw)
	require.NotEmpty(t, sw.Orphaned)

	// WHEN: reconciling with repair
	report, err := f.e.Reconcile(f.ctx, true)

	// THEN: the balance counts the row and the projection shows it
	require.NoError(t, err)
	require.Len(t, report.Drifts, 1)
	assert.True(t, report.Drifts[0].Repaired)
	assert.True(t, f.balance(acc.ID).Equal(d("550")))
	view, ok := f.e.View().Account(acc.ID)
	require.True(t, ok)
	assert.True(t, view.Balance.Equal(d("550")))
	txs := f.e.View().Transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, sw.Orphaned, txs[0].ID)
	f.assertConsistent()

	// AND: deleting the adopted row through the engine undoes it
	_, err = f.e.DeleteTransaction(f.ctx, sw.Orphaned)
	require.NoError(t, err)
	assert.True(t, f.balance(acc.ID).Equal(d("500")))
	f.assertConsistent()
}

func TestReconcile_BudgetDrift(t *testing.T) {
	f := newFixture(t)
	acc := f.account("A", "500")
	food := f.category("Food", ledger.KindExpense)
	budget := f.budget(food.ID, "300")
	f.create(expense(acc.ID, food.ID, budget.ID, "70"))

	wrong := d("10")
	_, err := f.mem.Budgets().Update(f.ctx, string(budget.ID), ledger.BudgetPatch{Spent: &wrong})
	require.NoError(t, err)

	report, err := f.e.Reconcile(f.ctx, true)

	require.NoError(t, err)
	assert.Equal(t, 1, report.CheckedAccounts)
	assert.Equal(t, 1, report.CheckedBudgets)
	require.Len(t, report.Drifts, 1)
	assert.Equal(t, ledger.EntityBudget, report.Drifts[0].Kind)
	assert.Equal(t, budget.Name, report.Drifts[0].Name)
	assert.True(t, f.spent(budget.ID).Equal(d("70")))
	f.assertConsistent()
}

func TestReconcile_SelectFailure(t *testing.T) {
	f := newFixture(t)
	f.mem.Inject(store.Fault{Table: ledger.TableTransactions, Op: store.OpSelect, Times: 1})

	report, err := f.e.Reconcile(f.ctx, false)

	assert.ErrorIs(t, err, store.ErrInjected)
	assert.Equal(t, ledger.OwnerID("alice"), report.Owner)
}

func TestRunOf(t *testing.T) {
	report := ledger.ReconcileReport{
		Owner:           "alice",
		CheckedAccounts: 2,
		CheckedBudgets:  1,
		Drifts:          []ledger.Drift{{Repaired: true}, {Repaired: false}},
		StartedAt:       march(1),
		FinishedAt:      march(2),
	}

	run := ledger.RunOf(report, true, nil)
	assert.Equal(t, ledger.RunCompleted, run.Status)
	assert.Equal(t, ledger.OwnerID("alice"), run.Owner)
	assert.True(t, run.Repair)
	assert.Equal(t, 2, run.Drifts)
	assert.Equal(t, 1, run.Repaired)
	assert.Equal(t, march(2), run.CompletedAt)

	failed := ledger.RunOf(report, false, errors.New("boom"))
	assert.Equal(t, ledger.RunFailed, failed.Status)
	assert.Equal(t, "boom", failed.Error)
}
