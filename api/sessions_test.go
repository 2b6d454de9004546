package api

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/finance-ledger/ledger"
	"github.com/warp/finance-ledger/ledger/store"
)

func TestSessions_SerializesPerOwner(t *testing.T) {
	// GIVEN: one account and many concurrent writers for the same owner
	mem := store.NewMemory()
	sessions := NewSessions(mem, ledger.DefaultOptions())
	ctx := ledger.WithOwner(context.Background(), "alice")

	var (
		accID ledger.AccountID
		catID ledger.CategoryID
	)
	require.NoError(t, sessions.Do(ctx, func(e *ledger.Engine) error {
		acc, err := e.CreateAccount(ctx, ledger.NewAccount{Name: "Cash", Type: ledger.AccountWallet})
		if err != nil {
			return err
		}
		cat, err := e.CreateCategory(ctx, ledger.NewCategory{Name: "Gifts", Kind: ledger.KindIncome})
		accID, catID = acc.ID, cat.ID
		return err
	}))

	// WHEN: 25 incomes of 2 are created in parallel
	const writers = 25
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := sessions.Do(ctx, func(e *ledger.Engine) error {
				_, err := e.CreateTransaction(ctx, ledger.NewTransaction{
					AccountID:  accID,
					CategoryID: catID,
					Amount:     decimal.NewFromInt(2),
					Kind:       ledger.KindIncome,
					Date:       time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
				})
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// THEN: no update was lost
	require.NoError(t, sessions.Do(ctx, func(e *ledger.Engine) error {
		report, err := e.Reconcile(ctx, false)
		require.NoError(t, err)
		assert.True(t, report.Clean())
		acc, _ := e.View().Account(accID)
		assert.True(t, acc.Balance.Equal(decimal.NewFromInt(2*writers)), acc.Balance.String())
		return nil
	}))
}

func TestSessions_RequiresOwner(t *testing.T) {
	sessions := NewSessions(store.NewMemory(), ledger.DefaultOptions())

	err := sessions.Do(context.Background(), func(*ledger.Engine) error { return nil })

	assert.ErrorIs(t, err, ledger.ErrValidationFailed)
}

func TestSessions_DropReloadsFromStore(t *testing.T) {
	// GIVEN: a loaded session and a row written straight to the store
	mem := store.NewMemory()
	sessions := NewSessions(mem, ledger.DefaultOptions())
	ctx := ledger.WithOwner(context.Background(), "alice")
	require.NoError(t, sessions.Do(ctx, func(*ledger.Engine) error { return nil }))

	_, err := mem.Categories().Insert(ctx, ledger.Category{Owner: "alice", Name: "Direct", Kind: ledger.KindExpense})
	require.NoError(t, err)

	// WHEN: the session is dropped
	sessions.Drop("alice")

	// THEN: the next call sees the row
	require.NoError(t, sessions.Do(ctx, func(e *ledger.Engine) error {
		assert.Len(t, e.View().Categories(), 1)
		return nil
	}))
}

func TestSessions_DropWaitsForInFlightCall(t *testing.T) {
	// GIVEN: a call holding the owner's engine
	mem := store.NewMemory()
	sessions := NewSessions(mem, ledger.DefaultOptions())
	ctx := ledger.WithOwner(context.Background(), "alice")

	var old *ledger.Engine
	entered, release := make(chan struct{}), make(chan struct{})
	inFlight := make(chan error, 1)
	go func() {
		inFlight <- sessions.Do(ctx, func(e *ledger.Engine) error {
			old = e
			close(entered)
			<-release
			_, err := e.CreateCategory(ctx, ledger.NewCategory{Name: "Late", Kind: ledger.KindExpense})
			return err
		})
	}()
	<-entered

	// WHEN: the session is reset while that call is still running
	var resetRan bool
	dropped := make(chan error, 1)
	go func() {
		dropped <- sessions.Reset(ctx, "alice", func(ctx context.Context) error {
			resetRan = true
			return mem.ResetOwner(ctx, "alice")
		})
	}()

	// THEN: the reset waits for the call to finish
	select {
	case <-dropped:
		t.Fatal("reset returned while a call was still using the old engine")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-inFlight)
	require.NoError(t, <-dropped)
	assert.True(t, resetRan)

	// AND: the write made before the reset is gone and a fresh engine serves the owner
	require.NoError(t, sessions.Do(ctx, func(e *ledger.Engine) error {
		assert.NotSame(t, old, e)
		assert.Empty(t, e.View().Categories())
		return nil
	}))
}
