package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/finance-ledger/ledger"
)

type fakeChannel struct {
	exchange, key string
	published     []amqp091.Publishing
	err           error
	closed        bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp091.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.exchange, f.key = exchange, key
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func sampleEvent() ledger.Event {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return ledger.Event{
		Type:  ledger.EventTransactionCreated,
		Owner: "user-1",
		Transaction: ledger.Transaction{
			ID:        "tx-1",
			AccountID: "acc-1",
			BudgetID:  "bud-1",
			Amount:    decimal.RequireFromString("300.10"),
			Kind:      ledger.KindExpense,
		},
		Warnings: []string{"budget bud-1 not adjusted"},
		At:       at,
	}
}

func TestPublisher_Notify(t *testing.T) {
	// GIVEN: a publisher on a fake channel
	ch := &fakeChannel{}
	p := newPublisher(ch, "ledger", "transactions", zerolog.Nop())

	// WHEN: an event is published
	require.NoError(t, p.Notify(context.Background(), sampleEvent()))

	// THEN: one persistent JSON message went to the configured exchange
	require.Len(t, ch.published, 1)
	msg := ch.published[0]
	assert.Equal(t, "ledger", ch.exchange)
	assert.Equal(t, "transactions", ch.key)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp091.Persistent, msg.DeliveryMode)
	assert.Equal(t, "transaction.created", msg.Type)

	decoded, err := TransactionMessageFromJSON(msg.Body)
	require.NoError(t, err)
	assert.Equal(t, "tx-1", decoded.TransactionID)
	assert.Equal(t, "300.1", decoded.Amount)
	assert.Equal(t, "bud-1", decoded.BudgetID)
	assert.Equal(t, []string{"budget bud-1 not adjusted"}, decoded.Warnings)
}

func TestPublisher_NotifyError(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	p := newPublisher(ch, "ledger", "transactions", zerolog.Nop())

	err := p.Notify(context.Background(), sampleEvent())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "transaction.created")
}

func TestPublisher_Close(t *testing.T) {
	ch := &fakeChannel{}
	p := newPublisher(ch, "ledger", "transactions", zerolog.Nop())

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

func TestTransactionMessage_OmitsEmptyBudget(t *testing.T) {
	ev := sampleEvent()
	ev.Transaction.BudgetID = ""
	ev.Warnings = nil

	body, err := NewTransactionMessage(ev).ToJSON()

	require.NoError(t, err)
	assert.NotContains(t, string(body), "budget_id")
	assert.NotContains(t, string(body), "warnings")
}
