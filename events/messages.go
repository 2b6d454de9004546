package events

import (
	"encoding/json"
	"time"

	"github.com/warp/finance-ledger/ledger"
)

// TransactionMessage is the wire form of a committed transaction mutation.
// Amount is a decimal string so consumers never see float rounding.
type TransactionMessage struct {
	Type          string    `json:"type"`
	Owner         string    `json:"owner"`
	TransactionID string    `json:"transaction_id"`
	AccountID     string    `json:"account_id"`
	BudgetID      string    `json:"budget_id,omitempty"`
	Kind          string    `json:"kind"`
	Amount        string    `json:"amount"`
	Warnings      []string  `json:"warnings,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewTransactionMessage(ev ledger.Event) *TransactionMessage {
	return &TransactionMessage{
		Type:          string(ev.Type),
		Owner:         string(ev.Owner),
		TransactionID: string(ev.Transaction.ID),
		AccountID:     string(ev.Transaction.AccountID),
		BudgetID:      string(ev.Transaction.BudgetID),
		Kind:          string(ev.Transaction.Kind),
		Amount:        ev.Transaction.Amount.String(),
		Warnings:      ev.Warnings,
		Timestamp:     ev.At,
	}
}

// ToJSON converts the message to JSON bytes
func (m *TransactionMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func TransactionMessageFromJSON(data []byte) (*TransactionMessage, error) {
	var msg TransactionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
