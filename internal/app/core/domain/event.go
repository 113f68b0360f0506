package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionEvent 交易完成後對外發送的通知
type TransactionEvent struct {
	TransactionID uuid.UUID         `json:"transaction_id"`
	Type          string            `json:"type"`
	Status        TransactionStatus `json:"status"`
	FromAccount   string            `json:"from_account,omitempty"`
	ToAccount     string            `json:"to_account,omitempty"`
	Amount        decimal.Decimal   `json:"amount"`
	ReversalOf    *uuid.UUID        `json:"reversal_of,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

func NewTransactionEvent(t *Transaction) TransactionEvent {
	evt := TransactionEvent{
		TransactionID: t.ID,
		Type:          t.Type.String(),
		Status:        t.Status,
		FromAccount:   t.From,
		ToAccount:     t.To,
		Amount:        t.Amount,
		OccurredAt:    t.UpdatedAt,
	}
	if t.ReversalOf != uuid.Nil {
		id := t.ReversalOf
		evt.ReversalOf = &id
	}
	return evt
}
