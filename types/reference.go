package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReferenceState состояние платёжной ссылки
type ReferenceState string

const (
	ReferenceStatePending   ReferenceState = "pending"
	ReferenceStateConfirmed ReferenceState = "confirmed"
	ReferenceStateFailed    ReferenceState = "failed"
)

// IsFinal сообщает, что из состояния нет переходов
func (s ReferenceState) IsFinal() bool {
	return s == ReferenceStateConfirmed || s == ReferenceStateFailed
}

// PaymentIntent ожидаемые параметры платежа, зафиксированные при выпуске ссылки
type PaymentIntent struct {
	Recipient   string          `json:"recipient" db:"recipient"`
	Token       string          `json:"token" db:"token"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Description string          `json:"description" db:"description"`
}

// PaymentReference представляет запись в таблице payment_references
type PaymentReference struct {
	ID            string         `json:"id" db:"id"`
	State         ReferenceState `json:"state" db:"state"`
	Intent        PaymentIntent  `json:"intent"`
	TransactionID string         `json:"transaction_id,omitempty" db:"transaction_id"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	FinalizedAt   *time.Time     `json:"finalized_at,omitempty" db:"finalized_at"`
}
