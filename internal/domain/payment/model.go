package payment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order status values.
const (
	StatusCreated = "created"
	StatusPaid    = "paid"
)

// Order is a payment order for consented record access. The amount always
// comes from the record row at creation time, never from the client.
type Order struct {
	ID              uuid.UUID       `json:"id"`
	RequesterID     int64           `json:"requesterId"`
	OwnerID         int64           `json:"ownerId"`
	DataHash        string          `json:"dataHash"`
	ProviderOrderID string          `json:"providerOrderId"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Receipt         string          `json:"receipt"`
	Status          string          `json:"status"`
	PaymentID       string          `json:"paymentId,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	PaidAt          *time.Time      `json:"paidAt,omitempty"`
}

// MinorUnits returns the amount in the currency's smallest unit (paise for
// INR), the form the provider expects.
func (o *Order) MinorUnits() int64 {
	return o.Amount.Shift(2).IntPart()
}
