package payment

import "context"

// Repository persists payment orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByProviderOrderID(ctx context.Context, providerOrderID string) (*Order, error)
	// MarkPaid transitions a created order to paid and stores the provider
	// payment id. Returns ErrAlreadyPaid if the order is not in the created
	// state.
	MarkPaid(ctx context.Context, providerOrderID, paymentID string) (*Order, error)
	ListByRequester(ctx context.Context, requesterID int64) ([]*Order, error)
}
