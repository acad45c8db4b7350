package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Currency for all orders. Provider amounts are expressed in paise.
const Currency = "INR"

// ConsentGate reports whether an approved consent request covers the triple.
// Implemented by the consent service.
type ConsentGate interface {
	HasApproved(ctx context.Context, ownerID, requesterID int64, dataHash string) (bool, error)
}

// RecordSource resolves a record's price. Implemented by the record service.
type RecordSource interface {
	Amount(ctx context.Context, ownerID int64, dataHash string) (decimal.Decimal, error)
}

// Provider creates orders with the payment gateway.
type Provider interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string, notes map[string]interface{}) (string, error)
}

type Service struct {
	repo     Repository
	provider Provider
	consents ConsentGate
	records  RecordSource
	secret   string
	logger   zerolog.Logger
}

func NewService(repo Repository, provider Provider, consents ConsentGate, records RecordSource, secret string, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		provider: provider,
		consents: consents,
		records:  records,
		secret:   secret,
		logger:   logger.With().Str("component", "payment").Logger(),
	}
}

type CreateOrderInput struct {
	OwnerID  int64  `json:"ownerId"`
	DataHash string `json:"dataHash"`
}

// CreateOrder opens a provider order for consented record access. The price
// is read from the record row; the request body never carries an amount.
func (s *Service) CreateOrder(ctx context.Context, requesterID int64, in CreateOrderInput) (*Order, error) {
	if requesterID <= 0 || in.OwnerID <= 0 {
		return nil, fmt.Errorf("%w: owner and requester ids are required", ErrInvalidArgument)
	}
	if !strings.HasPrefix(in.DataHash, "0x") {
		return nil, fmt.Errorf("%w: dataHash must be a 0x-prefixed digest", ErrInvalidArgument)
	}

	approved, err := s.consents.HasApproved(ctx, in.OwnerID, requesterID, in.DataHash)
	if err != nil {
		return nil, err
	}
	if !approved {
		return nil, ErrConsentRequired
	}

	amount, err := s.records.Amount(ctx, in.OwnerID, in.DataHash)
	if err != nil {
		return nil, err
	}

	order := &Order{
		RequesterID: requesterID,
		OwnerID:     in.OwnerID,
		DataHash:    in.DataHash,
		Amount:      amount,
		Currency:    Currency,
		Receipt:     "px_" + uuid.NewString()[:18],
	}
	providerOrderID, err := s.provider.CreateOrder(ctx, order.MinorUnits(), order.Currency, order.Receipt,
		map[string]interface{}{"dataHash": in.DataHash})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	order.ProviderOrderID = providerOrderID

	if err := s.repo.Create(ctx, order); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("order_id", order.ProviderOrderID).
		Int64("requester_id", requesterID).
		Str("amount", amount.String()).
		Msg("payment order created")
	return order, nil
}

type VerifyInput struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Signature string `json:"signature"`
}

// Verify checks the provider callback signature and marks the order paid.
// The signature is HMAC-SHA256 over "orderID|paymentID" keyed with the
// provider secret, hex encoded.
func (s *Service) Verify(ctx context.Context, in VerifyInput) (*Order, error) {
	if in.OrderID == "" || in.PaymentID == "" || in.Signature == "" {
		return nil, fmt.Errorf("%w: orderId, paymentId and signature are required", ErrInvalidArgument)
	}
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write([]byte(in.OrderID + "|" + in.PaymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(in.Signature)) {
		s.logger.Warn().Str("order_id", in.OrderID).Msg("payment signature rejected")
		return nil, ErrSignatureMismatch
	}
	order, err := s.repo.MarkPaid(ctx, in.OrderID, in.PaymentID)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("order_id", in.OrderID).Str("payment_id", in.PaymentID).Msg("payment verified")
	return order, nil
}

// History lists a requester's orders, newest first.
func (s *Service) History(ctx context.Context, requesterID int64) ([]*Order, error) {
	orders, err := s.repo.ListByRequester(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []*Order{}
	}
	return orders, nil
}
