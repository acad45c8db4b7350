package payment

import (
	"context"
	"fmt"

	razorpay "github.com/razorpay/razorpay-go"
)

type razorpayProvider struct{ client *razorpay.Client }

// NewRazorpayProvider wraps the Razorpay SDK behind the Provider interface.
func NewRazorpayProvider(keyID, keySecret string) Provider {
	return &razorpayProvider{client: razorpay.NewClient(keyID, keySecret)}
}

func (p *razorpayProvider) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string, notes map[string]interface{}) (string, error) {
	body, err := p.client.Order.Create(map[string]interface{}{
		"amount":   amountMinor,
		"currency": currency,
		"receipt":  receipt,
		"notes":    notes,
	}, nil)
	if err != nil {
		return "", err
	}
	id, ok := body["id"].(string)
	if !ok {
		return "", fmt.Errorf("razorpay: order response missing id")
	}
	return id, nil
}
