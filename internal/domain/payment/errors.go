package payment

import "errors"

var (
	// ErrNotFound indicates the order does not exist.
	ErrNotFound = errors.New("payment: order not found")

	// ErrConsentRequired indicates no approved consent covers the
	// (owner, requester, dataHash) triple.
	ErrConsentRequired = errors.New("payment: approved consent required")

	// ErrSignatureMismatch indicates the provider signature did not verify.
	ErrSignatureMismatch = errors.New("payment: signature mismatch")

	// ErrInvalidArgument indicates malformed input.
	ErrInvalidArgument = errors.New("payment: invalid argument")

	// ErrProviderUnavailable indicates the payment provider call failed.
	ErrProviderUnavailable = errors.New("payment: provider unavailable")

	// ErrAlreadyPaid indicates the order was already marked paid.
	ErrAlreadyPaid = errors.New("payment: order already paid")
)
