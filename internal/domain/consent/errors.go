package consent

import "errors"

// Sentinel errors for the consent lifecycle. Handlers map these onto HTTP
// status codes; services wrap them with context via fmt.Errorf and %w.
var (
	ErrInvalidArgument = errors.New("invalid consent request argument")
	ErrNotFound        = errors.New("consent request not found")
	ErrInvalidState    = errors.New("transition not allowed from current status")
	ErrDuplicate       = errors.New("a pending request for this record already exists")

	// ErrOracleUnavailable covers every ledger failure during an approve:
	// the off-chain row is still pending and the approve can be retried.
	ErrOracleUnavailable = errors.New("consent ledger unavailable")

	// ErrReconciliationAnomaly means the grant landed on chain but the
	// off-chain transition failed afterwards. The divergence is recorded
	// durably and needs out-of-band repair.
	ErrReconciliationAnomaly = errors.New("ledger grant succeeded but status update failed")
)
