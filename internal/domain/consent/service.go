package consent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/patientx/patientx/internal/platform/ledger"
	"github.com/patientx/patientx/internal/platform/notify"
)

// Oracle is the two-method ledger surface the reconciliation path needs.
type Oracle interface {
	GrantConsent(ctx context.Context, signer ledger.Binding, dataHash common.Hash, grantee common.Address) (string, error)
	HasConsent(ctx context.Context, dataHash common.Hash, grantee common.Address) (bool, error)
}

// Resolver maps user ids onto node accounts.
type Resolver interface {
	Resolve(ctx context.Context, userID int64) (ledger.Binding, error)
}

// Funder tops up accounts in non-production environments. Optional.
type Funder interface {
	EnsureFunded(ctx context.Context, b ledger.Binding) error
}

// RecordSource verifies that the record a request points at exists.
type RecordSource interface {
	Exists(ctx context.Context, ownerID int64, dataHash string) (bool, error)
}

// Service coordinates the off-chain consent store with the on-chain ledger.
// The store is authoritative for the request lifecycle; the chain is
// authoritative for the grant itself. Ordering is fixed: chain first, store
// second, so an oracle failure leaves a retryable pending row and never a
// store row claiming a grant that does not exist.
type Service struct {
	repo     Repository
	oracle   Oracle
	resolver Resolver
	funder   Funder
	records  RecordSource
	notifier notify.Notifier
	timeout  time.Duration
	logger   zerolog.Logger
}

func NewService(repo Repository, oracle Oracle, resolver Resolver, funder Funder,
	records RecordSource, notifier notify.Notifier, timeout time.Duration, logger zerolog.Logger) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		repo:     repo,
		oracle:   oracle,
		resolver: resolver,
		funder:   funder,
		records:  records,
		notifier: notifier,
		timeout:  timeout,
		logger:   logger,
	}
}

var dataHashRe = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// RequestAccess opens a pending request. No oracle interaction happens here;
// the chain is only touched when the owner approves.
func (s *Service) RequestAccess(ctx context.Context, requesterID, ownerID int64, dataHash string) (*Request, error) {
	if requesterID < 1 || ownerID < 1 {
		return nil, fmt.Errorf("%w: user ids must be positive", ErrInvalidArgument)
	}
	if requesterID == ownerID {
		return nil, fmt.Errorf("%w: cannot request access to your own record", ErrInvalidArgument)
	}
	if !dataHashRe.MatchString(dataHash) {
		return nil, fmt.Errorf("%w: malformed data hash", ErrInvalidArgument)
	}

	exists, err := s.records.Exists(ctx, ownerID, dataHash)
	if err != nil {
		return nil, fmt.Errorf("look up record: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: no record %s for owner %d", ErrNotFound, dataHash, ownerID)
	}

	req := &Request{RequesterID: requesterID, OwnerID: ownerID, DataHash: dataHash}
	if err := s.repo.CreateRequest(ctx, req); err != nil {
		return nil, err
	}

	s.push(ownerID, "consent.request.created", req)
	return req, nil
}

// resolveErr maps resolver failures onto the consent error taxonomy: a user
// with no ledger account is a missing precondition, a malformed id is a bad
// argument, and a node failure is a retryable oracle outage.
func resolveErr(role string, err error) error {
	switch {
	case errors.Is(err, ledger.ErrNoAccount):
		return fmt.Errorf("%w: no ledger account for %s", ErrNotFound, role)
	case errors.Is(err, ledger.ErrInvalidUserID):
		return fmt.Errorf("%w: invalid %s id", ErrInvalidArgument, role)
	case errors.Is(err, ledger.ErrUnavailable):
		return fmt.Errorf("%w: resolve %s account: %v", ErrOracleUnavailable, role, err)
	}
	return fmt.Errorf("resolve %s account: %w", role, err)
}

// ApproveResult reports what the approve achieved on both sides.
type ApproveResult struct {
	Request  *Request `json:"request"`
	TxnRef   string   `json:"txnRef"`
	Verified bool     `json:"verified"`
}

// Approve grants consent: ledger write first, then the store transition.
//
// Failure modes line up with the ordering. Anything failing before or during
// the ledger write leaves the row pending and the whole approve retryable.
// A store failure after the grant landed is recorded as a durable anomaly
// and surfaced as ErrReconciliationAnomaly.
func (s *Service) Approve(ctx context.Context, requestID uuid.UUID, ownerID int64) (*ApproveResult, error) {
	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	if req.Status != StatusPending {
		return nil, fmt.Errorf("%w: request is %s", ErrInvalidState, req.Status)
	}

	owner, err := s.resolver.Resolve(ctx, req.OwnerID)
	if err != nil {
		return nil, resolveErr("owner", err)
	}
	requester, err := s.resolver.Resolve(ctx, req.RequesterID)
	if err != nil {
		return nil, resolveErr("requester", err)
	}

	exists, err := s.records.Exists(ctx, req.OwnerID, req.DataHash)
	if err != nil {
		return nil, fmt.Errorf("look up record: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: record vanished for request %s", ErrNotFound, requestID)
	}

	if s.funder != nil {
		if err := s.funder.EnsureFunded(ctx, owner); err != nil {
			s.logger.Warn().Err(err).Int64("owner_id", ownerID).
				Msg("owner account funding failed, attempting grant anyway")
		}
	}

	grantCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	txnRef, err := s.oracle.GrantConsent(grantCtx, owner, ledger.HashPayload(req.DataHash), requester.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}

	updated, err := s.repo.Transition(ctx, requestID, ownerID, StatusApproved)
	if err != nil {
		// A state conflict means a racing transition won after the grant
		// landed. The store is still internally consistent and CheckAccess
		// consults it first, so this is a lost race, not a divergence.
		if errors.Is(err, ErrInvalidState) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		anomaly := &Anomaly{RequestID: requestID, TxnRef: txnRef, Detail: err.Error()}
		if recErr := s.repo.RecordAnomaly(ctx, anomaly); recErr != nil {
			s.logger.Error().Err(recErr).Str("request_id", requestID.String()).
				Msg("failed to record consent anomaly")
		}
		s.logger.Error().Err(err).
			Str("request_id", requestID.String()).
			Str("txn_ref", txnRef).
			Msg("consent granted on ledger but store transition failed")
		return nil, fmt.Errorf("%w: txn %s: %v", ErrReconciliationAnomaly, txnRef, err)
	}

	// Verification read of the grant. Informational: a false or failed read
	// does not unwind anything.
	verified := false
	if ok, verr := s.oracle.HasConsent(ctx, ledger.HashPayload(req.DataHash), requester.Address); verr == nil {
		verified = ok
	} else {
		s.logger.Warn().Err(verr).Str("request_id", requestID.String()).
			Msg("post-grant verification read failed")
	}

	s.push(updated.RequesterID, "consent.request.approved", updated)
	return &ApproveResult{Request: updated, TxnRef: txnRef, Verified: verified}, nil
}

// Decline rejects a pending request. Store-only.
func (s *Service) Decline(ctx context.Context, requestID uuid.UUID, ownerID int64) (*Request, error) {
	req, err := s.repo.Transition(ctx, requestID, ownerID, StatusDeclined)
	if err != nil {
		return nil, err
	}
	s.push(req.RequesterID, "consent.request.declined", req)
	return req, nil
}

// Cancel lets the requester retract a pending request. Store-only.
func (s *Service) Cancel(ctx context.Context, requestID uuid.UUID, requesterID int64) (*Request, error) {
	req, err := s.repo.Transition(ctx, requestID, requesterID, StatusCancelled)
	if err != nil {
		return nil, err
	}
	s.push(req.OwnerID, "consent.request.cancelled", req)
	return req, nil
}

// Withdraw revokes an approved grant off-chain. The contract has no revoke
// primitive, so the chain keeps answering true; CheckAccess consults the
// store first precisely so a withdrawn grant still denies.
func (s *Service) Withdraw(ctx context.Context, requestID uuid.UUID, ownerID int64) (*Request, error) {
	req, err := s.repo.Transition(ctx, requestID, ownerID, StatusWithdrawn)
	if err != nil {
		return nil, err
	}
	s.push(req.RequesterID, "consent.request.withdrawn", req)
	return req, nil
}

func (s *Service) ListPending(ctx context.Context, ownerID int64, limit, offset int) ([]*Request, int, error) {
	return s.repo.ListPending(ctx, ownerID, limit, offset)
}

func (s *Service) ListByRequester(ctx context.Context, requesterID int64, limit, offset int) ([]*Request, int, error) {
	return s.repo.ListByRequester(ctx, requesterID, limit, offset)
}

// CheckAccess reports whether requester may read the owner's record. It
// fails closed: every lookup or oracle failure yields false, never an error
// into the data path. The off-chain status is consulted first, then the
// chain confirms the grant actually exists.
func (s *Service) CheckAccess(ctx context.Context, ownerID, requesterID int64, dataHash string) (bool, error) {
	approved, err := s.repo.HasApproved(ctx, ownerID, requesterID, dataHash)
	if err != nil {
		s.logger.Warn().Err(err).Msg("consent status lookup failed, denying access")
		return false, nil
	}
	if !approved {
		return false, nil
	}

	requester, err := s.resolver.Resolve(ctx, requesterID)
	if err != nil {
		s.logger.Warn().Err(err).Int64("requester_id", requesterID).
			Msg("requester account resolution failed, denying access")
		return false, nil
	}

	checkCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	granted, err := s.oracle.HasConsent(checkCtx, ledger.HashPayload(dataHash), requester.Address)
	if err != nil {
		s.logger.Warn().Err(err).Str("data_hash", dataHash).
			Msg("ledger consent check failed, denying access")
		return false, nil
	}
	return granted, nil
}

// HasApproved reports whether an approved request covers the triple, from
// the off-chain store alone. Used to gate payment order creation.
func (s *Service) HasApproved(ctx context.Context, ownerID, requesterID int64, dataHash string) (bool, error) {
	return s.repo.HasApproved(ctx, ownerID, requesterID, dataHash)
}

func (s *Service) push(userID int64, eventType string, req *Request) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(userID, notify.Event{
		Type:      eventType,
		RequestID: req.ID.String(),
		DataHash:  req.DataHash,
	})
}
