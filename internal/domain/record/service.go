package record

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/patientx/patientx/internal/platform/ledger"
)

// Oracle registers record digests on chain.
type Oracle interface {
	RegisterHash(ctx context.Context, signer ledger.Binding, dataHash common.Hash) (string, error)
}

// Resolver maps user ids onto node accounts.
type Resolver interface {
	Resolve(ctx context.Context, userID int64) (ledger.Binding, error)
}

// Funder tops up accounts below the balance floor. Optional; nil disables
// funding.
type Funder interface {
	EnsureFunded(ctx context.Context, b ledger.Binding) error
}

// ConsentChecker reports whether a requester holds an approved consent for a
// record digest. The consent domain provides the implementation.
type ConsentChecker interface {
	CheckAccess(ctx context.Context, ownerID, requesterID int64, dataHash string) (bool, error)
}

type Service struct {
	repo     Repository
	oracle   Oracle
	resolver Resolver
	funder   Funder
	consent  ConsentChecker
	logger   zerolog.Logger
}

func NewService(repo Repository, oracle Oracle, resolver Resolver, funder Funder, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		oracle:   oracle,
		resolver: resolver,
		funder:   funder,
		logger:   logger,
	}
}

// SetConsentChecker wires the consent gate after construction. The consent
// service is built later in startup because it depends on records existing.
func (s *Service) SetConsentChecker(cc ConsentChecker) { s.consent = cc }

// StoreInput carries the fields accepted when a patient stores a record.
type StoreInput struct {
	Title    string          `json:"title"`
	Category string          `json:"category"`
	Hospital string          `json:"hospital"`
	Content  string          `json:"content"`
	Amount   decimal.Decimal `json:"amount"`
}

func (in *StoreInput) validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(in.Content) == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidArgument)
	}
	if in.Amount.IsNegative() {
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidArgument)
	}
	return nil
}

// Store hashes the content, registers the digest on chain under the
// patient's account, and only then persists the record. An oracle failure
// aborts the whole operation so the database never holds a record whose
// digest is missing from the ledger.
func (s *Service) Store(ctx context.Context, patientID int64, in StoreInput) (*Record, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	dataHash := Digest(in.Content)
	if _, err := s.repo.GetByOwnerAndHash(ctx, patientID, dataHash); err == nil {
		return nil, ErrDuplicate
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	signer, err := s.resolver.Resolve(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("resolve patient account: %w", err)
	}

	if s.funder != nil {
		if err := s.funder.EnsureFunded(ctx, signer); err != nil {
			s.logger.Warn().Err(err).Int64("patient_id", patientID).
				Msg("account funding failed, attempting registration anyway")
		}
	}

	txHash, err := s.oracle.RegisterHash(ctx, signer, ledger.HashPayload(dataHash))
	if err != nil {
		return nil, fmt.Errorf("register hash on ledger: %w", err)
	}

	rec := &Record{
		PatientID: patientID,
		Title:     strings.TrimSpace(in.Title),
		Category:  strings.TrimSpace(in.Category),
		Hospital:  strings.TrimSpace(in.Hospital),
		Content:   in.Content,
		DataHash:  dataHash,
		Amount:    in.Amount,
		TxHash:    txHash,
		OwnerAddr: signer.Address.Hex(),
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		// The digest is on chain but the row failed; surface loudly.
		s.logger.Error().Err(err).Str("data_hash", dataHash).Str("tx_hash", txHash).
			Msg("record insert failed after on-chain registration")
		return nil, err
	}

	s.logger.Info().Int64("record_id", rec.ID).Str("data_hash", dataHash).
		Str("tx_hash", txHash).Msg("record stored")
	return rec, nil
}

// GetByHash returns a record with content, addressed by its digest. Owners
// always read their own records; anyone else must hold an approved consent
// for the digest. Any failure while checking consent denies access.
func (s *Service) GetByHash(ctx context.Context, viewerID int64, dataHash string) (*Record, error) {
	rec, err := s.repo.GetByDataHash(ctx, dataHash)
	if err != nil {
		return nil, err
	}
	if rec.PatientID == viewerID {
		return rec, nil
	}

	if s.consent == nil {
		return nil, ErrAccessDenied
	}
	allowed, err := s.consent.CheckAccess(ctx, rec.PatientID, viewerID, rec.DataHash)
	if err != nil || !allowed {
		if err != nil {
			s.logger.Warn().Err(err).Int64("viewer_id", viewerID).
				Str("data_hash", rec.DataHash).Msg("consent check failed, denying access")
		}
		return nil, ErrAccessDenied
	}
	return rec, nil
}

// Browse returns record metadata, newest first, optionally filtered to one
// owner. Content is never included; it is only reachable through GetByHash
// under a consent check.
func (s *Service) Browse(ctx context.Context, ownerID int64, limit, offset int) ([]*Metadata, int, error) {
	var (
		records []*Record
		total   int
		err     error
	)
	if ownerID > 0 {
		records, total, err = s.repo.ListByPatient(ctx, ownerID, limit, offset)
	} else {
		records, total, err = s.repo.ListAll(ctx, limit, offset)
	}
	if err != nil {
		return nil, 0, err
	}
	out := make([]*Metadata, len(records))
	for i, rec := range records {
		out[i] = rec.ToMetadata()
	}
	return out, total, nil
}

// Exists reports whether an owner holds a record with the given digest. The
// consent domain uses it before opening a request.
func (s *Service) Exists(ctx context.Context, ownerID int64, dataHash string) (bool, error) {
	_, err := s.repo.GetByOwnerAndHash(ctx, ownerID, dataHash)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Amount returns the asking price of a record. The payment domain uses it so
// order amounts never come from the client.
func (s *Service) Amount(ctx context.Context, ownerID int64, dataHash string) (decimal.Decimal, error) {
	rec, err := s.repo.GetByOwnerAndHash(ctx, ownerID, dataHash)
	if err != nil {
		return decimal.Zero, err
	}
	return rec.Amount, nil
}
