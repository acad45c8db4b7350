package consent

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists consent requests and anomalies.
type Repository interface {
	// CreateRequest inserts a pending request. ErrDuplicate when a pending
	// request for the same (requester, owner, hash) triple already exists.
	CreateRequest(ctx context.Context, r *Request) error

	GetByID(ctx context.Context, id uuid.UUID) (*Request, error)

	// ListPending returns an owner's open inbound requests, newest first.
	ListPending(ctx context.Context, ownerID int64, limit, offset int) ([]*Request, int, error)

	// ListByRequester returns a requester's outbound requests in every
	// status, newest first.
	ListByRequester(ctx context.Context, requesterID int64, limit, offset int) ([]*Request, int, error)

	// Transition moves a request to target when the current status and the
	// acting party both match the transition rule, in one conditional
	// UPDATE. This is the only concurrency control over the lifecycle: of
	// two racing transitions exactly one sees a row. ErrNotFound when the
	// id is unknown or the actor is not the authorized party,
	// ErrInvalidState when the row exists but is not in the required
	// status.
	Transition(ctx context.Context, id uuid.UUID, actorID int64, target Status) (*Request, error)

	// HasApproved reports whether an approved request exists for the
	// triple.
	HasApproved(ctx context.Context, ownerID, requesterID int64, dataHash string) (bool, error)

	RecordAnomaly(ctx context.Context, a *Anomaly) error
}
