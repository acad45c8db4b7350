package consent

import (
	"time"

	"github.com/google/uuid"
)

// Status of a consent request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusDeclined  Status = "declined"
	StatusCancelled Status = "cancelled"
	StatusWithdrawn Status = "withdrawn"
)

// Terminal reports whether no further transition leaves this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusDeclined, StatusCancelled, StatusWithdrawn:
		return true
	}
	return false
}

// Request is one consent request from a researcher to a record owner. Rows
// are never deleted; every lifecycle step is a status transition.
type Request struct {
	ID          uuid.UUID  `json:"id"`
	RequesterID int64      `json:"requesterId"`
	OwnerID     int64      `json:"ownerId"`
	DataHash    string     `json:"dataHash"`
	Status      Status     `json:"status"`
	RequestedAt time.Time  `json:"requestedAt"`
	GrantedAt   *time.Time `json:"grantedAt,omitempty"`
}

// transitionRule describes the single legal way to reach a target status:
// the status the row must currently hold and which party may move it.
type transitionRule struct {
	from       Status
	ownerActed bool // false: the requester acts
}

var transitionRules = map[Status]transitionRule{
	StatusApproved:  {from: StatusPending, ownerActed: true},
	StatusDeclined:  {from: StatusPending, ownerActed: true},
	StatusCancelled: {from: StatusPending, ownerActed: false},
	StatusWithdrawn: {from: StatusApproved, ownerActed: true},
}

// Anomaly records a divergence between the chain and the store: the grant
// transaction succeeded but the approve transition did not commit.
type Anomaly struct {
	ID        uuid.UUID `json:"id"`
	RequestID uuid.UUID `json:"requestId"`
	TxnRef    string    `json:"txnRef"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"createdAt"`
}
