package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalidUserID is returned when a user id cannot map to an account
// index.
var ErrInvalidUserID = errors.New("invalid user id")

// ErrNoAccount is returned when a user id falls outside the node's account
// pool.
var ErrNoAccount = errors.New("no ledger account for user")

// Binding associates an application user with a node-managed ledger account.
// Bindings are deterministic (index = userID - 1) and stable for the process
// lifetime; they are never persisted.
type Binding struct {
	UserID  int64
	Index   int
	Address common.Address
}

// AccountSource supplies the node-managed account pool. *Client satisfies
// it.
type AccountSource interface {
	Accounts(ctx context.Context) ([]common.Address, error)
}

// Resolver maps application user ids onto the node's account pool.
type Resolver struct {
	client AccountSource
}

func NewResolver(client AccountSource) *Resolver {
	return &Resolver{client: client}
}

// Resolve returns the binding for a user id. The same id always resolves to
// the same binding within a process lifetime: the account pool is fetched
// once and entries are immutable.
func (r *Resolver) Resolve(ctx context.Context, userID int64) (Binding, error) {
	if userID < 1 {
		return Binding{}, fmt.Errorf("%w: %d", ErrInvalidUserID, userID)
	}

	accounts, err := r.client.Accounts(ctx)
	if err != nil {
		return Binding{}, err
	}

	index := int(userID - 1)
	if index >= len(accounts) {
		return Binding{}, fmt.Errorf("%w: user %d exceeds pool of %d accounts", ErrNoAccount, userID, len(accounts))
	}

	return Binding{
		UserID:  userID,
		Index:   index,
		Address: accounts[index],
	}, nil
}
