package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
)

// Funder tops up test-network accounts from a designated funder account so a
// freshly started local chain stays usable. It has no role in production,
// where accounts are independently funded.
//
// All outgoing transfers are serialized through one lock with a locally
// tracked nonce; a detected nonce conflict triggers exactly one re-read of
// the pending nonce before resubmitting.
type Funder struct {
	client      *Client
	funderIndex int
	minBalance  *big.Int
	logger      zerolog.Logger

	mu        sync.Mutex
	nonce     uint64
	nonceInit bool
}

func NewFunder(client *Client, funderIndex int, minBalanceWei string, logger zerolog.Logger) (*Funder, error) {
	min, ok := new(big.Int).SetString(minBalanceWei, 10)
	if !ok || min.Sign() < 0 {
		return nil, fmt.Errorf("invalid minimum balance %q", minBalanceWei)
	}
	return &Funder{
		client:      client,
		funderIndex: funderIndex,
		minBalance:  min,
		logger:      logger,
	}, nil
}

// EnsureFunded checks the binding's balance and transfers a top-up from the
// funder account when it is below the threshold. Best-effort: a failure here
// degrades to the subsequent contract write failing with insufficient funds,
// which the caller handles as an ordinary oracle failure.
func (f *Funder) EnsureFunded(ctx context.Context, b Binding) error {
	cctx, cancel := f.client.callCtx(ctx)
	defer cancel()

	balance, err := f.client.eth.BalanceAt(cctx, b.Address, nil)
	if err != nil {
		return fmt.Errorf("%w: read balance of %s: %v", ErrUnavailable, b.Address.Hex(), err)
	}
	if balance.Cmp(f.minBalance) >= 0 {
		return nil
	}

	accounts, err := f.client.Accounts(ctx)
	if err != nil {
		return err
	}
	if f.funderIndex >= len(accounts) {
		return fmt.Errorf("%w: funder index %d exceeds pool of %d accounts", ErrNoAccount, f.funderIndex, len(accounts))
	}
	funder := accounts[f.funderIndex]
	if funder == b.Address {
		return nil
	}

	// Top up to twice the threshold so repeated small spends don't refund
	// on every call.
	amount := new(big.Int).Mul(f.minBalance, big.NewInt(2))

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.nonceInit {
		if err := f.reloadNonce(cctx, funder); err != nil {
			return err
		}
	}

	if err := f.sendTransfer(cctx, funder, b.Address, amount); err != nil {
		if !isNonceConflict(err) {
			return err
		}
		// Single retry after re-reading the authoritative nonce.
		if err := f.reloadNonce(cctx, funder); err != nil {
			return err
		}
		if err := f.sendTransfer(cctx, funder, b.Address, amount); err != nil {
			return err
		}
	}

	f.nonce++
	f.logger.Info().
		Str("funder", funder.Hex()).
		Str("account", b.Address.Hex()).
		Str("amount_wei", amount.String()).
		Int64("user_id", b.UserID).
		Msg("funded test account")
	return nil
}

func (f *Funder) reloadNonce(ctx context.Context, funder common.Address) error {
	nonce, err := f.client.eth.PendingNonceAt(ctx, funder)
	if err != nil {
		return fmt.Errorf("%w: read funder nonce: %v", ErrUnavailable, err)
	}
	f.nonce = nonce
	f.nonceInit = true
	return nil
}

func (f *Funder) sendTransfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	args := map[string]interface{}{
		"from":  from.Hex(),
		"to":    to.Hex(),
		"value": (*hexutil.Big)(amount),
		"nonce": hexutil.Uint64(f.nonce),
	}

	var txHash common.Hash
	if err := f.client.rpc.CallContext(ctx, &txHash, "eth_sendTransaction", args); err != nil {
		return fmt.Errorf("%w: funding transfer: %v", ErrUnavailable, err)
	}
	return nil
}

// isNonceConflict matches the error strings nodes use for a reused or stale
// nonce; there is no structured error code for this over JSON-RPC.
func isNonceConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "nonce too high") ||
		strings.Contains(msg, "replacement transaction") ||
		strings.Contains(msg, "already known")
}
