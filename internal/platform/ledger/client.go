// Package ledger talks to the consent contract on an Ethereum node. The node
// holds the account keys (a local development chain in non-production
// deployments), so writes are submitted with eth_sendTransaction and signed
// node-side; the package never handles private keys itself.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
)

// ErrUnavailable wraps any node or contract failure. Callers treat it as
// potentially retryable after backoff.
var ErrUnavailable = errors.New("ledger unavailable")

// ErrNotDeployed is returned when no contract code exists at the configured
// address.
var ErrNotDeployed = errors.New("consent contract not deployed")

// contractABI covers the three methods the application consumes. The
// contract exposes no revoke primitive; consent withdrawal is therefore an
// off-chain-only signal.
const contractABI = `[
	{"name":"storeData","type":"function","stateMutability":"nonpayable","inputs":[{"name":"dataHash","type":"bytes32"}],"outputs":[]},
	{"name":"grantConsent","type":"function","stateMutability":"nonpayable","inputs":[{"name":"dataHash","type":"bytes32"},{"name":"requester","type":"address"}],"outputs":[]},
	{"name":"checkConsent","type":"function","stateMutability":"view","inputs":[{"name":"dataHash","type":"bytes32"},{"name":"requester","type":"address"}],"outputs":[{"name":"","type":"bool"}]}
]`

const writeGasLimit = 500000

// Config holds the connection parameters for the ledger client.
type Config struct {
	RPCURL          string
	ContractAddress string
	Timeout         time.Duration
}

// Client is the ledger oracle: it registers record hashes, mints consent
// grants, and answers read-only consent checks against the deployed
// contract.
type Client struct {
	rpc      *rpc.Client
	eth      *ethclient.Client
	contract common.Address
	abi      abi.ABI
	timeout  time.Duration
	logger   zerolog.Logger

	deployOnce sync.Once
	deployErr  error

	accountsOnce sync.Once
	accounts     []common.Address
	accountsErr  error
}

// Dial connects to the node and parses the contract ABI. Contract deployment
// is verified lazily on first use so a temporarily unreachable node does not
// prevent process start.
func Dial(ctx context.Context, cfg Config, logger zerolog.Logger) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}

	rpcClient, err := rpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger node %s: %w", cfg.RPCURL, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		rpc:      rpcClient,
		eth:      ethclient.NewClient(rpcClient),
		contract: common.HexToAddress(cfg.ContractAddress),
		abi:      parsed,
		timeout:  timeout,
		logger:   logger,
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// HashPayload returns the 32-byte contract-side fingerprint of a record
// payload.
func HashPayload(payload string) common.Hash {
	return crypto.Keccak256Hash([]byte(payload))
}

func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// ensureDeployed verifies once per process that contract code exists at the
// configured address.
func (c *Client) ensureDeployed(ctx context.Context) error {
	c.deployOnce.Do(func() {
		code, err := c.eth.CodeAt(ctx, c.contract, nil)
		if err != nil {
			c.deployErr = fmt.Errorf("%w: fetch contract code: %v", ErrUnavailable, err)
			// Leave the Once consumed; a transient node error here is
			// surfaced on every call until restart, which is loud on
			// purpose: nothing works without the contract.
			return
		}
		if len(code) == 0 {
			c.deployErr = fmt.Errorf("%w at %s", ErrNotDeployed, c.contract.Hex())
			return
		}
		c.logger.Info().Str("contract", c.contract.Hex()).Msg("consent contract verified")
	})
	return c.deployErr
}

// Accounts returns the node-managed account pool, fetched once per process.
func (c *Client) Accounts(ctx context.Context) ([]common.Address, error) {
	c.accountsOnce.Do(func() {
		cctx, cancel := c.callCtx(ctx)
		defer cancel()

		var accounts []common.Address
		if err := c.rpc.CallContext(cctx, &accounts, "eth_accounts"); err != nil {
			c.accountsErr = fmt.Errorf("%w: list accounts: %v", ErrUnavailable, err)
			return
		}
		if len(accounts) == 0 {
			c.accountsErr = fmt.Errorf("%w: node manages no accounts", ErrUnavailable)
			return
		}
		c.accounts = accounts
		c.logger.Info().Int("count", len(accounts)).Msg("ledger account pool loaded")
	})
	return c.accounts, c.accountsErr
}

// RegisterHash records a data hash on the ledger as the signer and returns
// the transaction hash.
func (c *Client) RegisterHash(ctx context.Context, signer Binding, dataHash common.Hash) (string, error) {
	input, err := c.abi.Pack("storeData", dataHash)
	if err != nil {
		return "", fmt.Errorf("pack storeData: %w", err)
	}
	return c.transact(ctx, signer.Address, input)
}

// GrantConsent mints an on-chain consent grant from the signer (the data
// owner) to the grantee and returns the transaction hash. The contract
// reverts unless the signer owns the hash.
func (c *Client) GrantConsent(ctx context.Context, signer Binding, dataHash common.Hash, grantee common.Address) (string, error) {
	input, err := c.abi.Pack("grantConsent", dataHash, grantee)
	if err != nil {
		return "", fmt.Errorf("pack grantConsent: %w", err)
	}
	return c.transact(ctx, signer.Address, input)
}

// HasConsent answers the read-only consent check.
func (c *Client) HasConsent(ctx context.Context, dataHash common.Hash, grantee common.Address) (bool, error) {
	if err := c.ensureDeployed(ctx); err != nil {
		return false, err
	}

	input, err := c.abi.Pack("checkConsent", dataHash, grantee)
	if err != nil {
		return false, fmt.Errorf("pack checkConsent: %w", err)
	}

	cctx, cancel := c.callCtx(ctx)
	defer cancel()

	out, err := c.eth.CallContract(cctx, ethereum.CallMsg{To: &c.contract, Data: input}, nil)
	if err != nil {
		return false, fmt.Errorf("%w: checkConsent call: %v", ErrUnavailable, err)
	}

	results, err := c.abi.Unpack("checkConsent", out)
	if err != nil {
		return false, fmt.Errorf("%w: unpack checkConsent result: %v", ErrUnavailable, err)
	}
	granted, ok := results[0].(bool)
	if !ok {
		return false, fmt.Errorf("%w: unexpected checkConsent result type", ErrUnavailable)
	}
	return granted, nil
}

// transact submits a node-signed contract write and waits for its receipt.
func (c *Client) transact(ctx context.Context, from common.Address, input []byte) (string, error) {
	if err := c.ensureDeployed(ctx); err != nil {
		return "", err
	}

	cctx, cancel := c.callCtx(ctx)
	defer cancel()

	args := map[string]interface{}{
		"from": from.Hex(),
		"to":   c.contract.Hex(),
		"data": hexutil.Encode(input),
		"gas":  hexutil.Uint64(writeGasLimit),
	}

	var txHash common.Hash
	if err := c.rpc.CallContext(cctx, &txHash, "eth_sendTransaction", args); err != nil {
		return "", fmt.Errorf("%w: send transaction: %v", ErrUnavailable, err)
	}

	receipt, err := c.waitMined(cctx, txHash)
	if err != nil {
		return "", err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("%w: transaction %s reverted", ErrUnavailable, txHash.Hex())
	}
	return txHash.Hex(), nil
}

// waitMined polls for the transaction receipt until the context deadline.
func (c *Client) waitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("%w: fetch receipt for %s: %v", ErrUnavailable, txHash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: transaction %s not mined before deadline", ErrUnavailable, txHash.Hex())
		case <-ticker.C:
		}
	}
}
