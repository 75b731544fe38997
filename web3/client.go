// Package web3 submits claims to the value-registry contract and follows
// their transactions until they are confirmed.
package web3

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
	"github.com/vocdoni/davinci-publisher/log"
)

var (
	// ErrSubmissionFailed means the transaction was never accepted by the
	// node. Nothing reached the chain and the submission can be retried.
	ErrSubmissionFailed = errors.New("transaction submission failed")
	// ErrConfirmationTimeout means the transaction was accepted but no
	// receipt arrived before the deadline. The outcome is unknown.
	ErrConfirmationTimeout = errors.New("transaction confirmation timeout")
	// ErrSubmittedButUnconfirmed means a signed transaction may have reached
	// the node, either because its send got no reply or because the wait for
	// its receipt stopped for a reason other than the deadline. The outcome is
	// unknown.
	ErrSubmittedButUnconfirmed = errors.New("transaction submitted but unconfirmed")
	// ErrTxReverted means the transaction was included with a failed status.
	ErrTxReverted = errors.New("transaction reverted")
	// ErrCallReverted is returned when a call or gas estimation reverts.
	ErrCallReverted = errors.New("call reverted")
)

// RegistryABI is the interface of the contract holding the published value.
// set stores x once the router verifies seal against abi.encode(x).
const RegistryABI = `[
	{"type":"function","name":"set","stateMutability":"nonpayable",
	 "inputs":[{"name":"x","type":"uint256"},{"name":"seal","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"get","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"error","name":"VerificationFailed","inputs":[]},
	{"type":"error","name":"SelectorUnknown","inputs":[{"name":"selector","type":"bytes4"}]}
]`

var registryABI abi.ABI

func init() {
	var err error
	if registryABI, err = abi.JSON(strings.NewReader(RegistryABI)); err != nil {
		panic(fmt.Sprintf("web3: invalid registry abi: %v", err))
	}
}

const (
	// DefaultPollInterval is the default time between receipt queries.
	DefaultPollInterval = time.Second
	// web3QueryTimeout bounds single RPC queries issued outside a caller
	// deadline.
	web3QueryTimeout = 10 * time.Second
)

// Backend is the subset of the Ethereum JSON-RPC API used by the client.
// *ethclient.Client implements it.
type Backend interface {
	ethereum.ChainIDReader
	ethereum.BlockNumberReader
	HeaderByNumber(ctx context.Context, number *big.Int) (*gtypes.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *gtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gtypes.Receipt, error)
}

// Config holds the client settings.
type Config struct {
	// ChainID must match the chain served by the backend.
	ChainID uint64
	// Contract is the address of the value registry.
	Contract common.Address
	// Confirmations is the number of blocks, including the inclusion block,
	// required before a receipt is reported. Zero means one.
	Confirmations uint64
	// PollInterval is the time between receipt queries.
	PollInterval time.Duration
	// Gas tunes gas estimation.
	Gas GasEstimateOpts
}

// Client sends transactions to the value registry with a single account.
type Client struct {
	backend       Backend
	signer        *Signer
	address       common.Address
	chainID       *big.Int
	contract      common.Address
	confirmations uint64
	pollInterval  time.Duration
	gasOpts       GasEstimateOpts
	closeFn       func()
}

// New returns a client on top of backend. The chain id reported by the
// backend must match cfg.ChainID.
func New(ctx context.Context, backend Backend, signer *Signer, cfg Config) (*Client, error) {
	if backend == nil {
		return nil, fmt.Errorf("no web3 backend")
	}
	if signer == nil {
		return nil, fmt.Errorf("no signer defined")
	}
	if cfg.Contract == (common.Address{}) {
		return nil, fmt.Errorf("no contract address")
	}
	qctx, cancel := context.WithTimeout(ctx, web3QueryTimeout)
	defer cancel()
	chainID, err := backend.ChainID(qctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	if cfg.ChainID != 0 && chainID.Uint64() != cfg.ChainID {
		return nil, fmt.Errorf("chain id mismatch: configured %d, endpoint reports %d", cfg.ChainID, chainID.Uint64())
	}
	if cfg.Confirmations == 0 {
		cfg.Confirmations = 1
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Client{
		backend:       backend,
		signer:        signer,
		address:       signer.Address(),
		chainID:       chainID,
		contract:      cfg.Contract,
		confirmations: cfg.Confirmations,
		pollInterval:  cfg.PollInterval,
		gasOpts:       cfg.Gas.withDefaults(),
	}, nil
}

// Dial connects to rpcURL and returns a client using it. Close releases the
// connection.
func Dial(ctx context.Context, rpcURL string, signer *Signer, cfg Config) (*Client, error) {
	cli, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", rpcURL, err)
	}
	c, err := New(ctx, cli, signer, cfg)
	if err != nil {
		cli.Close()
		return nil, err
	}
	c.closeFn = cli.Close
	log.Infow("web3 client initialized",
		"chainID", c.chainID.Uint64(),
		"contract", c.contract.Hex(),
		"account", c.address.Hex(),
		"confirmations", c.confirmations)
	return c, nil
}

// Close releases the underlying connection, if the client owns one.
func (c *Client) Close() {
	if c.closeFn != nil {
		c.closeFn()
	}
}

// AccountAddress returns the address of the account used to sign
// transactions.
func (c *Client) AccountAddress() common.Address {
	return c.address
}

// ChainID returns the chain id of the backend.
func (c *Client) ChainID() uint64 {
	return c.chainID.Uint64()
}

// Update submits set(value, seal) to the registry and returns the hash of the
// accepted transaction. It returns once the node accepts the transaction; use
// AwaitReceipt to follow it. Errors wrap ErrSubmissionFailed when nothing
// reached the node. A send that failed without a reply from the node returns
// the signed transaction hash and an error wrapping ErrSubmittedButUnconfirmed.
func (c *Client) Update(ctx context.Context, value *uint256.Int, seal []byte) (common.Hash, error) {
	if value == nil {
		return common.Hash{}, fmt.Errorf("%w: nil value", ErrSubmissionFailed)
	}
	data, err := registryABI.Pack("set", value.ToBig(), seal)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: pack set: %w", ErrSubmissionFailed, err)
	}
	to := c.contract
	gas, err := c.estimateGas(ctx, ethereum.CallMsg{From: c.address, To: &to, Data: data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: estimate gas: %w", ErrSubmissionFailed, err)
	}
	hash, err := c.sendWithReplacement(ctx, func(nonce uint64, fees FeeCaps) (*gtypes.Transaction, error) {
		tx, err := c.sign(&gtypes.DynamicFeeTx{
			ChainID:   c.chainID,
			Nonce:     nonce,
			GasTipCap: fees.TipCap,
			GasFeeCap: fees.FeeCap,
			Gas:       gas,
			To:        &to,
			Value:     big.NewInt(0),
			Data:      data,
		})
		if err != nil {
			return nil, err
		}
		return tx, c.backend.SendTransaction(ctx, tx)
	})
	if errors.Is(err, ErrSubmittedButUnconfirmed) {
		return hash, err
	}
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
	}
	return hash, nil
}

// Value returns the value currently stored in the registry.
func (c *Client) Value(ctx context.Context) (*uint256.Int, error) {
	data, err := registryABI.Pack("get")
	if err != nil {
		return nil, fmt.Errorf("pack get: %w", err)
	}
	to := c.contract
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: c.address, To: &to, Data: data}, nil)
	if err != nil {
		if isReverted(err) {
			return nil, fmt.Errorf("%w: %s", ErrCallReverted, decodeRevert(err))
		}
		return nil, fmt.Errorf("call get: %w", err)
	}
	values, err := registryABI.Unpack("get", out)
	if err != nil {
		return nil, fmt.Errorf("unpack get: %w", err)
	}
	bi, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected get result %T", values[0])
	}
	v, overflow := uint256.FromBig(bi)
	if overflow {
		return nil, fmt.Errorf("get result overflows uint256")
	}
	return v, nil
}

func (c *Client) sign(inner *gtypes.DynamicFeeTx) (*gtypes.Transaction, error) {
	return gtypes.SignNewTx((*ecdsa.PrivateKey)(c.signer), gtypes.LatestSignerForChainID(c.chainID), inner)
}

// decodeRevert returns a readable revert reason from an RPC error, resolving
// Error(string) payloads and the registry custom errors.
func decodeRevert(err error) string {
	var de rpc.DataError
	if !errors.As(err, &de) {
		return err.Error()
	}
	hexData, ok := de.ErrorData().(string)
	if !ok {
		return err.Error()
	}
	data, derr := hexutil.Decode(hexData)
	if derr != nil || len(data) < 4 {
		return err.Error()
	}
	if reason, uerr := abi.UnpackRevert(data); uerr == nil {
		return reason
	}
	for _, e := range registryABI.Errors {
		if string(e.ID[:4]) != string(data[:4]) {
			continue
		}
		args, uerr := e.Inputs.Unpack(data[4:])
		if uerr != nil || len(args) == 0 {
			return e.Name
		}
		return fmt.Sprintf("%s%v", e.Name, args)
	}
	return fmt.Sprintf("unknown error selector %s", hexutil.Encode(data[:4]))
}

// Signer is an ECDSA private key able to sign Ethereum transactions.
type Signer ecdsa.PrivateKey

// Address returns the Ethereum address derived from the public key of the
// signer.
func (s *Signer) Address() common.Address {
	return ethcrypto.PubkeyToAddress(s.PublicKey)
}

// NewSigner creates a new random key.
func NewSigner() (*Signer, error) {
	s, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("could not generate key: %w", err)
	}
	return (*Signer)(s), nil
}

// NewSignerFromHex parses a hex-encoded private key, with or without 0x
// prefix.
func NewSignerFromHex(hexKey string) (*Signer, error) {
	s, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return (*Signer)(s), nil
}
