package signer

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/0xfutbol/id/internal/eth"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const defaultPollInterval = 2 * time.Second

// LocalWallet is a wallet reached through a JSON-RPC provider. It either
// holds its key in process, or leaves the key with the provider (a node or
// wallet exposing personal_sign and eth_sendTransaction).
type LocalWallet struct {
	address      common.Address
	key          eth.Signer
	provider     Provider
	pollInterval time.Duration
}

// NewLocalWallet signs with key. Transactions need a provider, see Connect.
func NewLocalWallet(key *ecdsa.PrivateKey) *LocalWallet {
	ks := eth.NewKeySigner(key)
	return &LocalWallet{address: ks.Address(), key: ks, pollInterval: defaultPollInterval}
}

// NewRPCWallet delegates every operation for address to provider.
func NewRPCWallet(provider Provider, address common.Address) *LocalWallet {
	return &LocalWallet{address: address, provider: provider, pollInterval: defaultPollInterval}
}

// Dial connects to a JSON-RPC endpoint usable as a Provider.
func Dial(ctx context.Context, rawURL string) (*rpc.Client, error) {
	c, err := rpc.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rawURL, err)
	}
	return c, nil
}

var (
	_ Signer            = (*LocalWallet)(nil)
	_ TransactionSender = (*LocalWallet)(nil)
	_ ChainReader       = (*LocalWallet)(nil)
)

func (w *LocalWallet) Address() common.Address {
	return w.address
}

func (w *LocalWallet) Supports(c Capability) bool {
	switch c {
	case CapSignMessage, CapSignTypedData:
		return true
	case CapSendTransaction, CapReadChain:
		return w.provider != nil
	default:
		return false
	}
}

// Connect returns a new wallet bound to provider. The receiver is unchanged.
func (w *LocalWallet) Connect(provider Provider) Signer {
	cp := *w
	cp.provider = provider
	return &cp
}

// WithPollInterval returns a copy polling receipts every d.
func (w *LocalWallet) WithPollInterval(d time.Duration) *LocalWallet {
	cp := *w
	cp.pollInterval = d
	return &cp
}

func (w *LocalWallet) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	if w.key != nil {
		return w.key.SignHash(eth.PersonalHash(message))
	}
	var sig hexutil.Bytes
	if err := w.provider.CallContext(ctx, &sig, "personal_sign", hexutil.Encode(message), w.address); err != nil {
		return nil, fmt.Errorf("personal_sign failed: %w", err)
	}
	return checkSignature(sig)
}

func (w *LocalWallet) SignTypedData(ctx context.Context, typedData apitypes.TypedData) ([]byte, error) {
	if w.key != nil {
		return eth.SignTypedData(w.key, typedData)
	}
	payload, err := json.Marshal(typedData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal typed data: %w", err)
	}
	var sig hexutil.Bytes
	if err := w.provider.CallContext(ctx, &sig, "eth_signTypedData_v4", w.address, string(payload)); err != nil {
		return nil, fmt.Errorf("eth_signTypedData_v4 failed: %w", err)
	}
	return checkSignature(sig)
}

func (w *LocalWallet) SendTransaction(ctx context.Context, tx TxRequest) (*PendingTransaction, error) {
	if w.provider == nil {
		return nil, ErrUnsupportedOperation
	}
	var (
		hash common.Hash
		err  error
	)
	if w.key != nil {
		hash, err = w.sendSigned(ctx, tx)
	} else {
		err = w.provider.CallContext(ctx, &hash, "eth_sendTransaction", w.callArgs(tx))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}
	return &PendingTransaction{Hash: hash, wait: w.waitReceipt}, nil
}

// sendSigned fills nonce, gas and chain id from the provider and broadcasts
// a locally signed legacy transaction.
func (w *LocalWallet) sendSigned(ctx context.Context, req TxRequest) (common.Hash, error) {
	var nonce hexutil.Uint64
	if err := w.provider.CallContext(ctx, &nonce, "eth_getTransactionCount", w.address, "pending"); err != nil {
		return common.Hash{}, fmt.Errorf("eth_getTransactionCount failed: %w", err)
	}
	var chainID hexutil.Big
	if err := w.provider.CallContext(ctx, &chainID, "eth_chainId"); err != nil {
		return common.Hash{}, fmt.Errorf("eth_chainId failed: %w", err)
	}
	gasPrice, err := w.GasPrice(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	gas := req.Gas
	if gas == 0 {
		if gas, err = w.EstimateGas(ctx, req); err != nil {
			return common.Hash{}, err
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    uint64(nonce),
		GasPrice: gasPrice,
		Gas:      gas,
		To:       req.To,
		Value:    valueOrZero(req.Value),
		Data:     req.Data,
	})
	txSigner := types.LatestSignerForChainID(chainID.ToInt())
	sig, err := w.key.SignHash(txSigner.Hash(tx).Bytes())
	if err != nil {
		return common.Hash{}, err
	}
	sig[64] -= 27
	signed, err := tx.WithSignature(txSigner, sig)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to attach signature: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode transaction: %w", err)
	}

	var hash common.Hash
	if err := w.provider.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Encode(raw)); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

func (w *LocalWallet) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return pollReceipt(ctx, w.provider, hash, w.pollInterval)
}

// pollReceipt asks provider for the receipt of hash every interval until it
// is mined or ctx is done.
func pollReceipt(ctx context.Context, provider Provider, hash common.Hash, interval time.Duration) (*types.Receipt, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		var receipt *types.Receipt
		if err := provider.CallContext(ctx, &receipt, "eth_getTransactionReceipt", hash); err != nil {
			return nil, fmt.Errorf("eth_getTransactionReceipt failed: %w", err)
		}
		if receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *LocalWallet) GasPrice(ctx context.Context) (*big.Int, error) {
	if w.provider == nil {
		return nil, ErrUnsupportedOperation
	}
	var price hexutil.Big
	if err := w.provider.CallContext(ctx, &price, "eth_gasPrice"); err != nil {
		return nil, fmt.Errorf("eth_gasPrice failed: %w", err)
	}
	return price.ToInt(), nil
}

func (w *LocalWallet) EstimateGas(ctx context.Context, tx TxRequest) (uint64, error) {
	if w.provider == nil {
		return 0, ErrUnsupportedOperation
	}
	var gas hexutil.Uint64
	if err := w.provider.CallContext(ctx, &gas, "eth_estimateGas", w.callArgs(tx)); err != nil {
		return 0, fmt.Errorf("eth_estimateGas failed: %w", err)
	}
	return uint64(gas), nil
}

func (w *LocalWallet) Balance(ctx context.Context) (*big.Int, error) {
	if w.provider == nil {
		return nil, ErrUnsupportedOperation
	}
	var bal hexutil.Big
	if err := w.provider.CallContext(ctx, &bal, "eth_getBalance", w.address, "latest"); err != nil {
		return nil, fmt.Errorf("eth_getBalance failed: %w", err)
	}
	return bal.ToInt(), nil
}

func (w *LocalWallet) callArgs(tx TxRequest) map[string]any {
	args := map[string]any{
		"from":  w.address,
		"value": (*hexutil.Big)(valueOrZero(tx.Value)),
	}
	if tx.To != nil {
		args["to"] = tx.To
	}
	if len(tx.Data) > 0 {
		args["data"] = hexutil.Bytes(tx.Data)
	}
	if tx.Gas > 0 {
		args["gas"] = hexutil.Uint64(tx.Gas)
	}
	return args
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func checkSignature(sig []byte) ([]byte, error) {
	if len(sig) != eth.SignatureLength {
		return nil, fmt.Errorf("provider returned %d-byte signature: %w", len(sig), eth.ErrInvalidSignatureLen)
	}
	return sig, nil
}
