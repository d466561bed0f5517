// Package signer abstracts the wallets a user can authenticate with. Callers
// negotiate capabilities with Supports instead of assuming every backend can
// sign and broadcast raw transactions.
package signer

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

var (
	// ErrUnsupportedOperation reports a capability the signer does not have.
	ErrUnsupportedOperation = errors.New("operation not supported by signer")

	// ErrSigningUnavailable reports a backend that cannot sign right now,
	// such as an embedded wallet still initializing.
	ErrSigningUnavailable = errors.New("signing unavailable")
)

type Capability int

const (
	CapSignMessage Capability = iota
	CapSignTypedData
	CapSendTransaction
	CapReadChain
)

func (c Capability) String() string {
	switch c {
	case CapSignMessage:
		return "sign-message"
	case CapSignTypedData:
		return "sign-typed-data"
	case CapSendTransaction:
		return "send-transaction"
	case CapReadChain:
		return "read-chain"
	default:
		return "unknown"
	}
}

// Provider is a JSON-RPC endpoint. *rpc.Client satisfies it.
type Provider interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

// Signer is the capability every wallet backend offers.
type Signer interface {
	// Address never fails once the signer is constructed.
	Address() common.Address
	// SignMessage returns a 65-byte EIP-191 personal-sign signature.
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
	// SignTypedData returns a 65-byte EIP-712 signature.
	SignTypedData(ctx context.Context, typedData apitypes.TypedData) ([]byte, error)
	Supports(c Capability) bool
	// Connect binds the signer to provider. Signers that do not route
	// through a local provider return themselves.
	Connect(provider Provider) Signer
}

// TxRequest describes a transaction to submit. Gas and nonce are left to the
// backend when zero.
type TxRequest struct {
	To    *common.Address
	Value *big.Int
	Data  []byte
	Gas   uint64
}

// TransactionSender is implemented by signers that can submit transactions.
type TransactionSender interface {
	SendTransaction(ctx context.Context, tx TxRequest) (*PendingTransaction, error)
}

// ChainReader is implemented by signers backed by a JSON-RPC provider.
type ChainReader interface {
	GasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, tx TxRequest) (uint64, error)
	Balance(ctx context.Context) (*big.Int, error)
}

// PendingTransaction is a submitted transaction.
type PendingTransaction struct {
	Hash common.Hash
	wait func(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Wait blocks until the transaction is mined or ctx is done.
func (p *PendingTransaction) Wait(ctx context.Context) (*types.Receipt, error) {
	if p.wait == nil {
		return nil, ErrUnsupportedOperation
	}
	return p.wait(ctx, p.Hash)
}

func SendTransaction(ctx context.Context, s Signer, tx TxRequest) (*PendingTransaction, error) {
	sender, ok := s.(TransactionSender)
	if !ok || !s.Supports(CapSendTransaction) {
		return nil, ErrUnsupportedOperation
	}
	return sender.SendTransaction(ctx, tx)
}

func GasPrice(ctx context.Context, s Signer) (*big.Int, error) {
	r, err := chainReader(s)
	if err != nil {
		return nil, err
	}
	return r.GasPrice(ctx)
}

func EstimateGas(ctx context.Context, s Signer, tx TxRequest) (uint64, error) {
	r, err := chainReader(s)
	if err != nil {
		return 0, err
	}
	return r.EstimateGas(ctx, tx)
}

func Balance(ctx context.Context, s Signer) (*big.Int, error) {
	r, err := chainReader(s)
	if err != nil {
		return nil, err
	}
	return r.Balance(ctx)
}

func chainReader(s Signer) (ChainReader, error) {
	r, ok := s.(ChainReader)
	if !ok || !s.Supports(CapReadChain) {
		return nil, ErrUnsupportedOperation
	}
	return r, nil
}
