package signer

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EmbeddedAccount is a social-login wallet hosted by an embedded provider.
// It may still be initializing when the signer is built.
type EmbeddedAccount interface {
	Address() common.Address
	Ready() bool
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
	SignTypedData(ctx context.Context, typedData apitypes.TypedData) ([]byte, error)
}

// EmbeddedSocialSigner adapts an EmbeddedAccount. Transactions are only
// offered when enabled and the account can send them.
type EmbeddedSocialSigner struct {
	account      EmbeddedAccount
	transactions bool
}

func NewEmbeddedSocialSigner(account EmbeddedAccount, allowTransactions bool) *EmbeddedSocialSigner {
	return &EmbeddedSocialSigner{account: account, transactions: allowTransactions}
}

var (
	_ Signer            = (*EmbeddedSocialSigner)(nil)
	_ TransactionSender = (*EmbeddedSocialSigner)(nil)
)

func (s *EmbeddedSocialSigner) Address() common.Address {
	return s.account.Address()
}

func (s *EmbeddedSocialSigner) Supports(c Capability) bool {
	switch c {
	case CapSignMessage, CapSignTypedData:
		return true
	case CapSendTransaction:
		_, ok := s.account.(TransactionSender)
		return s.transactions && ok
	default:
		return false
	}
}

// Connect is a no-op; the embedded provider owns its transport.
func (s *EmbeddedSocialSigner) Connect(Provider) Signer {
	return s
}

func (s *EmbeddedSocialSigner) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	if !s.account.Ready() {
		return nil, ErrSigningUnavailable
	}
	return s.account.SignMessage(ctx, message)
}

func (s *EmbeddedSocialSigner) SignTypedData(ctx context.Context, typedData apitypes.TypedData) ([]byte, error) {
	if !s.account.Ready() {
		return nil, ErrSigningUnavailable
	}
	return s.account.SignTypedData(ctx, typedData)
}

func (s *EmbeddedSocialSigner) SendTransaction(ctx context.Context, tx TxRequest) (*PendingTransaction, error) {
	if !s.Supports(CapSendTransaction) {
		return nil, ErrUnsupportedOperation
	}
	if !s.account.Ready() {
		return nil, ErrSigningUnavailable
	}
	return s.account.(TransactionSender).SendTransaction(ctx, tx)
}
