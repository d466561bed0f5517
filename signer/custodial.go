package signer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/0xfutbol/id/waas"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// RemoteCustodialSigner signs through the WaaS backend, which owns the key,
// nonces, gas and broadcast. Nothing is signed locally.
//
// The backend only returns a transaction hash. Receipts are read from a
// chain provider set with WithReceipts; without one PendingTransaction.Wait
// fails with ErrUnsupportedOperation.
type RemoteCustodialSigner struct {
	walletID string
	address  common.Address
	chainID  int64
	client   *waas.Client

	receipts     Provider
	pollInterval time.Duration
}

// NewRemoteCustodialSigner wraps the wallet walletID. client must carry a
// WaaS session token for that wallet.
func NewRemoteCustodialSigner(client *waas.Client, walletID string, address common.Address, chainID int64) *RemoteCustodialSigner {
	return &RemoteCustodialSigner{
		walletID: walletID,
		address:  address,
		chainID:  chainID,
		client:   client,

		pollInterval: defaultPollInterval,
	}
}

// WithReceipts returns a copy that waits for transactions by polling
// provider every interval. Signing still goes through the backend.
func (s *RemoteCustodialSigner) WithReceipts(provider Provider, interval time.Duration) *RemoteCustodialSigner {
	cp := *s
	cp.receipts = provider
	if interval > 0 {
		cp.pollInterval = interval
	}
	return &cp
}

var (
	_ Signer            = (*RemoteCustodialSigner)(nil)
	_ TransactionSender = (*RemoteCustodialSigner)(nil)
)

func (s *RemoteCustodialSigner) Address() common.Address {
	return s.address
}

func (s *RemoteCustodialSigner) WalletID() string {
	return s.walletID
}

func (s *RemoteCustodialSigner) ChainID() int64 {
	return s.chainID
}

func (s *RemoteCustodialSigner) Supports(c Capability) bool {
	switch c {
	case CapSignMessage, CapSignTypedData, CapSendTransaction:
		return true
	default:
		return false
	}
}

// Connect is a no-op; the backend signs and broadcasts on its own chain
// connection. See WithReceipts for waiting on transactions.
func (s *RemoteCustodialSigner) Connect(Provider) Signer {
	return s
}

func (s *RemoteCustodialSigner) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	sig, err := s.client.SignMessage(ctx, s.walletID, message)
	if err != nil {
		return nil, remoteErr(err)
	}
	return sig, nil
}

func (s *RemoteCustodialSigner) SignTypedData(ctx context.Context, typedData apitypes.TypedData) ([]byte, error) {
	sig, err := s.client.SignTypedData(ctx, s.walletID, typedData)
	if err != nil {
		return nil, remoteErr(err)
	}
	return sig, nil
}

// SendTransaction maps calldata to a contract call and a bare value to a
// native transfer. The returned transaction can be waited on only when a
// receipt provider is set.
func (s *RemoteCustodialSigner) SendTransaction(ctx context.Context, tx TxRequest) (*PendingTransaction, error) {
	if tx.To == nil {
		return nil, fmt.Errorf("contract creation: %w", ErrUnsupportedOperation)
	}
	var (
		res *waas.TxResult
		err error
	)
	if len(tx.Data) > 0 {
		res, err = s.client.CallContract(ctx, s.walletID, waas.ContractCall{
			To:      *tx.To,
			Data:    tx.Data,
			Value:   waas.WeiToEther(tx.Value),
			ChainID: s.chainID,
		})
	} else {
		res, err = s.client.TransferNative(ctx, s.walletID, waas.Transfer{
			To:      *tx.To,
			Amount:  waas.WeiToEther(tx.Value),
			ChainID: s.chainID,
		})
	}
	if err != nil {
		return nil, remoteErr(err)
	}
	pending := &PendingTransaction{Hash: res.Hash}
	if s.receipts != nil {
		pending.wait = s.waitReceipt
	}
	return pending, nil
}

func (s *RemoteCustodialSigner) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return pollReceipt(ctx, s.receipts, hash, s.pollInterval)
}

// remoteErr keeps RemoteError and ErrUnavailable matchable and tags the rest.
func remoteErr(err error) error {
	var remote *waas.RemoteError
	if errors.As(err, &remote) || errors.Is(err, waas.ErrUnavailable) {
		return err
	}
	return fmt.Errorf("custodial signer: %w", err)
}
