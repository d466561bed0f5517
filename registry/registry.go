// Package registry submits authority-approved username claims to the
// on-chain username registry.
package registry

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/0xfutbol/id/core"
	"github.com/0xfutbol/id/internal/eth"
	"github.com/0xfutbol/id/signer"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const registryABI = `[{
	"type": "function",
	"name": "registerUsername",
	"stateMutability": "nonpayable",
	"inputs": [
		{"name": "username", "type": "string"},
		{"name": "signature", "type": "bytes"},
		{"name": "signatureExpiration", "type": "uint256"}
	],
	"outputs": []
}]`

const methodRegister = "registerUsername"

var parsedABI = mustParseABI(registryABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("registry: invalid ABI: %v", err))
	}
	return parsed
}

// PackRegisterUsername encodes the registerUsername call.
func PackRegisterUsername(username string, signature []byte, signatureExpiration int64) ([]byte, error) {
	data, err := parsedABI.Pack(methodRegister, username, signature, big.NewInt(signatureExpiration))
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", methodRegister, err)
	}
	return data, nil
}

// RegisterUsername sends the authority's approval to contract from s. The
// signer must support sending transactions and must be the approved owner.
func RegisterUsername(ctx context.Context, s signer.Signer, contract common.Address, claim *core.ClaimSignature) (*signer.PendingTransaction, error) {
	if !core.SameAddress(s.Address().Hex(), claim.Owner) {
		return nil, fmt.Errorf("signer %s is not the approved owner: %w", s.Address().Hex(), core.ErrInvalidAddress)
	}
	sig, err := eth.DecodeSignature(claim.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidSignature, err)
	}
	data, err := PackRegisterUsername(claim.Username, sig, claim.SignatureExpiration)
	if err != nil {
		return nil, err
	}
	return signer.SendTransaction(ctx, s, signer.TxRequest{To: &contract, Data: data})
}
