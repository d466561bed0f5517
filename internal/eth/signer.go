package eth

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Signer produces recoverable secp256k1 signatures over 32-byte hashes.
type Signer interface {
	Address() common.Address
	SignHash(hash []byte) ([]byte, error)
}

// KeySigner signs with an in-process private key.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeySigner wraps key.
func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// NewKeySignerFromHex parses a hex private key, with or without 0x prefix.
func NewKeySignerFromHex(hexKey string) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return NewKeySigner(key), nil
}

// GenerateKeySigner creates a signer with a fresh random key.
func GenerateKeySigner() (*KeySigner, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return NewKeySigner(key), nil
}

func (s *KeySigner) Address() common.Address {
	return s.address
}

// SignHash returns r || s || v with v in {27, 28}.
func (s *KeySigner) SignHash(hash []byte) ([]byte, error) {
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign hash: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// SignPersonal signs message with the EIP-191 prefix.
func SignPersonal(s Signer, message string) ([]byte, error) {
	return s.SignHash(PersonalHash([]byte(message)))
}

// SignTypedData signs the EIP-712 hash of td.
func SignTypedData(s Signer, td apitypes.TypedData) ([]byte, error) {
	hash, err := TypedDataHash(td)
	if err != nil {
		return nil, err
	}
	return s.SignHash(hash)
}
