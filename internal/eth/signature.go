package eth

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// SignatureLength is the size of an r || s || v signature.
const SignatureLength = crypto.SignatureLength

var (
	ErrInvalidSignatureLen = errors.New("signature must be 65 bytes")
	ErrInvalidRecoveryID   = errors.New("invalid signature recovery id")
)

// DecodeSignature parses a 0x-prefixed hex signature.
func DecodeSignature(sig string) ([]byte, error) {
	b, err := hexutil.Decode(sig)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signature: %w", err)
	}
	if len(b) != SignatureLength {
		return nil, ErrInvalidSignatureLen
	}
	return b, nil
}

// EncodeSignature formats a signature as 0x-prefixed hex.
func EncodeSignature(sig []byte) string {
	return hexutil.Encode(sig)
}

// PersonalHash is the EIP-191 hash of a personal_sign message.
func PersonalHash(message []byte) []byte {
	return accounts.TextHash(message)
}

// RecoverAddress returns the signer of hash. Wallet-style v values (27/28)
// are accepted alongside raw 0/1.
func RecoverAddress(hash, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, ErrInvalidSignatureLen
	}
	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	if normalized[64] > 1 {
		return common.Address{}, ErrInvalidRecoveryID
	}
	pub, err := crypto.SigToPub(hash, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// RecoverPersonal returns the address that personal-signed message.
func RecoverPersonal(message string, sig []byte) (common.Address, error) {
	return RecoverAddress(PersonalHash([]byte(message)), sig)
}

// RecoverTypedData returns the address that signed td.
func RecoverTypedData(td apitypes.TypedData, sig []byte) (common.Address, error) {
	hash, err := TypedDataHash(td)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(hash, sig)
}

// VerifySignatureAgainstAddress reports whether sig over td was produced by expected.
func VerifySignatureAgainstAddress(td apitypes.TypedData, sig []byte, expected common.Address) (bool, error) {
	recovered, err := RecoverTypedData(td, sig)
	if err != nil {
		return false, err
	}
	return recovered == expected, nil
}
