package eth

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	DomainName    = "MetaSoccerID"
	DomainVersion = "1"

	usernameType = "Username"
)

// EIP712Domain identifies the registry contract a typed signature is bound to.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// NewDomain returns the registry domain for chainID and contract.
func NewDomain(chainID int64, contract common.Address) EIP712Domain {
	return EIP712Domain{
		Name:              DomainName,
		Version:           DomainVersion,
		ChainID:           big.NewInt(chainID),
		VerifyingContract: contract,
	}
}

// typed treats a nil ChainID as chain 0, which no deployment uses.
func (d EIP712Domain) typed() apitypes.TypedDataDomain {
	chainID := new(big.Int)
	if d.ChainID != nil {
		chainID.Set(d.ChainID)
	}
	return apitypes.TypedDataDomain{
		Name:              d.Name,
		Version:           d.Version,
		ChainId:           (*math.HexOrDecimal256)(chainID),
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}

var domainFields = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// UsernameTypedData builds Username{username, owner, signatureExpiration}
// under domain.
func UsernameTypedData(domain EIP712Domain, username string, owner common.Address, signatureExpiration int64) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainFields,
			usernameType: {
				{Name: "username", Type: "string"},
				{Name: "owner", Type: "address"},
				{Name: "signatureExpiration", Type: "uint256"},
			},
		},
		PrimaryType: usernameType,
		Domain:      domain.typed(),
		Message: apitypes.TypedDataMessage{
			"username":            username,
			"owner":               owner.Hex(),
			"signatureExpiration": strconv.FormatInt(signatureExpiration, 10),
		},
	}
}

// TypedDataHash returns keccak256("\x19\x01" || domainSeparator || hashStruct(message)).
func TypedDataHash(td apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return hash, nil
}
