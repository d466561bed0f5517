package registry

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/0xfutbol/id/core"
	"github.com/0xfutbol/id/signer"
	"github.com/0xfutbol/id/waas"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	contract = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	owner    = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func testClaim() *core.ClaimSignature {
	return &core.ClaimSignature{
		Username:            "alice",
		Owner:               strings.ToLower(owner.Hex()),
		SignatureExpiration: 1_900_000_000,
		Signature:           hexutil.Encode(append(make([]byte, 64), 27)),
	}
}

func TestPackRegisterUsername(t *testing.T) {
	sig := []byte{1, 2, 3}
	data, err := PackRegisterUsername("alice", sig, 1_900_000_000)
	require.NoError(t, err)

	selector := crypto.Keccak256([]byte("registerUsername(string,bytes,uint256)"))[:4]
	assert.Equal(t, selector, data[:4])

	args, err := parsedABI.Methods[methodRegister].Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Len(t, args, 3)
	assert.Equal(t, "alice", args[0])
	assert.Equal(t, sig, args[1])
	assert.Equal(t, big.NewInt(1_900_000_000), args[2])
}

func TestRegisterUsernameThroughCustodialWallet(t *testing.T) {
	var got struct {
		To   string `json:"to"`
		Data string `json:"data"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wallets/wallet-1/contract-call" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]string{"hash": common.HexToHash("0x01").Hex()})
	}))
	defer srv.Close()

	s := signer.NewRemoteCustodialSigner(waas.NewClient(srv.URL, "session"), "wallet-1", owner, 137)
	tx, err := RegisterUsername(context.Background(), s, contract, testClaim())
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x01"), tx.Hash)

	assert.Equal(t, contract.Hex(), got.To)
	want, err := PackRegisterUsername("alice", append(make([]byte, 64), 27), 1_900_000_000)
	require.NoError(t, err)
	assert.Equal(t, hexutil.Encode(want), got.Data)
}

type readOnlyAccount struct{}

func (readOnlyAccount) Address() common.Address { return owner }
func (readOnlyAccount) Ready() bool             { return true }

func (readOnlyAccount) SignMessage(context.Context, []byte) ([]byte, error) {
	return make([]byte, 65), nil
}

func (readOnlyAccount) SignTypedData(context.Context, apitypes.TypedData) ([]byte, error) {
	return make([]byte, 65), nil
}

func TestRegisterUsernameRejections(t *testing.T) {
	ctx := context.Background()

	_, err := RegisterUsername(ctx, signer.NewEmbeddedSocialSigner(readOnlyAccount{}, false), contract, testClaim())
	assert.ErrorIs(t, err, signer.ErrUnsupportedOperation)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	_, err = RegisterUsername(ctx, signer.NewLocalWallet(key), contract, testClaim())
	assert.ErrorIs(t, err, core.ErrInvalidAddress)

	bad := testClaim()
	bad.Signature = "0x1234"
	_, err = RegisterUsername(ctx, signer.NewEmbeddedSocialSigner(readOnlyAccount{}, true), contract, bad)
	assert.ErrorIs(t, err, core.ErrInvalidSignature)
}
