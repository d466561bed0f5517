package eth

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testContract = common.HexToAddress("0xCcCCccccCCCCcCCCCCCcCcCccCcCCCcCcccccccC")

func TestUsernameTypedDataRoundTrip(t *testing.T) {
	authority, err := GenerateKeySigner()
	require.NoError(t, err)
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	domain := NewDomain(137, testContract)

	td := UsernameTypedData(domain, "alice", owner, 1_700_000_000)
	sig, err := SignTypedData(authority, td)
	require.NoError(t, err)
	require.Len(t, sig, SignatureLength)

	ok, err := VerifySignatureAgainstAddress(td, sig, authority.Address())
	require.NoError(t, err)
	assert.True(t, ok)

	tampered := []struct {
		name string
		user string
		own  common.Address
		exp  int64
	}{
		{name: "username", user: "alice2", own: owner, exp: 1_700_000_000},
		{name: "owner", user: "alice", own: common.HexToAddress("0x00000000000000000000000000000000000000bb"), exp: 1_700_000_000},
		{name: "expiration", user: "alice", own: owner, exp: 1_700_000_001},
	}
	for _, tt := range tampered {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := VerifySignatureAgainstAddress(UsernameTypedData(domain, tt.user, tt.own, tt.exp), sig, authority.Address())
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}

	t.Run("domain chain", func(t *testing.T) {
		other := UsernameTypedData(NewDomain(1, testContract), "alice", owner, 1_700_000_000)
		ok, err := VerifySignatureAgainstAddress(other, sig, authority.Address())
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestPersonalSignBinding(t *testing.T) {
	key, err := GenerateKeySigner()
	require.NoError(t, err)

	msg := "Authenticate with MetaSoccer\n\nID: alice\n\nExpiration: 1700000000000"
	sig, err := SignPersonal(key, msg)
	require.NoError(t, err)

	got, err := RecoverPersonal(msg, sig)
	require.NoError(t, err)
	assert.Equal(t, key.Address(), got)

	got, err = RecoverPersonal(msg+"1", sig)
	require.NoError(t, err)
	assert.NotEqual(t, key.Address(), got)
}

func TestRecoverAddressAcceptsRawRecoveryID(t *testing.T) {
	key, err := GenerateKeySigner()
	require.NoError(t, err)
	hash := PersonalHash([]byte("hello"))

	sig, err := key.SignHash(hash)
	require.NoError(t, err)
	raw := append([]byte(nil), sig...)
	raw[64] -= 27

	a, err := RecoverAddress(hash, sig)
	require.NoError(t, err)
	b, err := RecoverAddress(hash, raw)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	raw[64] = 5
	_, err = RecoverAddress(hash, raw)
	assert.ErrorIs(t, err, ErrInvalidRecoveryID)
}

func TestDecodeSignature(t *testing.T) {
	_, err := DecodeSignature("0x1234")
	assert.ErrorIs(t, err, ErrInvalidSignatureLen)

	_, err = DecodeSignature("nothex")
	assert.Error(t, err)
}

func TestDomainWithoutChainID(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	unset := EIP712Domain{Name: DomainName, Version: DomainVersion, VerifyingContract: testContract}

	var (
		hash []byte
		err  error
	)
	require.NotPanics(t, func() {
		hash, err = TypedDataHash(UsernameTypedData(unset, "alice", owner, 1_700_000_000))
	})
	require.NoError(t, err)

	zero, err := TypedDataHash(UsernameTypedData(NewDomain(0, testContract), "alice", owner, 1_700_000_000))
	require.NoError(t, err)
	assert.Equal(t, zero, hash)

	polygon, err := TypedDataHash(UsernameTypedData(NewDomain(137, testContract), "alice", owner, 1_700_000_000))
	require.NoError(t, err)
	assert.NotEqual(t, polygon, hash)
}
