package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cheap params keep the suite fast; the format is the same
var testParams = Params{Memory: 1024, Time: 1, Parallelism: 1, SaltLen: 16, KeyLen: 32}

func TestHashAndVerify(t *testing.T) {
	h := NewArgon2Hasher(testParams)

	hash, err := h.Hash("Password123!")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$"))

	ok, err := h.Verify("Password123!", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("password123!", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashIsSalted(t *testing.T) {
	h := NewArgon2Hasher(testParams)
	a, err := h.Hash("same")
	require.NoError(t, err)
	b, err := h.Hash("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerifyUsesEncodedParams(t *testing.T) {
	hash, err := NewArgon2Hasher(testParams).Hash("secret")
	require.NoError(t, err)

	ok, err := NewArgon2Hasher(DefaultParams).Verify("secret", hash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDefaultParams(t *testing.T) {
	assert.Equal(t, uint32(64*1024), DefaultParams.Memory)
	assert.Equal(t, uint32(3), DefaultParams.Time)
	assert.Equal(t, uint8(1), DefaultParams.Parallelism)
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	h := NewArgon2Hasher(testParams)
	for _, bad := range []string{
		"invalid-hash-format",
		"$argon2i$v=19$m=1024,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=18$m=1024,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=1024,t=1,p=1$!!$a2V5",
		"$argon2id$v=19$m=1024,t=1,p=1$c2FsdA$",
		"$argon2id$v=19$m=1024,t=1,p=1$$a2V5",
	} {
		ok, err := h.Verify("pw", bad)
		assert.ErrorIs(t, err, ErrInvalidHash, bad)
		assert.False(t, ok)
	}
}

func TestVerifyRejectsOutOfRangeParams(t *testing.T) {
	h := NewArgon2Hasher(testParams)
	tests := []struct {
		name   string
		params string
	}{
		{"zero passes", "m=1024,t=0,p=1"},
		{"zero lanes", "m=1024,t=1,p=0"},
		{"zero memory", "m=0,t=1,p=1"},
		{"memory above cap", "m=4294967295,t=1,p=1"},
		{"memory just above cap", "m=1048577,t=1,p=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := "$argon2id$v=19$" + tt.params + "$c2FsdHNhbHRzYWx0$a2V5a2V5a2V5a2V5"
			var (
				ok  bool
				err error
			)
			require.NotPanics(t, func() { ok, err = h.Verify("pw", encoded) })
			assert.ErrorIs(t, err, ErrInvalidHash)
			assert.False(t, ok)
		})
	}
}
