package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		username string
		valid    bool
	}{
		{"alice", true},
		{"a-b", true},
		{"abc", true},
		{"A1-b2-C3", true},
		{"ab", false},
		{"-alice", false},
		{"alice-", false},
		{"al ice", false},
		{"al_ice", false},
		{"", false},
		{strings.Repeat("a", 63), true},
		{strings.Repeat("a", 64), false},
	}
	for _, tt := range tests {
		t.Run(tt.username, func(t *testing.T) {
			err := ValidateUsername(tt.username)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidUsername)
			}
		})
	}
}

func TestNormalizeAddress(t *testing.T) {
	got, err := NormalizeAddress("0xAbCdEf0000000000000000000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, "0xabcdef0000000000000000000000000000000001", got)

	for _, bad := range []string{"", "0x1234", "abcdef0000000000000000000000000000000001", "0xzz00000000000000000000000000000000000001"} {
		_, err := NormalizeAddress(bad)
		assert.ErrorIs(t, err, ErrInvalidAddress, bad)
	}
}

func TestParseLoginMethod(t *testing.T) {
	m, err := ParseLoginMethod("")
	require.NoError(t, err)
	assert.Equal(t, LoginMethodWallet, m)

	m, err = ParseLoginMethod("Discord")
	require.NoError(t, err)
	assert.Equal(t, LoginMethodDiscord, m)

	_, err = ParseLoginMethod("carrier-pigeon")
	assert.ErrorIs(t, err, ErrInvalidLoginMethod)
}
