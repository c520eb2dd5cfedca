package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAccountNumberFormat(t *testing.T) {
	number, err := GenerateAccountNumber("ezpay")
	require.NoError(t, err)
	assert.Len(t, number, 13)
	assert.True(t, strings.HasPrefix(number, "110"))
	for _, r := range number {
		assert.True(t, r >= '0' && r <= '9')
	}
}

func TestGenerateAccountNumberUnknownBankUsesGenericPrefix(t *testing.T) {
	number, err := GenerateAccountNumber("some-neobank")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(number, "900"))
}

func TestGenerateAccountNumberVaries(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 100; i++ {
		number, err := GenerateAccountNumber("kb")
		require.NoError(t, err)
		seen[number] = struct{}{}
	}
	assert.Greater(t, len(seen), 90)
}
