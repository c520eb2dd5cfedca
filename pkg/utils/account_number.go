package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// Bank prefixes for generated account numbers. Unknown banks fall back to the
// generic prefix.
var bankPrefixes = map[string]string{
	"ezpay":   "110",
	"kb":      "004",
	"shinhan": "088",
	"woori":   "020",
	"hana":    "081",
}

const genericBankPrefix = "900"

// GenerateAccountNumber builds a 13-digit account number: a 3-digit bank
// prefix followed by 10 random digits. The caller is responsible for retrying
// on the (unlikely) unique-constraint collision.
func GenerateAccountNumber(bankName string) (string, error) {
	prefix, ok := bankPrefixes[strings.ToLower(bankName)]
	if !ok {
		prefix = genericBankPrefix
	}

	var sb strings.Builder
	sb.WriteString(prefix)
	for i := 0; i < 10; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("generate account number: %w", err)
		}
		sb.WriteString(n.String())
	}
	return sb.String(), nil
}
