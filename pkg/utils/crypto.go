package utils

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// IsValidAddress checks if a string is a valid Ethereum address
func IsValidAddress(address string) bool {
	return common.IsHexAddress(address)
}

// NormalizeAddress normalizes an address to lowercase with 0x prefix
func NormalizeAddress(address string) string {
	if !strings.HasPrefix(address, "0x") {
		address = "0x" + address
	}
	return strings.ToLower(address)
}

// IsValidTxHash checks if a string is a 32-byte hex transaction hash
func IsValidTxHash(hash string) bool {
	return txHashPattern.MatchString(hash)
}

// NormalizeTxHash normalizes a transaction hash to lowercase with 0x prefix
func NormalizeTxHash(hash string) string {
	if !strings.HasPrefix(hash, "0x") {
		hash = "0x" + hash
	}
	return strings.ToLower(hash)
}
