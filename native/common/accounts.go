package common

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/text/unicode/norm"
)

// AccountAddress derives the deterministic custody account of a protocol
// component or venue.
func AccountAddress(name string) common.Address {
	return common.BytesToAddress(ethcrypto.Keccak256([]byte("dough/account/" + NormalizeLabel(name))))
}

// NormalizeLabel canonicalises identifiers (strategy IDs, router names,
// recipient labels) so equivalent spellings collide.
func NormalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(label)))
}
