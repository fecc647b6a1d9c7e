package router

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	addrLen = common.AddressLength
	feeLen  = 3
	// FeeUnits is the denominator of hop fees (hundredths of a basis point).
	FeeUnits = 1_000_000
)

// Path is a packed multi-hop route: token, fee, token, fee, ..., token. Fees
// are 3-byte big-endian values in FeeUnits.
type Path []byte

// Hop is one leg of a path.
type Hop struct {
	TokenIn  common.Address
	TokenOut common.Address
	Fee      uint32
}

// EncodePath packs tokens and fees. len(fees) must be len(tokens)-1.
func EncodePath(tokens []common.Address, fees []uint32) (Path, error) {
	if len(tokens) < 2 || len(fees) != len(tokens)-1 {
		return nil, fmt.Errorf("router: path needs n tokens and n-1 fees, got %d/%d", len(tokens), len(fees))
	}
	out := make([]byte, 0, len(tokens)*addrLen+len(fees)*feeLen)
	for i, tok := range tokens {
		out = append(out, tok.Bytes()...)
		if i < len(fees) {
			if fees[i] >= FeeUnits {
				return nil, fmt.Errorf("router: fee %d out of range", fees[i])
			}
			var buf [4]byte
			binary.BigEndian.PutUint32(buf[:], fees[i])
			out = append(out, buf[1:]...)
		}
	}
	return out, nil
}

// ParsePath decodes a hex-encoded path.
func ParsePath(s string) (Path, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("router: path hex: %w", err)
	}
	p := Path(raw)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the packed layout.
func (p Path) Validate() error {
	if len(p) < 2*addrLen+feeLen || (len(p)-addrLen)%(addrLen+feeLen) != 0 {
		return fmt.Errorf("router: malformed path of %d bytes", len(p))
	}
	return nil
}

// Hops unpacks the path.
func (p Path) Hops() ([]Hop, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	n := (len(p) - addrLen) / (addrLen + feeLen)
	hops := make([]Hop, 0, n)
	offset := 0
	for i := 0; i < n; i++ {
		in := common.BytesToAddress(p[offset : offset+addrLen])
		feeBytes := p[offset+addrLen : offset+addrLen+feeLen]
		fee := uint32(feeBytes[0])<<16 | uint32(feeBytes[1])<<8 | uint32(feeBytes[2])
		offset += addrLen + feeLen
		out := common.BytesToAddress(p[offset : offset+addrLen])
		hops = append(hops, Hop{TokenIn: in, TokenOut: out, Fee: fee})
	}
	return hops, nil
}

// TokenIn returns the first token of the path.
func (p Path) TokenIn() common.Address {
	if len(p) < addrLen {
		return common.Address{}
	}
	return common.BytesToAddress(p[:addrLen])
}

// TokenOut returns the last token of the path.
func (p Path) TokenOut() common.Address {
	if len(p) < addrLen {
		return common.Address{}
	}
	return common.BytesToAddress(p[len(p)-addrLen:])
}

// String renders the path as 0x-prefixed hex.
func (p Path) String() string {
	return "0x" + hex.EncodeToString(p)
}
