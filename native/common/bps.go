package common

import (
	"fmt"
	"math/big"
)

// BasisPoints is the denominator for every fee, weight and slippage ratio.
const BasisPoints uint64 = 10_000

var basisPoints = new(big.Int).SetUint64(BasisPoints)

// ApplyBps returns amount * bps / 10000, truncated.
func ApplyBps(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return out.Quo(out, basisPoints)
}

// MinOut is the lowest acceptable output for a quote under slippageBps.
func MinOut(quoted *big.Int, slippageBps uint64) *big.Int {
	if slippageBps > BasisPoints {
		slippageBps = BasisPoints
	}
	return ApplyBps(quoted, BasisPoints-slippageBps)
}

// ValidateWeights accepts an empty table or positive weights summing to 10000.
func ValidateWeights(weights []uint64) error {
	if len(weights) == 0 {
		return nil
	}
	var total uint64
	for i, w := range weights {
		if w == 0 {
			return fmt.Errorf("%w: entry %d has zero weight", ErrInvalidWeights, i)
		}
		if w > BasisPoints {
			return fmt.Errorf("%w: entry %d exceeds %d", ErrInvalidWeights, i, BasisPoints)
		}
		total += w
	}
	if total != BasisPoints {
		return fmt.Errorf("%w: sum %d != %d", ErrInvalidWeights, total, BasisPoints)
	}
	return nil
}

// Split divides amount by weights. Every entry but the last receives
// amount * weight / 10000; the last receives what is left, so the parts
// always sum to amount.
func Split(amount *big.Int, weights []uint64) []*big.Int {
	if len(weights) == 0 {
		return nil
	}
	if amount == nil || amount.Sign() < 0 {
		amount = big.NewInt(0)
	}
	parts := make([]*big.Int, len(weights))
	allocated := big.NewInt(0)
	for i := 0; i < len(weights)-1; i++ {
		parts[i] = ApplyBps(amount, weights[i])
		allocated.Add(allocated, parts[i])
	}
	parts[len(weights)-1] = new(big.Int).Sub(amount, allocated)
	return parts
}

// ValidateAmount rejects nil, zero and negative amounts.
func ValidateAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return ErrZeroAmount
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	return nil
}

// MinBig returns the smaller of a and b.
func MinBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
