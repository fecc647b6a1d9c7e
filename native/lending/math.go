package lending

import "math/big"

const secondsPerYear = 365 * 24 * 60 * 60

var basisPoints = big.NewInt(10_000)

// sharesFor converts an amount into shares, rounding down.
func sharesFor(amount, totalAssets, totalShares *big.Int) *big.Int {
	if totalShares.Sign() == 0 || totalAssets.Sign() == 0 {
		return new(big.Int).Set(amount)
	}
	out := new(big.Int).Mul(amount, totalShares)
	return out.Quo(out, totalAssets)
}

// sharesForUp converts an amount into shares, rounding up, so a withdrawal
// never burns fewer shares than the assets it removes.
func sharesForUp(amount, totalAssets, totalShares *big.Int) *big.Int {
	if totalShares.Sign() == 0 || totalAssets.Sign() == 0 {
		return new(big.Int).Set(amount)
	}
	num := new(big.Int).Mul(amount, totalShares)
	num.Add(num, new(big.Int).Sub(totalAssets, big.NewInt(1)))
	return num.Quo(num, totalAssets)
}

// assetsFor converts shares into assets, rounding down.
func assetsFor(shares, totalAssets, totalShares *big.Int) *big.Int {
	if totalShares.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(shares, totalAssets)
	return out.Quo(out, totalShares)
}

func computeInterest(totalBorrowed *big.Int, rate *big.Rat, delta uint64) *big.Int {
	if totalBorrowed == nil || totalBorrowed.Sign() == 0 || rate == nil || rate.Sign() == 0 || delta == 0 {
		return big.NewInt(0)
	}
	perPeriod := new(big.Rat).Set(rate)
	perPeriod.Quo(perPeriod, new(big.Rat).SetUint64(secondsPerYear))
	perPeriod.Mul(perPeriod, new(big.Rat).SetUint64(delta))
	interest := new(big.Rat).Mul(perPeriod, new(big.Rat).SetInt(totalBorrowed))
	return new(big.Int).Quo(interest.Num(), interest.Denom())
}

// ratToBps renders a ratio in basis points, truncated.
func ratToBps(r *big.Rat) uint64 {
	if r == nil || r.Sign() <= 0 {
		return 0
	}
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(basisPoints))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom()).Uint64()
}
