package lending

import "math/big"

// InterestModel encapsulates the parameters that shape how interest rates react
// to venue utilisation.
type InterestModel struct {
	// BaseRate is the minimum borrow APR applied when utilisation is zero.
	BaseRate *big.Rat
	// Slope1 is the borrow APR increase per unit of utilisation up to the
	// kink point.
	Slope1 *big.Rat
	// Slope2 governs the additional APR increase applied beyond the kink.
	Slope2 *big.Rat
	// Kink is the utilisation ratio where the slope changes.
	Kink *big.Rat
}

// NewInterestModelBps constructs a model from basis-point parameters, e.g. a
// 4% slope is 400 and an 80% kink is 8000.
func NewInterestModelBps(baseBps, slope1Bps, slope2Bps, kinkBps uint64) *InterestModel {
	return &InterestModel{
		BaseRate: bpsRat(baseBps),
		Slope1:   bpsRat(slope1Bps),
		Slope2:   bpsRat(slope2Bps),
		Kink:     bpsRat(kinkBps),
	}
}

func bpsRat(v uint64) *big.Rat {
	return new(big.Rat).SetFrac(new(big.Int).SetUint64(v), basisPoints)
}

// Utilisation computes U = totalBorrowed / totalSupplied. When no liquidity
// exists the utilisation is defined as zero.
func (m *InterestModel) Utilisation(totalBorrowed, totalSupplied *big.Int) *big.Rat {
	if totalBorrowed == nil || totalBorrowed.Sign() == 0 {
		return new(big.Rat)
	}
	if totalSupplied == nil || totalSupplied.Sign() == 0 {
		return new(big.Rat)
	}
	u := new(big.Rat).SetFrac(totalBorrowed, totalSupplied)
	if u.Cmp(big.NewRat(1, 1)) > 0 {
		return big.NewRat(1, 1)
	}
	return u
}

// BorrowAPR derives the borrow APR for the current utilisation.
func (m *InterestModel) BorrowAPR(totalBorrowed, totalSupplied *big.Int) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	rate := cloneRat(m.BaseRate)
	utilisation := m.Utilisation(totalBorrowed, totalSupplied)
	if utilisation.Sign() == 0 {
		return rate
	}
	kink := cloneRat(m.Kink)
	if kink.Sign() == 0 || utilisation.Cmp(kink) <= 0 {
		return rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope1), utilisation))
	}
	rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope1), kink))
	excess := new(big.Rat).Sub(utilisation, kink)
	return rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope2), excess))
}

// SupplyAPY is the borrow APR scaled by utilisation net of the reserve factor.
func (m *InterestModel) SupplyAPY(totalBorrowed, totalSupplied *big.Int, reserveFactorBps uint64) *big.Rat {
	borrowAPR := m.BorrowAPR(totalBorrowed, totalSupplied)
	utilisation := m.Utilisation(totalBorrowed, totalSupplied)
	if borrowAPR.Sign() == 0 || utilisation.Sign() == 0 {
		return new(big.Rat)
	}
	if reserveFactorBps > 10_000 {
		reserveFactorBps = 10_000
	}
	keep := bpsRat(10_000 - reserveFactorBps)
	out := new(big.Rat).Mul(borrowAPR, utilisation)
	return out.Mul(out, keep)
}

func cloneRat(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r)
}
