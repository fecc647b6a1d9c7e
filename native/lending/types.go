package lending

import "math/big"

// Market captures the global accounting state of a lending venue.
type Market struct {
	// TotalSupplied is the liquidity owed to suppliers, interest included.
	TotalSupplied *big.Int
	// TotalSupplyShares is the number of outstanding supplier shares.
	TotalSupplyShares *big.Int
	// TotalBorrowed tracks outstanding debt, interest included.
	TotalBorrowed *big.Int
	// TotalDebtShares is the number of outstanding borrower shares.
	TotalDebtShares *big.Int
	// Reserves is the venue's cut of accrued interest.
	Reserves *big.Int
	// LastAccrual is the unix time of the last interest update.
	LastAccrual uint64
}

// Clone returns a deep copy of the market.
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	return &Market{
		TotalSupplied:     cloneInt(m.TotalSupplied),
		TotalSupplyShares: cloneInt(m.TotalSupplyShares),
		TotalBorrowed:     cloneInt(m.TotalBorrowed),
		TotalDebtShares:   cloneInt(m.TotalDebtShares),
		Reserves:          cloneInt(m.Reserves),
		LastAccrual:       m.LastAccrual,
	}
}

func (m *Market) normalise() {
	if m.TotalSupplied == nil {
		m.TotalSupplied = big.NewInt(0)
	}
	if m.TotalSupplyShares == nil {
		m.TotalSupplyShares = big.NewInt(0)
	}
	if m.TotalBorrowed == nil {
		m.TotalBorrowed = big.NewInt(0)
	}
	if m.TotalDebtShares == nil {
		m.TotalDebtShares = big.NewInt(0)
	}
	if m.Reserves == nil {
		m.Reserves = big.NewInt(0)
	}
}

// Cash is the liquidity physically held by the venue for suppliers.
func (m *Market) Cash() *big.Int {
	cash := new(big.Int).Sub(m.TotalSupplied, m.TotalBorrowed)
	cash.Add(cash, m.Reserves)
	if cash.Sign() < 0 {
		return big.NewInt(0)
	}
	return cash
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
