package amm

import "math/big"

// Pool captures the reserves and share supply of one two-token market
// making pool exchanging a bond token against its underlying.
type Pool struct {
	ID                string
	UnderlyingSymbol  string
	BondSymbol        string
	UnderlyingReserve *big.Int
	BondReserve       *big.Int
	TotalShares       *big.Int
	// Maturity mirrors the bond's maturity; the trading curve is undefined
	// past this cutoff.
	Maturity uint64
	// FeeBps is the swap fee retained by the pool, in basis points.
	FeeBps uint64
}

// Normalize replaces nil amounts with zero values.
func (p *Pool) Normalize() {
	if p.UnderlyingReserve == nil {
		p.UnderlyingReserve = big.NewInt(0)
	}
	if p.BondReserve == nil {
		p.BondReserve = big.NewInt(0)
	}
	if p.TotalShares == nil {
		p.TotalShares = big.NewInt(0)
	}
}

// Clone returns an independent copy of the pool for read-only callers.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	cloned := &Pool{
		ID:               p.ID,
		UnderlyingSymbol: p.UnderlyingSymbol,
		BondSymbol:       p.BondSymbol,
		Maturity:         p.Maturity,
		FeeBps:           p.FeeBps,
	}
	if p.UnderlyingReserve != nil {
		cloned.UnderlyingReserve = new(big.Int).Set(p.UnderlyingReserve)
	}
	if p.BondReserve != nil {
		cloned.BondReserve = new(big.Int).Set(p.BondReserve)
	}
	if p.TotalShares != nil {
		cloned.TotalShares = new(big.Int).Set(p.TotalShares)
	}
	cloned.Normalize()
	return cloned
}

// ShareSymbol returns the fungible token symbol tracking LP shares for a
// pool.
func ShareSymbol(poolID string) string {
	return poolID + "-LP"
}
