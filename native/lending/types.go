package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CollateralLot records one collateral kind locked inside a vault. Lots are
// kept as a slice so vaults stay RLP-encodable.
type CollateralLot struct {
	Kind   string
	Amount *big.Int
}

// Vault is a borrower's position against a single debt instrument: the
// collateral locked for it and the outstanding bond-token debt.
type Vault struct {
	Owner      common.Address
	Bond       string
	Collateral []CollateralLot
	Debt       *big.Int
}

// Normalize replaces nil amounts with zero values.
func (v *Vault) Normalize() {
	if v.Debt == nil {
		v.Debt = big.NewInt(0)
	}
	for i := range v.Collateral {
		if v.Collateral[i].Amount == nil {
			v.Collateral[i].Amount = big.NewInt(0)
		}
	}
}

// lot returns the collateral amount held for kind, zero when absent.
func (v *Vault) lot(kind string) *big.Int {
	for i := range v.Collateral {
		if v.Collateral[i].Kind == kind {
			return v.Collateral[i].Amount
		}
	}
	return big.NewInt(0)
}

// setLot replaces the collateral amount held for kind.
func (v *Vault) setLot(kind string, amount *big.Int) {
	for i := range v.Collateral {
		if v.Collateral[i].Kind == kind {
			v.Collateral[i].Amount = amount
			return
		}
	}
	v.Collateral = append(v.Collateral, CollateralLot{Kind: kind, Amount: amount})
}

// RiskParameters groups the governance-controlled safety limits applied to
// vault mutations.
type RiskParameters struct {
	// CollateralRatios maps a collateral kind to its required
	// over-collateralization ratio in basis points (>= 10_000). A kind
	// absent from the map is not accepted as collateral.
	CollateralRatios map[string]uint64
}

// Clone returns a deep copy of the risk parameters.
func (p RiskParameters) Clone() RiskParameters {
	cloned := RiskParameters{}
	if p.CollateralRatios != nil {
		cloned.CollateralRatios = make(map[string]uint64, len(p.CollateralRatios))
		for kind, ratio := range p.CollateralRatios {
			cloned.CollateralRatios[kind] = ratio
		}
	}
	return cloned
}
