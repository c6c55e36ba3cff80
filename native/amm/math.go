package amm

import "math/big"

var basisPoints = big.NewInt(10_000)

// getAmountOut computes the constant-product output for an exact input,
// with the fee charged on the input side:
//
//	out = in*(10000-fee)*reserveOut / (reserveIn*10000 + in*(10000-fee))
func getAmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps uint64) *big.Int {
	if amountIn == nil || amountIn.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return big.NewInt(0)
	}
	inWithFee := new(big.Int).Mul(amountIn, big.NewInt(int64(10_000-feeBps)))
	numerator := new(big.Int).Mul(inWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, basisPoints)
	denominator.Add(denominator, inWithFee)
	return numerator.Quo(numerator, denominator)
}

// getAmountIn computes the constant-product input for an exact output,
// rounded up so the invariant never decreases:
//
//	in = reserveIn*out*10000 / ((reserveOut-out)*(10000-fee)) + 1
func getAmountIn(amountOut, reserveIn, reserveOut *big.Int, feeBps uint64) *big.Int {
	if amountOut == nil || amountOut.Sign() <= 0 || reserveIn.Sign() <= 0 {
		return big.NewInt(0)
	}
	if reserveOut.Cmp(amountOut) <= 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(reserveIn, amountOut)
	numerator.Mul(numerator, basisPoints)
	denominator := new(big.Int).Sub(reserveOut, amountOut)
	denominator.Mul(denominator, big.NewInt(int64(10_000-feeBps)))
	numerator.Quo(numerator, denominator)
	return numerator.Add(numerator, big.NewInt(1))
}

// bondRequiredForMint is the proportional-reserves formula quoted before a
// liquidity mint: contributing u underlying must be paired with
// u * bondReserve / underlyingReserve bond tokens. An empty pool requires
// no pairing.
func bondRequiredForMint(underlyingIn, underlyingReserve, bondReserve *big.Int) *big.Int {
	if underlyingIn == nil || underlyingIn.Sign() <= 0 {
		return big.NewInt(0)
	}
	if underlyingReserve.Sign() == 0 || bondReserve.Sign() == 0 {
		return big.NewInt(0)
	}
	required := new(big.Int).Mul(underlyingIn, bondReserve)
	return required.Quo(required, underlyingReserve)
}
