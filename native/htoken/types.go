package htoken

// Bond describes a fixed-term debt instrument. Holders of the bond token
// may redeem it 1:1 for the underlying at or after maturity.
type Bond struct {
	// Symbol is the fungible token symbol of the bond (e.g. "hUSDC-27DEC").
	Symbol string
	// Underlying is the token symbol the bond settles into.
	Underlying string
	// Maturity is the unix timestamp at which the instrument expires and
	// redemption opens.
	Maturity uint64
}
