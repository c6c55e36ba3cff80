package types

import "math/big"

// Account tracks the chain-native balance for an address. Fungible token
// balances (underlying, wrapped native, hTokens, LP shares) live in the
// state manager's token ledger instead.
type Account struct {
	Nonce   uint64   `json:"nonce"`
	Balance *big.Int `json:"balance"`
}

// Normalize replaces nil amounts with zero so callers can compare and
// mutate balances without guarding every access.
func (a *Account) Normalize() {
	if a.Balance == nil {
		a.Balance = big.NewInt(0)
	}
}
