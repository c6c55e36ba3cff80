package router

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// WrapperAddress returns the escrow address backing the wrapped native
// token. Fixed at construction, never mutated.
func (e *Engine) WrapperAddress() common.Address { return e.wrapperAddress }

// wrap converts native value attached to the call into the wrapped token,
// credited to the caller. Conversion is exact: no fee, no rounding loss.
func (e *Engine) wrap(caller common.Address, amount *big.Int) error {
	if err := e.state.NativeTransfer(caller, e.wrapperAddress, amount); err != nil {
		return err
	}
	return e.state.TokenMint(e.wrapperSymbol, caller, amount)
}

// unwrap burns the caller's wrapped tokens and releases the backing native
// value.
func (e *Engine) unwrap(caller common.Address, amount *big.Int) error {
	if err := e.state.TokenBurn(e.wrapperSymbol, caller, amount); err != nil {
		return err
	}
	return e.state.NativeTransfer(e.wrapperAddress, caller, amount)
}

// WrapAndDepositCollateral converts native value attached to the call into
// the wrapped token and forwards exactly that amount to the lending ledger
// as collateral on behalf of the caller.
func (e *Engine) WrapAndDepositCollateral(c Collaborators, caller common.Address, bond string, nativeAmount *big.Int) error {
	return e.run("wrapAndDepositCollateral", func() error {
		if err := positive(nativeAmount); err != nil {
			return err
		}
		if err := e.wrap(caller, nativeAmount); err != nil {
			return err
		}
		return c.Ledger.DepositCollateral(caller, bond, e.wrapperSymbol, nativeAmount)
	})
}

// WithdrawCollateralAndUnwrap releases wrapped collateral from the ledger
// and converts it back to native value in the same operation.
func (e *Engine) WithdrawCollateralAndUnwrap(c Collaborators, caller common.Address, bond string, amount *big.Int) error {
	return e.run("withdrawCollateralAndUnwrap", func() error {
		if err := positive(amount); err != nil {
			return err
		}
		if err := c.Ledger.WithdrawCollateral(caller, bond, e.wrapperSymbol, amount); err != nil {
			return err
		}
		return e.unwrap(caller, amount)
	})
}
