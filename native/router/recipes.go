package router

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hifi-finance/hifi-proxy-target/native/amm"
)

// errQuoteDrift guards the invariant that a preview and the trade it sizes
// agree bit-for-bit when reserves have not moved in between.
var errQuoteDrift = errors.New("router engine: pool quote diverged from execution")

// DepositCollateral forwards collateral from the caller into their vault.
func (e *Engine) DepositCollateral(c Collaborators, caller common.Address, bond, kind string, amount *big.Int) error {
	return e.run("depositCollateral", func() error {
		if err := positive(amount); err != nil {
			return err
		}
		if err := e.spendAllowance(kind, caller, amount); err != nil {
			return err
		}
		return c.Ledger.DepositCollateral(caller, bond, kind, amount)
	})
}

// WithdrawCollateral releases vault collateral back to the caller.
func (e *Engine) WithdrawCollateral(c Collaborators, caller common.Address, bond, kind string, amount *big.Int) error {
	return e.run("withdrawCollateral", func() error {
		if err := positive(amount); err != nil {
			return err
		}
		return c.Ledger.WithdrawCollateral(caller, bond, kind, amount)
	})
}

// RepayBorrow repays vault debt with bond tokens the caller already holds.
// The amount actually applied (clamped to the outstanding debt) is
// returned.
func (e *Engine) RepayBorrow(c Collaborators, caller common.Address, bond string, amount *big.Int) (*big.Int, error) {
	var applied *big.Int
	err := e.run("repayBorrow", func() error {
		if err := positive(amount); err != nil {
			return err
		}
		var err error
		applied, err = c.Ledger.Repay(caller, bond, amount, caller)
		if err != nil {
			return err
		}
		return e.spendAllowance(bond, caller, applied)
	})
	return applied, err
}

// SupplyUnderlying escrows underlying with the issuer and mints bond
// tokens 1:1 to the caller.
func (e *Engine) SupplyUnderlying(c Collaborators, caller common.Address, bond string, amount *big.Int) error {
	return e.run("supplyUnderlying", func() error {
		if err := positive(amount); err != nil {
			return err
		}
		instrument, err := c.Issuer.Bond(bond)
		if err != nil {
			return err
		}
		if err := e.spendAllowance(instrument.Underlying, caller, amount); err != nil {
			return err
		}
		return c.Issuer.SupplyUnderlying(caller, bond, amount)
	})
}

// RedeemHToken burns the caller's bond tokens after maturity and releases
// the escrowed underlying 1:1.
func (e *Engine) RedeemHToken(c Collaborators, caller common.Address, bond string, amount *big.Int) error {
	return e.run("redeemHToken", func() error {
		if err := positive(amount); err != nil {
			return err
		}
		if err := e.spendAllowance(bond, caller, amount); err != nil {
			return err
		}
		return c.Issuer.RedeemUnderlying(caller, bond, amount)
	})
}

// DepositAndBorrow stages collateral and borrows against it in one
// operation, crediting the borrowed bond tokens to the caller.
func (e *Engine) DepositAndBorrow(c Collaborators, caller common.Address, bond, kind string, collateralAmount, borrowAmount *big.Int) error {
	return e.run("depositAndBorrow", func() error {
		if err := positive(collateralAmount); err != nil {
			return err
		}
		if err := positive(borrowAmount); err != nil {
			return err
		}
		if err := e.spendAllowance(kind, caller, collateralAmount); err != nil {
			return err
		}
		if err := c.Ledger.DepositCollateral(caller, bond, kind, collateralAmount); err != nil {
			return err
		}
		return c.Ledger.Borrow(caller, bond, borrowAmount, caller)
	})
}

// DepositAndBorrowAndSell stages collateral, borrows an exact bond-token
// amount, and sells it for underlying subject to a minimum-out bound. The
// proceeds are forwarded to the caller.
func (e *Engine) DepositAndBorrowAndSell(c Collaborators, caller common.Address, poolID, kind string, collateralAmount, borrowAmount, minUnderlyingOut *big.Int) (*big.Int, error) {
	var underlyingOut *big.Int
	err := e.run("depositAndBorrowAndSell", func() error {
		pool, err := c.Pool.Pool(poolID)
		if err != nil {
			return err
		}
		if err := positive(collateralAmount); err != nil {
			return err
		}
		if err := e.spendAllowance(kind, caller, collateralAmount); err != nil {
			return err
		}
		if err := c.Ledger.DepositCollateral(caller, pool.BondSymbol, kind, collateralAmount); err != nil {
			return err
		}
		underlyingOut, err = e.borrowAndSell(c, caller, poolID, borrowAmount, minUnderlyingOut)
		return err
	})
	return underlyingOut, err
}

// WrapAndDepositAndBorrowAndSell wraps native value attached to the call,
// stages it as collateral, borrows an exact bond-token amount, and sells it
// for underlying subject to a minimum-out bound.
func (e *Engine) WrapAndDepositAndBorrowAndSell(c Collaborators, caller common.Address, poolID string, nativeAmount, borrowAmount, minUnderlyingOut *big.Int) (*big.Int, error) {
	var underlyingOut *big.Int
	err := e.run("wrapAndDepositAndBorrowAndSell", func() error {
		pool, err := c.Pool.Pool(poolID)
		if err != nil {
			return err
		}
		if err := positive(nativeAmount); err != nil {
			return err
		}
		if err := e.wrap(caller, nativeAmount); err != nil {
			return err
		}
		if err := c.Ledger.DepositCollateral(caller, pool.BondSymbol, e.wrapperSymbol, nativeAmount); err != nil {
			return err
		}
		underlyingOut, err = e.borrowAndSell(c, caller, poolID, borrowAmount, minUnderlyingOut)
		return err
	})
	return underlyingOut, err
}

// BuyHTokenAndRepay buys an exact amount of bond tokens subject to a
// maximum underlying spend and uses them to repay the caller's vault debt,
// clamped to the outstanding balance. Bond tokens bought beyond the debt
// stay with the caller.
func (e *Engine) BuyHTokenAndRepay(c Collaborators, caller common.Address, poolID string, hTokenOut, maxUnderlyingIn *big.Int) (*big.Int, error) {
	var applied *big.Int
	err := e.run("buyHTokenAndRepay", func() error {
		pool, err := c.Pool.Pool(poolID)
		if err != nil {
			return err
		}
		underlyingIn, err := c.Pool.TradeExactOut(poolID, caller, pool.BondSymbol, hTokenOut)
		if err != nil {
			return err
		}
		if maxUnderlyingIn == nil {
			return ErrInvalidAmount
		}
		if underlyingIn.Cmp(maxUnderlyingIn) > 0 {
			return ErrBoundExceeded
		}
		if err := e.spendAllowance(pool.UnderlyingSymbol, caller, underlyingIn); err != nil {
			return err
		}
		applied, err = c.Ledger.Repay(caller, pool.BondSymbol, hTokenOut, caller)
		return err
	})
	return applied, err
}

// SellUnderlyingAndRepay sells an exact amount of underlying for bond
// tokens subject to a minimum-out bound and repays the caller's vault debt
// with them, clamped to the outstanding balance.
func (e *Engine) SellUnderlyingAndRepay(c Collaborators, caller common.Address, poolID string, underlyingIn, minHTokenOut *big.Int) (*big.Int, error) {
	var applied *big.Int
	err := e.run("sellUnderlyingAndRepay", func() error {
		pool, err := c.Pool.Pool(poolID)
		if err != nil {
			return err
		}
		if err := positive(underlyingIn); err != nil {
			return err
		}
		if err := e.spendAllowance(pool.UnderlyingSymbol, caller, underlyingIn); err != nil {
			return err
		}
		hTokenOut, err := c.Pool.TradeExactIn(poolID, caller, pool.UnderlyingSymbol, underlyingIn)
		if err != nil {
			return err
		}
		if minHTokenOut == nil {
			return ErrInvalidAmount
		}
		if hTokenOut.Cmp(minHTokenOut) < 0 {
			return ErrBoundExceeded
		}
		applied, err = c.Ledger.Repay(caller, pool.BondSymbol, hTokenOut, caller)
		return err
	})
	return applied, err
}

// BorrowAndAddLiquidity contributes the caller's underlying to the pool,
// financing the paired bond tokens with a vault borrow. The borrow is
// sized exactly from the pool's own mint quote; maxHTokenBorrowed is a cap,
// not a target, so no unused borrowed balance can exist. LP shares are
// forwarded to the caller.
func (e *Engine) BorrowAndAddLiquidity(c Collaborators, caller common.Address, poolID string, underlyingOffered, maxHTokenBorrowed *big.Int) (*big.Int, error) {
	var shares *big.Int
	err := e.run("borrowAndAddLiquidity", func() error {
		pool, err := c.Pool.Pool(poolID)
		if err != nil {
			return err
		}
		if err := positive(underlyingOffered); err != nil {
			return err
		}
		required, err := c.Pool.PreviewMint(poolID, underlyingOffered)
		if err != nil {
			return err
		}
		if maxHTokenBorrowed == nil {
			return ErrInvalidAmount
		}
		if required.Cmp(maxHTokenBorrowed) > 0 {
			return ErrBoundExceeded
		}
		if err := e.spendAllowance(pool.UnderlyingSymbol, caller, underlyingOffered); err != nil {
			return err
		}
		if err := e.state.TokenTransfer(pool.UnderlyingSymbol, caller, e.address, underlyingOffered); err != nil {
			return err
		}
		if required.Sign() > 0 {
			if err := c.Ledger.Borrow(caller, pool.BondSymbol, required, e.address); err != nil {
				return err
			}
		}
		bondIn, minted, err := c.Pool.AddLiquidity(poolID, e.address, underlyingOffered)
		if err != nil {
			return err
		}
		if bondIn.Cmp(required) != 0 {
			return errQuoteDrift
		}
		shares = minted
		if err := e.state.TokenTransfer(amm.ShareSymbol(poolID), e.address, caller, minted); err != nil {
			return err
		}
		return e.assertNoResidual(pool.BondSymbol, pool.UnderlyingSymbol, amm.ShareSymbol(poolID))
	})
	return shares, err
}

// RemoveLiquidityAndRepay redeems LP shares for underlying plus bond
// tokens, sells the underlying portion for more bond tokens subject to a
// minimum-out bound, and repays the caller's vault debt with the total,
// clamped to the outstanding balance. Bond tokens beyond the debt are
// forwarded to the caller.
func (e *Engine) RemoveLiquidityAndRepay(c Collaborators, caller common.Address, poolID string, shares, minHTokenOut *big.Int) (*big.Int, error) {
	var applied *big.Int
	err := e.run("removeLiquidityAndRepay", func() error {
		pool, err := c.Pool.Pool(poolID)
		if err != nil {
			return err
		}
		if err := positive(shares); err != nil {
			return err
		}
		if err := e.spendAllowance(amm.ShareSymbol(poolID), caller, shares); err != nil {
			return err
		}
		if err := e.state.TokenTransfer(amm.ShareSymbol(poolID), caller, e.address, shares); err != nil {
			return err
		}
		underlyingOut, bondOut, err := c.Pool.RemoveLiquidity(poolID, e.address, shares)
		if err != nil {
			return err
		}
		total := new(big.Int).Set(bondOut)
		if underlyingOut.Sign() > 0 {
			traded, err := c.Pool.TradeExactIn(poolID, e.address, pool.UnderlyingSymbol, underlyingOut)
			if err != nil {
				return err
			}
			if minHTokenOut == nil {
				return ErrInvalidAmount
			}
			if traded.Cmp(minHTokenOut) < 0 {
				return ErrBoundExceeded
			}
			total.Add(total, traded)
		}
		applied, err = c.Ledger.Repay(caller, pool.BondSymbol, total, e.address)
		if err != nil {
			return err
		}
		if leftover := new(big.Int).Sub(total, applied); leftover.Sign() > 0 {
			if err := e.state.TokenTransfer(pool.BondSymbol, e.address, caller, leftover); err != nil {
				return err
			}
		}
		return e.assertNoResidual(pool.BondSymbol, pool.UnderlyingSymbol, amm.ShareSymbol(poolID))
	})
	return applied, err
}

// RemoveLiquidityAndSellHToken redeems LP shares and sells the bond-token
// portion for underlying subject to a minimum-out bound, forwarding all
// resulting underlying to the caller.
func (e *Engine) RemoveLiquidityAndSellHToken(c Collaborators, caller common.Address, poolID string, shares, minUnderlyingOut *big.Int) (*big.Int, error) {
	var total *big.Int
	err := e.run("removeLiquidityAndSellHToken", func() error {
		pool, err := c.Pool.Pool(poolID)
		if err != nil {
			return err
		}
		if err := positive(shares); err != nil {
			return err
		}
		if err := e.spendAllowance(amm.ShareSymbol(poolID), caller, shares); err != nil {
			return err
		}
		if err := e.state.TokenTransfer(amm.ShareSymbol(poolID), caller, e.address, shares); err != nil {
			return err
		}
		underlyingOut, bondOut, err := c.Pool.RemoveLiquidity(poolID, e.address, shares)
		if err != nil {
			return err
		}
		total = new(big.Int).Set(underlyingOut)
		if bondOut.Sign() > 0 {
			traded, err := c.Pool.TradeExactIn(poolID, e.address, pool.BondSymbol, bondOut)
			if err != nil {
				return err
			}
			if minUnderlyingOut == nil {
				return ErrInvalidAmount
			}
			if traded.Cmp(minUnderlyingOut) < 0 {
				return ErrBoundExceeded
			}
			total.Add(total, traded)
		}
		if total.Sign() > 0 {
			if err := e.state.TokenTransfer(pool.UnderlyingSymbol, e.address, caller, total); err != nil {
				return err
			}
		}
		return e.assertNoResidual(pool.BondSymbol, pool.UnderlyingSymbol, amm.ShareSymbol(poolID))
	})
	return total, err
}
