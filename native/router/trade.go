package router

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/hifi-finance/hifi-proxy-target/core/events"
)

// QuoteHTokenRequiredForMint returns the bond-token amount that must
// accompany an underlying contribution to the pool. The quote delegates to
// the pool's own PreviewMint so it can never drift from the authoritative
// pricing; past maturity it fails with the pool's expired-instrument error.
func (e *Engine) QuoteHTokenRequiredForMint(c Collaborators, poolID string, underlyingAmount *big.Int) (*big.Int, error) {
	start := time.Now()
	required, err := c.Pool.PreviewMint(poolID, underlyingAmount)
	e.metrics.Observe("quoteHTokenRequiredForMint", start, err)
	return required, err
}

// BuyHToken buys an exact amount of bond tokens, paying at most
// maxUnderlyingIn of underlying. The realized price is checked after the
// pool's reserves have moved.
func (e *Engine) BuyHToken(c Collaborators, caller common.Address, poolID string, hTokenOut, maxUnderlyingIn *big.Int) (*big.Int, error) {
	var underlyingIn *big.Int
	err := e.run("buyHToken", func() error {
		pool, err := c.Pool.Pool(poolID)
		if err != nil {
			return err
		}
		underlyingIn, err = c.Pool.TradeExactOut(poolID, caller, pool.BondSymbol, hTokenOut)
		if err != nil {
			return err
		}
		if maxUnderlyingIn == nil {
			return ErrInvalidAmount
		}
		if underlyingIn.Cmp(maxUnderlyingIn) > 0 {
			return ErrBoundExceeded
		}
		return e.spendAllowance(pool.UnderlyingSymbol, caller, underlyingIn)
	})
	return underlyingIn, err
}

// SellHToken sells an exact amount of bond tokens for underlying, requiring
// at least minUnderlyingOut in return.
func (e *Engine) SellHToken(c Collaborators, caller common.Address, poolID string, hTokenIn, minUnderlyingOut *big.Int) (*big.Int, error) {
	var underlyingOut *big.Int
	err := e.run("sellHToken", func() error {
		pool, err := c.Pool.Pool(poolID)
		if err != nil {
			return err
		}
		if err := positive(hTokenIn); err != nil {
			return err
		}
		if err := e.spendAllowance(pool.BondSymbol, caller, hTokenIn); err != nil {
			return err
		}
		underlyingOut, err = c.Pool.TradeExactIn(poolID, caller, pool.BondSymbol, hTokenIn)
		if err != nil {
			return err
		}
		if minUnderlyingOut == nil {
			return ErrInvalidAmount
		}
		if underlyingOut.Cmp(minUnderlyingOut) < 0 {
			return ErrBoundExceeded
		}
		return nil
	})
	return underlyingOut, err
}

// BuyUnderlying buys an exact amount of underlying, paying at most
// maxHTokenIn of bond tokens.
func (e *Engine) BuyUnderlying(c Collaborators, caller common.Address, poolID string, underlyingOut, maxHTokenIn *big.Int) (*big.Int, error) {
	var hTokenIn *big.Int
	err := e.run("buyUnderlying", func() error {
		pool, err := c.Pool.Pool(poolID)
		if err != nil {
			return err
		}
		hTokenIn, err = c.Pool.TradeExactOut(poolID, caller, pool.UnderlyingSymbol, underlyingOut)
		if err != nil {
			return err
		}
		if maxHTokenIn == nil {
			return ErrInvalidAmount
		}
		if hTokenIn.Cmp(maxHTokenIn) > 0 {
			return ErrBoundExceeded
		}
		return e.spendAllowance(pool.BondSymbol, caller, hTokenIn)
	})
	return hTokenIn, err
}

// SellUnderlying sells an exact amount of underlying for bond tokens,
// requiring at least minHTokenOut in return.
func (e *Engine) SellUnderlying(c Collaborators, caller common.Address, poolID string, underlyingIn, minHTokenOut *big.Int) (*big.Int, error) {
	var hTokenOut *big.Int
	err := e.run("sellUnderlying", func() error {
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
		hTokenOut, err = c.Pool.TradeExactIn(poolID, caller, pool.UnderlyingSymbol, underlyingIn)
		if err != nil {
			return err
		}
		if minHTokenOut == nil {
			return ErrInvalidAmount
		}
		if hTokenOut.Cmp(minHTokenOut) < 0 {
			return ErrBoundExceeded
		}
		return nil
	})
	return hTokenOut, err
}

// BorrowAndSellHToken borrows an exact amount of bond tokens against the
// caller's vault and sells them for underlying in the same operation,
// requiring at least minUnderlyingOut of proceeds. Proceeds are forwarded
// to the caller and a notification is emitted on success.
func (e *Engine) BorrowAndSellHToken(c Collaborators, caller common.Address, poolID string, borrowAmount, minUnderlyingOut *big.Int) (*big.Int, error) {
	var underlyingOut *big.Int
	err := e.run("borrowAndSellHToken", func() error {
		var err error
		underlyingOut, err = e.borrowAndSell(c, caller, poolID, borrowAmount, minUnderlyingOut)
		return err
	})
	return underlyingOut, err
}

// BorrowAndBuyUnderlying buys an exact amount of underlying financed by a
// vault borrow, borrowing at most maxHTokenBorrowed of bond tokens. The
// bought underlying is forwarded to the caller and a notification is
// emitted on success.
func (e *Engine) BorrowAndBuyUnderlying(c Collaborators, caller common.Address, poolID string, underlyingOut, maxHTokenBorrowed *big.Int) (*big.Int, error) {
	var borrowed *big.Int
	err := e.run("borrowAndBuyUnderlying", func() error {
		var err error
		borrowed, err = e.borrowAndBuy(c, caller, poolID, underlyingOut, maxHTokenBorrowed)
		return err
	})
	return borrowed, err
}

// borrowAndSell stages the borrow at the router's own address, disposes of
// the borrowed balance through the pool, checks the bound against the
// realized proceeds, and forwards them to the caller.
func (e *Engine) borrowAndSell(c Collaborators, caller common.Address, poolID string, borrowAmount, minUnderlyingOut *big.Int) (*big.Int, error) {
	pool, err := c.Pool.Pool(poolID)
	if err != nil {
		return nil, err
	}
	if err := positive(borrowAmount); err != nil {
		return nil, err
	}
	if err := c.Ledger.Borrow(caller, pool.BondSymbol, borrowAmount, e.address); err != nil {
		return nil, err
	}
	underlyingOut, err := c.Pool.TradeExactIn(poolID, e.address, pool.BondSymbol, borrowAmount)
	if err != nil {
		return nil, err
	}
	if minUnderlyingOut == nil {
		return nil, ErrInvalidAmount
	}
	// The tolerance is judged strictly after reserves have moved, before
	// any further external call.
	if underlyingOut.Cmp(minUnderlyingOut) < 0 {
		return nil, ErrBoundExceeded
	}
	if err := e.state.TokenTransfer(pool.UnderlyingSymbol, e.address, caller, underlyingOut); err != nil {
		return nil, err
	}
	if err := e.assertNoResidual(pool.BondSymbol, pool.UnderlyingSymbol); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.BorrowAndSellExecuted{
		OperationID:        uuid.NewString(),
		Caller:             caller,
		Bond:               pool.BondSymbol,
		BorrowedAmount:     new(big.Int).Set(borrowAmount),
		UnderlyingReceived: new(big.Int).Set(underlyingOut),
	})
	return underlyingOut, nil
}

// borrowAndBuy previews the bond tokens the exact-output purchase will
// consume, borrows precisely that amount, executes the purchase, and
// checks the borrowed amount against the caller's cap after the trade.
func (e *Engine) borrowAndBuy(c Collaborators, caller common.Address, poolID string, underlyingOut, maxHTokenBorrowed *big.Int) (*big.Int, error) {
	pool, err := c.Pool.Pool(poolID)
	if err != nil {
		return nil, err
	}
	if err := positive(underlyingOut); err != nil {
		return nil, err
	}
	needed, err := c.Pool.PreviewTradeExactOut(poolID, pool.UnderlyingSymbol, underlyingOut)
	if err != nil {
		return nil, err
	}
	if err := c.Ledger.Borrow(caller, pool.BondSymbol, needed, e.address); err != nil {
		return nil, err
	}
	realized, err := c.Pool.TradeExactOut(poolID, e.address, pool.UnderlyingSymbol, underlyingOut)
	if err != nil {
		return nil, err
	}
	if maxHTokenBorrowed == nil {
		return nil, ErrInvalidAmount
	}
	if realized.Cmp(maxHTokenBorrowed) > 0 {
		return nil, ErrBoundExceeded
	}
	if err := e.state.TokenTransfer(pool.UnderlyingSymbol, e.address, caller, underlyingOut); err != nil {
		return nil, err
	}
	if err := e.assertNoResidual(pool.BondSymbol, pool.UnderlyingSymbol); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.BorrowAndBuyExecuted{
		OperationID:      uuid.NewString(),
		Caller:           caller,
		Bond:             pool.BondSymbol,
		BorrowedAmount:   new(big.Int).Set(realized),
		UnderlyingBought: new(big.Int).Set(underlyingOut),
	})
	return realized, nil
}
