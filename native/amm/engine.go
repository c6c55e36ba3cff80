package amm

import (
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "github.com/hifi-finance/hifi-proxy-target/native/common"
)

var (
	// ErrNilState indicates the engine has not been wired to a state layer.
	ErrNilState = errors.New("amm engine: state not configured")
	// ErrInvalidAmount indicates a zero, negative, or nil amount.
	ErrInvalidAmount = errors.New("amm engine: amount must be positive")
	// ErrUnknownPool indicates the pool identifier has not been created.
	ErrUnknownPool = errors.New("amm engine: unknown pool")
	// ErrPoolExists indicates the pool identifier is already in use.
	ErrPoolExists = errors.New("amm engine: pool already exists")
	// ErrUnknownToken indicates the token symbol is not one of the pool's
	// two reserve assets.
	ErrUnknownToken = errors.New("amm engine: token not in pool")
	// ErrPoolMatured indicates the pool's bond passed maturity and the
	// trading curve is no longer defined.
	ErrPoolMatured = errors.New("amm engine: pool matured")
	// ErrInsufficientLiquidity indicates reserves cannot satisfy the trade.
	ErrInsufficientLiquidity = errors.New("amm engine: insufficient liquidity")
)

const moduleName = "amm"

type engineState interface {
	GetPool(id string) (*Pool, error)
	PutPool(pool *Pool) error
	TokenTransfer(symbol string, from, to common.Address, amount *big.Int) error
	TokenMint(symbol string, to common.Address, amount *big.Int) error
	TokenBurn(symbol string, from common.Address, amount *big.Int) error
}

// Engine applies trades and liquidity changes to constant-product pools.
// Reserves are escrowed at the module address; per-pool accounting lives in
// the Pool records.
type Engine struct {
	state         engineState
	moduleAddress common.Address
	now           func() time.Time
	pauses        nativecommon.PauseView
}

// NewEngine constructs a pool engine escrowing reserves at the module
// treasury address.
func NewEngine(moduleAddr common.Address) *Engine {
	return &Engine{
		moduleAddress: moduleAddr,
		now:           time.Now,
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetPauses wires the governance pause switches.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetClock overrides the engine clock, primarily for deterministic testing.
func (e *Engine) SetClock(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.now = now
}

// ModuleAddress returns the escrow address holding pool reserves.
func (e *Engine) ModuleAddress() common.Address { return e.moduleAddress }

// CreatePool registers an empty pool for a bond/underlying pair.
func (e *Engine) CreatePool(id, underlying, bond string, maturity uint64, feeBps uint64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	id = strings.TrimSpace(id)
	underlying = strings.TrimSpace(underlying)
	bond = strings.TrimSpace(bond)
	if id == "" || underlying == "" || bond == "" || maturity == 0 {
		return errors.New("amm engine: pool id, tokens, and maturity required")
	}
	if feeBps >= 10_000 {
		return errors.New("amm engine: fee must be below 100%")
	}
	existing, err := e.state.GetPool(id)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrPoolExists
	}
	pool := &Pool{
		ID:               id,
		UnderlyingSymbol: underlying,
		BondSymbol:       bond,
		Maturity:         maturity,
		FeeBps:           feeBps,
	}
	pool.Normalize()
	return e.state.PutPool(pool)
}

// Pool returns a read-only copy of the pool's reserves.
func (e *Engine) Pool(id string) (*Pool, error) {
	pool, err := e.loadPool(id)
	if err != nil {
		return nil, err
	}
	return pool.Clone(), nil
}

func (e *Engine) loadPool(id string) (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	pool, err := e.state.GetPool(strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, ErrUnknownPool
	}
	pool.Normalize()
	return pool, nil
}

func (e *Engine) matured(pool *Pool) bool {
	return uint64(e.now().Unix()) >= pool.Maturity
}

// orient resolves which reserve the given token belongs to, returning the
// counter token and both reserves in (token, counter) order.
func (pool *Pool) orient(token string) (counter string, reserve, counterReserve *big.Int, err error) {
	switch token {
	case pool.UnderlyingSymbol:
		return pool.BondSymbol, pool.UnderlyingReserve, pool.BondReserve, nil
	case pool.BondSymbol:
		return pool.UnderlyingSymbol, pool.BondReserve, pool.UnderlyingReserve, nil
	default:
		return "", nil, nil, ErrUnknownToken
	}
}

// PreviewTradeExactIn quotes the output of an exact-input trade without
// mutating reserves.
func (e *Engine) PreviewTradeExactIn(id, tokenIn string, amountIn *big.Int) (*big.Int, error) {
	pool, err := e.loadPool(id)
	if err != nil {
		return nil, err
	}
	if e.matured(pool) {
		return nil, ErrPoolMatured
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	_, reserveIn, reserveOut, err := pool.orient(tokenIn)
	if err != nil {
		return nil, err
	}
	out := getAmountOut(amountIn, reserveIn, reserveOut, pool.FeeBps)
	if out.Sign() <= 0 || out.Cmp(reserveOut) >= 0 {
		return nil, ErrInsufficientLiquidity
	}
	return out, nil
}

// PreviewTradeExactOut quotes the input of an exact-output trade without
// mutating reserves.
func (e *Engine) PreviewTradeExactOut(id, tokenOut string, amountOut *big.Int) (*big.Int, error) {
	pool, err := e.loadPool(id)
	if err != nil {
		return nil, err
	}
	if e.matured(pool) {
		return nil, ErrPoolMatured
	}
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	_, reserveOut, reserveIn, err := pool.orient(tokenOut)
	if err != nil {
		return nil, err
	}
	if reserveOut.Cmp(amountOut) <= 0 {
		return nil, ErrInsufficientLiquidity
	}
	in := getAmountIn(amountOut, reserveIn, reserveOut, pool.FeeBps)
	if in.Sign() <= 0 {
		return nil, ErrInsufficientLiquidity
	}
	return in, nil
}

// TradeExactIn swaps an exact amount of tokenIn for the counter token and
// returns the realized output.
func (e *Engine) TradeExactIn(id string, trader common.Address, tokenIn string, amountIn *big.Int) (*big.Int, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	pool, err := e.loadPool(id)
	if err != nil {
		return nil, err
	}
	if e.matured(pool) {
		return nil, ErrPoolMatured
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	tokenOut, reserveIn, reserveOut, err := pool.orient(tokenIn)
	if err != nil {
		return nil, err
	}
	amountOut := getAmountOut(amountIn, reserveIn, reserveOut, pool.FeeBps)
	if amountOut.Sign() <= 0 || amountOut.Cmp(reserveOut) >= 0 {
		return nil, ErrInsufficientLiquidity
	}
	if err := e.state.TokenTransfer(tokenIn, trader, e.moduleAddress, amountIn); err != nil {
		return nil, err
	}
	if err := e.state.TokenTransfer(tokenOut, e.moduleAddress, trader, amountOut); err != nil {
		return nil, err
	}
	reserveIn.Add(reserveIn, amountIn)
	reserveOut.Sub(reserveOut, amountOut)
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}
	return amountOut, nil
}

// TradeExactOut swaps the counter token for an exact amount of tokenOut and
// returns the realized input.
func (e *Engine) TradeExactOut(id string, trader common.Address, tokenOut string, amountOut *big.Int) (*big.Int, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	pool, err := e.loadPool(id)
	if err != nil {
		return nil, err
	}
	if e.matured(pool) {
		return nil, ErrPoolMatured
	}
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	tokenIn, reserveOut, reserveIn, err := pool.orient(tokenOut)
	if err != nil {
		return nil, err
	}
	if reserveOut.Cmp(amountOut) <= 0 {
		return nil, ErrInsufficientLiquidity
	}
	amountIn := getAmountIn(amountOut, reserveIn, reserveOut, pool.FeeBps)
	if amountIn.Sign() <= 0 {
		return nil, ErrInsufficientLiquidity
	}
	if err := e.state.TokenTransfer(tokenIn, trader, e.moduleAddress, amountIn); err != nil {
		return nil, err
	}
	if err := e.state.TokenTransfer(tokenOut, e.moduleAddress, trader, amountOut); err != nil {
		return nil, err
	}
	reserveIn.Add(reserveIn, amountIn)
	reserveOut.Sub(reserveOut, amountOut)
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}
	return amountIn, nil
}

// PreviewMint quotes the bond amount that must accompany an underlying
// contribution to preserve the reserve ratio. This is the authoritative
// formula AddLiquidity applies; quote consumers must never approximate it
// independently.
func (e *Engine) PreviewMint(id string, underlyingIn *big.Int) (*big.Int, error) {
	pool, err := e.loadPool(id)
	if err != nil {
		return nil, err
	}
	if e.matured(pool) {
		return nil, ErrPoolMatured
	}
	if underlyingIn == nil || underlyingIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	return bondRequiredForMint(underlyingIn, pool.UnderlyingReserve, pool.BondReserve), nil
}

// AddLiquidity contributes underlying plus the proportional bond amount and
// mints LP shares to the provider. The bond amount actually pulled and the
// shares minted are returned. A bootstrap mint on an empty pool takes
// underlying only.
func (e *Engine) AddLiquidity(id string, provider common.Address, underlyingIn *big.Int) (*big.Int, *big.Int, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	pool, err := e.loadPool(id)
	if err != nil {
		return nil, nil, err
	}
	if e.matured(pool) {
		return nil, nil, ErrPoolMatured
	}
	if underlyingIn == nil || underlyingIn.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}

	bondIn := bondRequiredForMint(underlyingIn, pool.UnderlyingReserve, pool.BondReserve)

	shares := new(big.Int)
	if pool.TotalShares.Sign() == 0 {
		shares.Set(underlyingIn)
	} else {
		shares.Mul(underlyingIn, pool.TotalShares)
		shares.Quo(shares, pool.UnderlyingReserve)
	}
	if shares.Sign() == 0 {
		return nil, nil, ErrInvalidAmount
	}

	if err := e.state.TokenTransfer(pool.UnderlyingSymbol, provider, e.moduleAddress, underlyingIn); err != nil {
		return nil, nil, err
	}
	if bondIn.Sign() > 0 {
		if err := e.state.TokenTransfer(pool.BondSymbol, provider, e.moduleAddress, bondIn); err != nil {
			return nil, nil, err
		}
	}
	if err := e.state.TokenMint(ShareSymbol(pool.ID), provider, shares); err != nil {
		return nil, nil, err
	}

	pool.UnderlyingReserve.Add(pool.UnderlyingReserve, underlyingIn)
	pool.BondReserve.Add(pool.BondReserve, bondIn)
	pool.TotalShares.Add(pool.TotalShares, shares)
	if err := e.state.PutPool(pool); err != nil {
		return nil, nil, err
	}
	return bondIn, shares, nil
}

// RemoveLiquidity burns LP shares and releases the proportional reserves.
// Burning stays open past maturity so providers can always exit.
func (e *Engine) RemoveLiquidity(id string, provider common.Address, shares *big.Int) (*big.Int, *big.Int, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	pool, err := e.loadPool(id)
	if err != nil {
		return nil, nil, err
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	if pool.TotalShares.Sign() == 0 || pool.TotalShares.Cmp(shares) < 0 {
		return nil, nil, ErrInsufficientLiquidity
	}

	underlyingOut := new(big.Int).Mul(shares, pool.UnderlyingReserve)
	underlyingOut.Quo(underlyingOut, pool.TotalShares)
	bondOut := new(big.Int).Mul(shares, pool.BondReserve)
	bondOut.Quo(bondOut, pool.TotalShares)

	if err := e.state.TokenBurn(ShareSymbol(pool.ID), provider, shares); err != nil {
		return nil, nil, err
	}
	if underlyingOut.Sign() > 0 {
		if err := e.state.TokenTransfer(pool.UnderlyingSymbol, e.moduleAddress, provider, underlyingOut); err != nil {
			return nil, nil, err
		}
	}
	if bondOut.Sign() > 0 {
		if err := e.state.TokenTransfer(pool.BondSymbol, e.moduleAddress, provider, bondOut); err != nil {
			return nil, nil, err
		}
	}

	pool.UnderlyingReserve.Sub(pool.UnderlyingReserve, underlyingOut)
	pool.BondReserve.Sub(pool.BondReserve, bondOut)
	pool.TotalShares.Sub(pool.TotalShares, shares)
	if err := e.state.PutPool(pool); err != nil {
		return nil, nil, err
	}
	return underlyingOut, bondOut, nil
}
