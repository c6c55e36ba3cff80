package router

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hifi-finance/hifi-proxy-target/core/events"
	"github.com/hifi-finance/hifi-proxy-target/core/state"
	"github.com/hifi-finance/hifi-proxy-target/native/amm"
	"github.com/hifi-finance/hifi-proxy-target/native/htoken"
	"github.com/hifi-finance/hifi-proxy-target/observability"
)

var (
	// ErrNilState indicates the engine has not been wired to a state layer.
	ErrNilState = errors.New("router engine: state not configured")
	// ErrInvalidAmount indicates a zero, negative, or nil amount.
	ErrInvalidAmount = errors.New("router engine: amount must be positive")
	// ErrBoundExceeded indicates the realized counter-amount of a trade
	// failed the caller's tolerance.
	ErrBoundExceeded = errors.New("router engine: slippage bound violated")
	// ErrResidualBalance indicates the router would finish an operation
	// still holding caller funds. This is a defect guard; hitting it
	// reverts the operation.
	ErrResidualBalance = errors.New("router engine: residual balance after operation")
)

// CollateralLedger is the call surface the router depends on from the
// collateralized-borrowing ledger.
type CollateralLedger interface {
	DepositCollateral(caller common.Address, bond, kind string, amount *big.Int) error
	WithdrawCollateral(caller common.Address, bond, kind string, amount *big.Int) error
	Borrow(caller common.Address, bond string, amount *big.Int, recipient common.Address) error
	Repay(caller common.Address, bond string, amount *big.Int, payer common.Address) (*big.Int, error)
	DebtOf(caller common.Address, bond string) (*big.Int, error)
}

// DebtIssuer is the call surface the router depends on from the fixed-term
// debt-token issuer.
type DebtIssuer interface {
	Bond(symbol string) (*htoken.Bond, error)
	SupplyUnderlying(caller common.Address, symbol string, amount *big.Int) error
	RedeemUnderlying(caller common.Address, symbol string, amount *big.Int) error
}

// MarketMaker is the call surface the router depends on from the AMM pool.
// The pricing curve stays opaque: the router only previews and invokes it,
// never recomputes it.
type MarketMaker interface {
	Pool(id string) (*amm.Pool, error)
	PreviewTradeExactIn(id, tokenIn string, amountIn *big.Int) (*big.Int, error)
	PreviewTradeExactOut(id, tokenOut string, amountOut *big.Int) (*big.Int, error)
	TradeExactIn(id string, trader common.Address, tokenIn string, amountIn *big.Int) (*big.Int, error)
	TradeExactOut(id string, trader common.Address, tokenOut string, amountOut *big.Int) (*big.Int, error)
	PreviewMint(id string, underlyingIn *big.Int) (*big.Int, error)
	AddLiquidity(id string, provider common.Address, underlyingIn *big.Int) (*big.Int, *big.Int, error)
	RemoveLiquidity(id string, provider common.Address, shares *big.Int) (*big.Int, *big.Int, error)
}

// Collaborators bundles the external ledgers an operation runs against.
// The router is collaborator-agnostic: every operation takes the handles
// explicitly rather than binding the engine to one ledger or pool.
type Collaborators struct {
	Ledger CollateralLedger
	Issuer DebtIssuer
	Pool   MarketMaker
}

// Engine composes multi-step operations across the lending ledger, the
// debt-token issuer, and the AMM pool into single atomic units. It holds no
// funds across operations; its only configuration is the wrapper symbol for
// the chain's native value and the module address used for transient
// balances within one call.
type Engine struct {
	state          *state.Manager
	address        common.Address
	wrapperAddress common.Address
	wrapperSymbol  string
	emitter        events.Emitter
	metrics        *observability.RouterMetrics
}

// NewEngine constructs a router over the given state manager. The wrapper
// symbol is fixed for the engine's lifetime.
func NewEngine(st *state.Manager, routerAddr, wrapperAddr common.Address, wrapperSymbol string) *Engine {
	return &Engine{
		state:          st,
		address:        routerAddr,
		wrapperAddress: wrapperAddr,
		wrapperSymbol:  wrapperSymbol,
		emitter:        events.NoopEmitter{},
		metrics:        observability.Router(),
	}
}

// SetEmitter wires the engine to an event sink.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil || emitter == nil {
		return
	}
	e.emitter = emitter
}

// Address returns the module address holding transient balances during a
// composite operation. Callers grant allowances to this address.
func (e *Engine) Address() common.Address { return e.address }

// WrapperSymbol returns the token symbol of the wrapped native asset.
// Callers that deposit wrapped collateral directly pre-approve transfers of
// this token.
func (e *Engine) WrapperSymbol() string { return e.wrapperSymbol }

// run executes fn inside a state snapshot. Any error unwinds every write
// the operation staged, so a failed composite has no partial effect.
func (e *Engine) run(op string, fn func() error) error {
	start := time.Now()
	if e == nil || e.state == nil {
		return ErrNilState
	}
	snapshot := e.state.Snapshot()
	err := fn()
	if err != nil {
		e.state.RevertToSnapshot(snapshot)
	}
	e.metrics.Observe(op, start, err)
	return err
}

// spendAllowance consumes the caller's grant to the router for funds an
// operation moved out of the caller's balance. Failing the grant aborts
// (and therefore reverts) the operation.
func (e *Engine) spendAllowance(symbol string, owner common.Address, amount *big.Int) error {
	return e.state.UseAllowance(symbol, owner, e.address, amount)
}

// assertNoResidual verifies the router's own holdings of the given tokens
// returned to zero before an operation completes.
func (e *Engine) assertNoResidual(symbols ...string) error {
	for _, symbol := range symbols {
		balance, err := e.state.TokenBalance(symbol, e.address)
		if err != nil {
			return err
		}
		if balance.Sign() != 0 {
			return ErrResidualBalance
		}
	}
	return nil
}

func positive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
