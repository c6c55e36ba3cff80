package router

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hifi-finance/hifi-proxy-target/core/events"
	"github.com/hifi-finance/hifi-proxy-target/core/state"
	"github.com/hifi-finance/hifi-proxy-target/core/types"
	"github.com/hifi-finance/hifi-proxy-target/native/amm"
	nativecommon "github.com/hifi-finance/hifi-proxy-target/native/common"
	"github.com/hifi-finance/hifi-proxy-target/native/htoken"
	"github.com/hifi-finance/hifi-proxy-target/native/lending"
	"github.com/hifi-finance/hifi-proxy-target/storage"
)

const (
	testPoolID   = "usdc-husdc-2027"
	testUnder    = "USDC"
	testBond     = "hUSDC-2027"
	testKind     = "WETH"
	testWrapper  = "WNATIVE"
	testMaturity = uint64(1800000000)
)

type harness struct {
	manager *state.Manager
	engine  *Engine
	c       Collaborators
	issuer  *htoken.Engine
	pool    *amm.Engine
	lp      common.Address
}

func testAddr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

// newHarness wires the full trio behind a router and seeds the pool with
// 100000 underlying against 100000 bond tokens at zero fee.
func newHarness(t *testing.T) *harness {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	clock := func() time.Time { return time.Unix(int64(testMaturity)-86400, 0) }

	issuer := htoken.NewEngine(nativecommon.ModuleAddress("htoken"))
	issuer.SetState(htoken.NewStore(manager))
	issuer.SetClock(clock)
	if err := issuer.RegisterBond(testBond, testUnder, testMaturity); err != nil {
		t.Fatalf("register bond: %v", err)
	}

	params := lending.RiskParameters{CollateralRatios: map[string]uint64{
		testKind:    15_000,
		testWrapper: 20_000,
	}}
	ledger := lending.NewEngine(nativecommon.ModuleAddress("lending"), params)
	ledger.SetState(lending.NewStore(manager))
	ledger.SetIssuer(issuer)

	pool := amm.NewEngine(nativecommon.ModuleAddress("amm"))
	pool.SetState(amm.NewStore(manager))
	pool.SetClock(clock)
	if err := pool.CreatePool(testPoolID, testUnder, testBond, testMaturity, 0); err != nil {
		t.Fatalf("create pool: %v", err)
	}

	lp := testAddr(0x99)
	if err := manager.TokenMint(testUnder, lp, big.NewInt(100000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, _, err := pool.AddLiquidity(testPoolID, lp, big.NewInt(100000)); err != nil {
		t.Fatalf("bootstrap liquidity: %v", err)
	}
	store := amm.NewStore(manager)
	record, err := store.GetPool(testPoolID)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	record.BondReserve = big.NewInt(100000)
	if err := store.PutPool(record); err != nil {
		t.Fatalf("put pool: %v", err)
	}
	if err := manager.TokenMint(testBond, nativecommon.ModuleAddress("amm"), big.NewInt(100000)); err != nil {
		t.Fatalf("seed bond reserve: %v", err)
	}

	engine := NewEngine(manager, nativecommon.ModuleAddress("router"), nativecommon.ModuleAddress("wrapper"), testWrapper)
	return &harness{
		manager: manager,
		engine:  engine,
		c:       Collaborators{Ledger: ledger, Issuer: issuer, Pool: pool},
		issuer:  issuer,
		pool:    pool,
		lp:      lp,
	}
}

func (h *harness) approve(t *testing.T, symbol string, owner common.Address, amount int64) {
	t.Helper()
	if err := h.manager.TokenApprove(symbol, owner, h.engine.Address(), big.NewInt(amount)); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

func (h *harness) balance(t *testing.T, symbol string, owner common.Address) *big.Int {
	t.Helper()
	balance, err := h.manager.TokenBalance(symbol, owner)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return balance
}

func (h *harness) reserves(t *testing.T) (*big.Int, *big.Int) {
	t.Helper()
	pool, err := h.pool.Pool(testPoolID)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return pool.UnderlyingReserve, pool.BondReserve
}

func TestDepositAndBorrowAndSell(t *testing.T) {
	h := newHarness(t)
	caller := testAddr(0x01)
	if err := h.manager.TokenMint(testKind, caller, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	h.approve(t, testKind, caller, 1000)

	// Selling 500 bond tokens into 100000/100000 reserves yields 497.
	out, err := h.engine.DepositAndBorrowAndSell(h.c, caller, testPoolID, testKind, big.NewInt(1000), big.NewInt(500), big.NewInt(480))
	if err != nil {
		t.Fatalf("operation failed: %v", err)
	}
	if out.Cmp(big.NewInt(497)) != 0 {
		t.Fatalf("expected 497 underlying, got %s", out)
	}

	if got := h.balance(t, testUnder, caller); got.Cmp(big.NewInt(497)) != 0 {
		t.Fatalf("caller underlying: expected 497, got %s", got)
	}
	debt, err := h.c.Ledger.DebtOf(caller, testBond)
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	if debt.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected debt 500, got %s", debt)
	}
	if got := h.balance(t, testKind, caller); got.Sign() != 0 {
		t.Fatalf("expected all collateral locked, caller holds %s", got)
	}
	// The router holds nothing between operations.
	if got := h.balance(t, testBond, h.engine.Address()); got.Sign() != 0 {
		t.Fatalf("router bond residue %s", got)
	}
	if got := h.balance(t, testUnder, h.engine.Address()); got.Sign() != 0 {
		t.Fatalf("router underlying residue %s", got)
	}
}

func TestDepositAndBorrowAndSellBoundRevertsEverything(t *testing.T) {
	h := newHarness(t)
	caller := testAddr(0x01)
	if err := h.manager.TokenMint(testKind, caller, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	h.approve(t, testKind, caller, 1000)

	_, err := h.engine.DepositAndBorrowAndSell(h.c, caller, testPoolID, testKind, big.NewInt(1000), big.NewInt(500), big.NewInt(498))
	if !errors.Is(err, ErrBoundExceeded) {
		t.Fatalf("expected ErrBoundExceeded, got %v", err)
	}

	// Every intermediate step must have unwound.
	if got := h.balance(t, testKind, caller); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("collateral not restored: %s", got)
	}
	allowance, err := h.manager.TokenAllowance(testKind, caller, h.engine.Address())
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if allowance.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("allowance not restored: %s", allowance)
	}
	debt, err := h.c.Ledger.DebtOf(caller, testBond)
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	if debt.Sign() != 0 {
		t.Fatalf("debt not reverted: %s", debt)
	}
	underlying, bond := h.reserves(t)
	if underlying.Cmp(big.NewInt(100000)) != 0 || bond.Cmp(big.NewInt(100000)) != 0 {
		t.Fatalf("reserves not reverted: %s/%s", underlying, bond)
	}
	if got := h.balance(t, testUnder, caller); got.Sign() != 0 {
		t.Fatalf("caller holds proceeds from reverted trade: %s", got)
	}
}

func TestBuyHTokenBounds(t *testing.T) {
	h := newHarness(t)
	caller := testAddr(0x02)
	if err := h.manager.TokenMint(testUnder, caller, big.NewInt(2000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	h.approve(t, testUnder, caller, 2000)

	// Buying 1000 bond tokens costs 1011 underlying.
	if _, err := h.engine.BuyHToken(h.c, caller, testPoolID, big.NewInt(1000), big.NewInt(1000)); !errors.Is(err, ErrBoundExceeded) {
		t.Fatalf("expected ErrBoundExceeded, got %v", err)
	}
	if got := h.balance(t, testUnder, caller); got.Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("balance not reverted: %s", got)
	}

	in, err := h.engine.BuyHToken(h.c, caller, testPoolID, big.NewInt(1000), big.NewInt(1100))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if in.Cmp(big.NewInt(1011)) != 0 {
		t.Fatalf("expected realized input 1011, got %s", in)
	}
	if got := h.balance(t, testBond, caller); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected exact bond output, got %s", got)
	}
	// The allowance is consumed at the realized amount, not the cap.
	allowance, _ := h.manager.TokenAllowance(testUnder, caller, h.engine.Address())
	if allowance.Cmp(big.NewInt(989)) != 0 {
		t.Fatalf("expected allowance 989 remaining, got %s", allowance)
	}
}

func TestSellHTokenRequiresAllowance(t *testing.T) {
	h := newHarness(t)
	caller := testAddr(0x03)
	if err := h.manager.TokenMint(testBond, caller, big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	_, err := h.engine.SellHToken(h.c, caller, testPoolID, big.NewInt(500), big.NewInt(1))
	if !errors.Is(err, state.ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}

	h.approve(t, testBond, caller, 500)
	out, err := h.engine.SellHToken(h.c, caller, testPoolID, big.NewInt(500), big.NewInt(480))
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if out.Cmp(big.NewInt(497)) != 0 {
		t.Fatalf("expected 497, got %s", out)
	}
}

func TestBorrowAndBuyUnderlyingLeavesNoResidual(t *testing.T) {
	h := newHarness(t)
	caller := testAddr(0x04)
	if err := h.manager.TokenMint(testKind, caller, big.NewInt(1500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	h.approve(t, testKind, caller, 1500)
	if err := h.engine.DepositCollateral(h.c, caller, testBond, testKind, big.NewInt(1500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// Buying 500 underlying out of 100000/100000 costs 503 bond tokens.
	borrowed, err := h.engine.BorrowAndBuyUnderlying(h.c, caller, testPoolID, big.NewInt(500), big.NewInt(600))
	if err != nil {
		t.Fatalf("operation failed: %v", err)
	}
	if borrowed.Cmp(big.NewInt(503)) != 0 {
		t.Fatalf("expected borrowed 503, got %s", borrowed)
	}
	if got := h.balance(t, testUnder, caller); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected exact underlying output, got %s", got)
	}
	debt, _ := h.c.Ledger.DebtOf(caller, testBond)
	if debt.Cmp(big.NewInt(503)) != 0 {
		t.Fatalf("expected debt 503, got %s", debt)
	}
	if got := h.balance(t, testBond, h.engine.Address()); got.Sign() != 0 {
		t.Fatalf("router bond residue %s", got)
	}

	// A cap below the preview reverts before any state sticks.
	if _, err := h.engine.BorrowAndBuyUnderlying(h.c, caller, testPoolID, big.NewInt(500), big.NewInt(100)); !errors.Is(err, ErrBoundExceeded) {
		t.Fatalf("expected ErrBoundExceeded, got %v", err)
	}
	debt, _ = h.c.Ledger.DebtOf(caller, testBond)
	if debt.Cmp(big.NewInt(503)) != 0 {
		t.Fatalf("debt changed by reverted operation: %s", debt)
	}
}

func TestQuoteHTokenRequiredForMint(t *testing.T) {
	h := newHarness(t)
	required, err := h.engine.QuoteHTokenRequiredForMint(h.c, testPoolID, big.NewInt(5000))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if required.Cmp(big.NewInt(5000)) != 0 {
		t.Fatalf("expected 5000 at 1:1 reserves, got %s", required)
	}
}

func TestBorrowAndAddLiquidityBorrowsExactlyTheQuote(t *testing.T) {
	h := newHarness(t)
	caller := testAddr(0x05)
	if err := h.manager.TokenMint(testKind, caller, big.NewInt(1500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	h.approve(t, testKind, caller, 1500)
	if err := h.engine.DepositCollateral(h.c, caller, testBond, testKind, big.NewInt(1500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := h.manager.TokenMint(testUnder, caller, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	h.approve(t, testUnder, caller, 1000)

	// A cap below the quoted pairing fails without touching state.
	if _, err := h.engine.BorrowAndAddLiquidity(h.c, caller, testPoolID, big.NewInt(1000), big.NewInt(999)); !errors.Is(err, ErrBoundExceeded) {
		t.Fatalf("expected ErrBoundExceeded, got %v", err)
	}
	debt, _ := h.c.Ledger.DebtOf(caller, testBond)
	if debt.Sign() != 0 {
		t.Fatalf("debt booked by rejected operation: %s", debt)
	}

	shares, err := h.engine.BorrowAndAddLiquidity(h.c, caller, testPoolID, big.NewInt(1000), big.NewInt(1000))
	if err != nil {
		t.Fatalf("operation failed: %v", err)
	}
	if shares.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected 1000 shares, got %s", shares)
	}
	if got := h.balance(t, amm.ShareSymbol(testPoolID), caller); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("shares not forwarded: %s", got)
	}
	// The borrow is sized by the quote, so exactly 1000 debt exists and
	// no borrowed balance is left anywhere.
	debt, _ = h.c.Ledger.DebtOf(caller, testBond)
	if debt.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected debt 1000, got %s", debt)
	}
	if got := h.balance(t, testBond, caller); got.Sign() != 0 {
		t.Fatalf("caller holds unused borrow: %s", got)
	}
	if got := h.balance(t, testBond, h.engine.Address()); got.Sign() != 0 {
		t.Fatalf("router holds unused borrow: %s", got)
	}
}

func TestSellUnderlyingAndRepayClampsAndKeepsSurplus(t *testing.T) {
	h := newHarness(t)
	caller := testAddr(0x06)
	if err := h.manager.TokenMint(testKind, caller, big.NewInt(1500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	h.approve(t, testKind, caller, 1500)
	if err := h.engine.DepositAndBorrow(h.c, caller, testBond, testKind, big.NewInt(1500), big.NewInt(400)); err != nil {
		t.Fatalf("deposit and borrow: %v", err)
	}

	if err := h.manager.TokenMint(testUnder, caller, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	h.approve(t, testUnder, caller, 1000)

	// Selling 1000 underlying yields 990 bond tokens; only 400 of debt
	// exists, so the rest stays with the caller.
	applied, err := h.engine.SellUnderlyingAndRepay(h.c, caller, testPoolID, big.NewInt(1000), big.NewInt(900))
	if err != nil {
		t.Fatalf("operation failed: %v", err)
	}
	if applied.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("expected applied 400, got %s", applied)
	}
	debt, _ := h.c.Ledger.DebtOf(caller, testBond)
	if debt.Sign() != 0 {
		t.Fatalf("expected debt cleared, got %s", debt)
	}
	// 400 borrowed + 990 traded - 400 burned.
	if got := h.balance(t, testBond, caller); got.Cmp(big.NewInt(990)) != 0 {
		t.Fatalf("expected surplus 990 bond tokens, got %s", got)
	}
}

func TestRemoveLiquidityAndSellHToken(t *testing.T) {
	h := newHarness(t)
	h.approve(t, amm.ShareSymbol(testPoolID), h.lp, 10000)

	// 10000 of 100000 shares redeem 10000 underlying plus 10000 bond;
	// the bond side sells into 90000/90000 reserves for 9000 more.
	total, err := h.engine.RemoveLiquidityAndSellHToken(h.c, h.lp, testPoolID, big.NewInt(10000), big.NewInt(18000))
	if err != nil {
		t.Fatalf("operation failed: %v", err)
	}
	if total.Cmp(big.NewInt(19000)) != 0 {
		t.Fatalf("expected 19000 underlying, got %s", total)
	}
	if got := h.balance(t, testUnder, h.lp); got.Cmp(big.NewInt(19000)) != 0 {
		t.Fatalf("proceeds not forwarded: %s", got)
	}
	if got := h.balance(t, amm.ShareSymbol(testPoolID), h.engine.Address()); got.Sign() != 0 {
		t.Fatalf("router share residue %s", got)
	}
	if got := h.balance(t, testBond, h.engine.Address()); got.Sign() != 0 {
		t.Fatalf("router bond residue %s", got)
	}
}

func TestWrapAndDepositCollateralRoundTrip(t *testing.T) {
	h := newHarness(t)
	caller := testAddr(0x07)
	account, err := h.manager.GetAccount(caller)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	account.Balance = big.NewInt(1000)
	if err := h.manager.PutAccount(caller, account); err != nil {
		t.Fatalf("put account: %v", err)
	}

	if err := h.engine.WrapAndDepositCollateral(h.c, caller, testBond, big.NewInt(600)); err != nil {
		t.Fatalf("wrap and deposit: %v", err)
	}
	account, _ = h.manager.GetAccount(caller)
	if account.Balance.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("expected native 400 left, got %s", account.Balance)
	}

	if err := h.engine.WithdrawCollateralAndUnwrap(h.c, caller, testBond, big.NewInt(600)); err != nil {
		t.Fatalf("withdraw and unwrap: %v", err)
	}
	account, _ = h.manager.GetAccount(caller)
	if account.Balance.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected native restored, got %s", account.Balance)
	}
	if got := h.balance(t, testWrapper, caller); got.Sign() != 0 {
		t.Fatalf("wrapped tokens left over: %s", got)
	}
}

func TestTradeAfterMaturityFails(t *testing.T) {
	h := newHarness(t)
	expired := func() time.Time { return time.Unix(int64(testMaturity)+1, 0) }
	h.pool.SetClock(expired)
	h.issuer.SetClock(expired)

	caller := testAddr(0x08)
	if err := h.manager.TokenMint(testBond, caller, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	h.approve(t, testBond, caller, 100)
	if _, err := h.engine.SellHToken(h.c, caller, testPoolID, big.NewInt(100), big.NewInt(1)); !errors.Is(err, amm.ErrPoolMatured) {
		t.Fatalf("expected ErrPoolMatured, got %v", err)
	}

	// Liquidity exit stays open.
	h.approve(t, amm.ShareSymbol(testPoolID), h.lp, 1000)
	if _, err := h.engine.RemoveLiquidityAndSellHToken(h.c, h.lp, testPoolID, big.NewInt(1000), big.NewInt(1)); !errors.Is(err, amm.ErrPoolMatured) {
		t.Fatalf("expected ErrPoolMatured when selling the bond side, got %v", err)
	}
}

func TestEventEmittedOnBorrowAndSell(t *testing.T) {
	h := newHarness(t)
	var captured []*types.Event
	h.engine.SetEmitter(captureEmitter{sink: &captured})

	caller := testAddr(0x09)
	if err := h.manager.TokenMint(testKind, caller, big.NewInt(1500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	h.approve(t, testKind, caller, 1500)
	if err := h.engine.DepositCollateral(h.c, caller, testBond, testKind, big.NewInt(1500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := h.engine.BorrowAndSellHToken(h.c, caller, testPoolID, big.NewInt(500), big.NewInt(480)); err != nil {
		t.Fatalf("operation failed: %v", err)
	}

	if len(captured) != 1 {
		t.Fatalf("expected one event, got %d", len(captured))
	}
	evt := captured[0]
	if evt.Attributes["borrowedAmount"] != "500" {
		t.Fatalf("unexpected borrowed amount: %q", evt.Attributes["borrowedAmount"])
	}
	if evt.Attributes["operationId"] == "" {
		t.Fatalf("expected an operation id")
	}
}

func TestBuyUnderlyingBounds(t *testing.T) {
	h := newHarness(t)
	caller := testAddr(0x0a)
	if err := h.manager.TokenMint(testBond, caller, big.NewInt(2000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	h.approve(t, testBond, caller, 2000)

	// Buying 500 underlying out of 100000/100000 costs 503 bond tokens.
	if _, err := h.engine.BuyUnderlying(h.c, caller, testPoolID, big.NewInt(500), big.NewInt(502)); !errors.Is(err, ErrBoundExceeded) {
		t.Fatalf("expected ErrBoundExceeded, got %v", err)
	}
	if got := h.balance(t, testBond, caller); got.Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("balance not reverted: %s", got)
	}
	underlying, bond := h.reserves(t)
	if underlying.Cmp(big.NewInt(100000)) != 0 || bond.Cmp(big.NewInt(100000)) != 0 {
		t.Fatalf("reserves not reverted: %s/%s", underlying, bond)
	}

	in, err := h.engine.BuyUnderlying(h.c, caller, testPoolID, big.NewInt(500), big.NewInt(600))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if in.Cmp(big.NewInt(503)) != 0 {
		t.Fatalf("expected realized input 503, got %s", in)
	}
	if got := h.balance(t, testUnder, caller); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected exact underlying output, got %s", got)
	}
	allowance, _ := h.manager.TokenAllowance(testBond, caller, h.engine.Address())
	if allowance.Cmp(big.NewInt(1497)) != 0 {
		t.Fatalf("expected allowance 1497 remaining, got %s", allowance)
	}
}

func TestBuyHTokenAndRepayClampsToDebt(t *testing.T) {
	h := newHarness(t)
	caller := testAddr(0x0b)
	if err := h.manager.TokenMint(testKind, caller, big.NewInt(1500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	h.approve(t, testKind, caller, 1500)
	if err := h.engine.DepositAndBorrow(h.c, caller, testBond, testKind, big.NewInt(1500), big.NewInt(400)); err != nil {
		t.Fatalf("deposit and borrow: %v", err)
	}
	if err := h.manager.TokenMint(testUnder, caller, big.NewInt(2000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	h.approve(t, testUnder, caller, 2000)

	// Buying 1000 bond tokens costs 1011 underlying; a cap below that
	// reverts without touching the debt.
	if _, err := h.engine.BuyHTokenAndRepay(h.c, caller, testPoolID, big.NewInt(1000), big.NewInt(1000)); !errors.Is(err, ErrBoundExceeded) {
		t.Fatalf("expected ErrBoundExceeded, got %v", err)
	}
	debt, _ := h.c.Ledger.DebtOf(caller, testBond)
	if debt.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("debt changed by reverted operation: %s", debt)
	}

	applied, err := h.engine.BuyHTokenAndRepay(h.c, caller, testPoolID, big.NewInt(1000), big.NewInt(1100))
	if err != nil {
		t.Fatalf("operation failed: %v", err)
	}
	if applied.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("expected applied 400, got %s", applied)
	}
	debt, _ = h.c.Ledger.DebtOf(caller, testBond)
	if debt.Sign() != 0 {
		t.Fatalf("expected debt cleared, got %s", debt)
	}
	// 400 borrowed + 1000 bought - 400 burned stays with the caller.
	if got := h.balance(t, testBond, caller); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected surplus 1000 bond tokens, got %s", got)
	}
	// The allowance is consumed at the realized cost, not the cap.
	allowance, _ := h.manager.TokenAllowance(testUnder, caller, h.engine.Address())
	if allowance.Cmp(big.NewInt(989)) != 0 {
		t.Fatalf("expected allowance 989 remaining, got %s", allowance)
	}
	if got := h.balance(t, testBond, h.engine.Address()); got.Sign() != 0 {
		t.Fatalf("router bond residue %s", got)
	}
}

func TestRemoveLiquidityAndRepayForwardsLeftover(t *testing.T) {
	h := newHarness(t)
	if err := h.manager.TokenMint(testKind, h.lp, big.NewInt(1500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	h.approve(t, testKind, h.lp, 1500)
	if err := h.engine.DepositAndBorrow(h.c, h.lp, testBond, testKind, big.NewInt(1500), big.NewInt(400)); err != nil {
		t.Fatalf("deposit and borrow: %v", err)
	}
	h.approve(t, amm.ShareSymbol(testPoolID), h.lp, 10000)

	// 10000 shares redeem 10000 underlying plus 10000 bond; the underlying
	// side sells into 90000/90000 reserves for 9000 more bond tokens. A
	// min-out above that reverts the whole chain.
	_, err := h.engine.RemoveLiquidityAndRepay(h.c, h.lp, testPoolID, big.NewInt(10000), big.NewInt(9001))
	if !errors.Is(err, ErrBoundExceeded) {
		t.Fatalf("expected ErrBoundExceeded, got %v", err)
	}
	if got := h.balance(t, amm.ShareSymbol(testPoolID), h.lp); got.Cmp(big.NewInt(100000)) != 0 {
		t.Fatalf("shares not restored: %s", got)
	}
	debt, _ := h.c.Ledger.DebtOf(h.lp, testBond)
	if debt.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("debt changed by reverted operation: %s", debt)
	}

	applied, err := h.engine.RemoveLiquidityAndRepay(h.c, h.lp, testPoolID, big.NewInt(10000), big.NewInt(9000))
	if err != nil {
		t.Fatalf("operation failed: %v", err)
	}
	if applied.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("expected applied 400, got %s", applied)
	}
	debt, _ = h.c.Ledger.DebtOf(h.lp, testBond)
	if debt.Sign() != 0 {
		t.Fatalf("expected debt cleared, got %s", debt)
	}
	// 400 borrowed earlier plus the 18600 redeemed beyond the debt.
	if got := h.balance(t, testBond, h.lp); got.Cmp(big.NewInt(19000)) != 0 {
		t.Fatalf("leftover not forwarded: %s", got)
	}
	if got := h.balance(t, amm.ShareSymbol(testPoolID), h.lp); got.Cmp(big.NewInt(90000)) != 0 {
		t.Fatalf("expected 90000 shares remaining, got %s", got)
	}
	if got := h.balance(t, testBond, h.engine.Address()); got.Sign() != 0 {
		t.Fatalf("router bond residue %s", got)
	}
	if got := h.balance(t, testUnder, h.engine.Address()); got.Sign() != 0 {
		t.Fatalf("router underlying residue %s", got)
	}
	if got := h.balance(t, amm.ShareSymbol(testPoolID), h.engine.Address()); got.Sign() != 0 {
		t.Fatalf("router share residue %s", got)
	}
}

func TestWrapAndDepositAndBorrowAndSell(t *testing.T) {
	h := newHarness(t)
	caller := testAddr(0x0c)
	account, err := h.manager.GetAccount(caller)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	account.Balance = big.NewInt(2000)
	if err := h.manager.PutAccount(caller, account); err != nil {
		t.Fatalf("put account: %v", err)
	}

	out, err := h.engine.WrapAndDepositAndBorrowAndSell(h.c, caller, testPoolID, big.NewInt(1500), big.NewInt(500), big.NewInt(480))
	if err != nil {
		t.Fatalf("operation failed: %v", err)
	}
	if out.Cmp(big.NewInt(497)) != 0 {
		t.Fatalf("expected 497 underlying, got %s", out)
	}
	account, _ = h.manager.GetAccount(caller)
	if account.Balance.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected native 500 left, got %s", account.Balance)
	}
	// The whole wrapped amount is locked as collateral.
	if got := h.balance(t, testWrapper, caller); got.Sign() != 0 {
		t.Fatalf("wrapped tokens left with caller: %s", got)
	}
	debt, _ := h.c.Ledger.DebtOf(caller, testBond)
	if debt.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected debt 500, got %s", debt)
	}
	if got := h.balance(t, testUnder, caller); got.Cmp(big.NewInt(497)) != 0 {
		t.Fatalf("proceeds not forwarded: %s", got)
	}
	if got := h.balance(t, testBond, h.engine.Address()); got.Sign() != 0 {
		t.Fatalf("router bond residue %s", got)
	}
	if got := h.balance(t, testWrapper, h.engine.Address()); got.Sign() != 0 {
		t.Fatalf("router wrapper residue %s", got)
	}
}

func TestNilBoundIsRejectedAsInvalidAmount(t *testing.T) {
	h := newHarness(t)
	caller := testAddr(0x0d)
	if err := h.manager.TokenMint(testBond, caller, big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	h.approve(t, testBond, caller, 500)

	if _, err := h.engine.SellHToken(h.c, caller, testPoolID, big.NewInt(500), nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if got := h.balance(t, testBond, caller); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("balance not reverted: %s", got)
	}
	if _, err := h.engine.BuyUnderlying(h.c, caller, testPoolID, big.NewInt(100), nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

type captureEmitter struct {
	sink *[]*types.Event
}

func (c captureEmitter) Emit(evt events.Event) {
	*c.sink = append(*c.sink, evt.Event())
}
