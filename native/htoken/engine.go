package htoken

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
	ErrNilState = errors.New("htoken engine: state not configured")
	// ErrInvalidAmount indicates a zero, negative, or nil amount.
	ErrInvalidAmount = errors.New("htoken engine: amount must be positive")
	// ErrUnknownBond indicates the bond symbol has not been registered.
	ErrUnknownBond = errors.New("htoken engine: unknown bond")
	// ErrBondExists indicates a bond symbol is already registered.
	ErrBondExists = errors.New("htoken engine: bond already registered")
	// ErrBondMatured indicates the instrument expired and can no longer be
	// minted or traded against.
	ErrBondMatured = errors.New("htoken engine: bond matured")
	// ErrBondNotMatured indicates redemption was attempted before maturity.
	ErrBondNotMatured = errors.New("htoken engine: bond not matured")
)

const moduleName = "htoken"

type engineState interface {
	GetBond(symbol string) (*Bond, error)
	PutBond(bond *Bond) error
	TokenMint(symbol string, to common.Address, amount *big.Int) error
	TokenBurn(symbol string, from common.Address, amount *big.Int) error
	TokenTransfer(symbol string, from, to common.Address, amount *big.Int) error
}

// Engine issues and settles fixed-term bond tokens. Supplied underlying is
// escrowed at the module address until redemption.
type Engine struct {
	state         engineState
	moduleAddress common.Address
	now           func() time.Time
	pauses        nativecommon.PauseView
}

// NewEngine constructs an issuer engine escrowing underlying at the module
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

// ModuleAddress returns the escrow address holding supplied underlying.
func (e *Engine) ModuleAddress() common.Address { return e.moduleAddress }

// RegisterBond records a new fixed-term instrument.
func (e *Engine) RegisterBond(symbol, underlying string, maturity uint64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	symbol = strings.TrimSpace(symbol)
	underlying = strings.TrimSpace(underlying)
	if symbol == "" || underlying == "" || maturity == 0 {
		return errors.New("htoken engine: bond symbol, underlying, and maturity required")
	}
	existing, err := e.state.GetBond(symbol)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrBondExists
	}
	return e.state.PutBond(&Bond{Symbol: symbol, Underlying: underlying, Maturity: maturity})
}

// Bond resolves a registered bond by symbol.
func (e *Engine) Bond(symbol string) (*Bond, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	bond, err := e.state.GetBond(strings.TrimSpace(symbol))
	if err != nil {
		return nil, err
	}
	if bond == nil {
		return nil, ErrUnknownBond
	}
	return bond, nil
}

// IsMatured reports whether the instrument has passed its maturity cutoff.
func (e *Engine) IsMatured(bond *Bond) bool {
	if bond == nil {
		return false
	}
	return uint64(e.now().Unix()) >= bond.Maturity
}

// SupplyUnderlying escrows underlying from the caller and mints the bond
// token 1:1. Minting stops at maturity.
func (e *Engine) SupplyUnderlying(caller common.Address, symbol string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	bond, err := e.Bond(symbol)
	if err != nil {
		return err
	}
	if e.IsMatured(bond) {
		return ErrBondMatured
	}
	if err := e.state.TokenTransfer(bond.Underlying, caller, e.moduleAddress, amount); err != nil {
		return err
	}
	return e.state.TokenMint(bond.Symbol, caller, amount)
}

// RedeemUnderlying burns the caller's bond tokens and releases escrowed
// underlying 1:1. Redemption opens at maturity.
func (e *Engine) RedeemUnderlying(caller common.Address, symbol string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	bond, err := e.Bond(symbol)
	if err != nil {
		return err
	}
	if !e.IsMatured(bond) {
		return ErrBondNotMatured
	}
	if err := e.state.TokenBurn(bond.Symbol, caller, amount); err != nil {
		return err
	}
	return e.state.TokenTransfer(bond.Underlying, e.moduleAddress, caller, amount)
}

// Mint creates bond tokens without escrow. Only the lending ledger calls
// this, to originate debt; origination stops at maturity.
func (e *Engine) Mint(symbol string, to common.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	bond, err := e.Bond(symbol)
	if err != nil {
		return err
	}
	if e.IsMatured(bond) {
		return ErrBondMatured
	}
	return e.state.TokenMint(bond.Symbol, to, amount)
}

// Burn destroys bond tokens held by from. The lending ledger calls this
// when debt is repaid; it stays open past maturity so outstanding debt can
// always be settled.
func (e *Engine) Burn(symbol string, from common.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	bond, err := e.Bond(symbol)
	if err != nil {
		return err
	}
	return e.state.TokenBurn(bond.Symbol, from, amount)
}
