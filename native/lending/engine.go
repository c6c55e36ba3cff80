package lending

import (
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "github.com/hifi-finance/hifi-proxy-target/native/common"
)

var (
	// ErrNilState indicates the engine has not been wired to a state layer.
	ErrNilState = errors.New("lending engine: state not configured")
	// ErrInvalidAmount indicates a zero, negative, or nil amount.
	ErrInvalidAmount = errors.New("lending engine: amount must be positive")
	// ErrUnknownCollateral indicates the collateral kind is not accepted.
	ErrUnknownCollateral = errors.New("lending engine: unknown collateral kind")
	// ErrInsufficientCollateral indicates the vault would fall below the
	// required collateralization ratio.
	ErrInsufficientCollateral = errors.New("lending engine: insufficient collateral")
	// ErrNoDebtToRepay indicates the vault carries no outstanding debt.
	ErrNoDebtToRepay = errors.New("lending engine: no outstanding debt to repay")
)

var basisPoints = big.NewInt(10_000)

const moduleName = "lending"

type engineState interface {
	GetVault(bond string, addr common.Address) (*Vault, error)
	PutVault(vault *Vault) error
	TokenTransfer(symbol string, from, to common.Address, amount *big.Int) error
}

// debtIssuer is the slice of the hToken issuer the ledger needs: debt is
// originated by minting bond tokens and extinguished by burning them. The
// issuer rejects unknown bonds and matured instruments on its own.
type debtIssuer interface {
	Mint(symbol string, to common.Address, amount *big.Int) error
	Burn(symbol string, from common.Address, amount *big.Int) error
}

// Engine orchestrates the collateral ledger: vault deposits, withdrawals,
// borrows, and repayments per (borrower, collateral kind, bond).
type Engine struct {
	state             engineState
	issuer            debtIssuer
	collateralAddress common.Address
	params            RiskParameters
	pauses            nativecommon.PauseView
}

// NewEngine constructs a ledger engine escrowing collateral at the module
// treasury address under the supplied risk parameters.
func NewEngine(collateralAddr common.Address, params RiskParameters) *Engine {
	return &Engine{
		collateralAddress: collateralAddr,
		params:            params.Clone(),
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetIssuer wires the engine to the debt-token issuer.
func (e *Engine) SetIssuer(issuer debtIssuer) { e.issuer = issuer }

// SetPauses wires the governance pause switches.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// CollateralAddress returns the escrow address holding locked collateral.
func (e *Engine) CollateralAddress() common.Address { return e.collateralAddress }

// CollateralRatio reports the required ratio for a collateral kind.
func (e *Engine) CollateralRatio(kind string) (uint64, bool) {
	ratio, ok := e.params.CollateralRatios[kind]
	return ratio, ok
}

// DepositCollateral locks collateral of the given kind inside the caller's
// vault for the bond.
func (e *Engine) DepositCollateral(caller common.Address, bond, kind string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	kind = strings.TrimSpace(kind)
	if _, ok := e.params.CollateralRatios[kind]; !ok {
		return ErrUnknownCollateral
	}
	vault, err := e.ensureVault(bond, caller)
	if err != nil {
		return err
	}
	if err := e.state.TokenTransfer(kind, caller, e.collateralAddress, amount); err != nil {
		return err
	}
	vault.setLot(kind, new(big.Int).Add(vault.lot(kind), amount))
	return e.state.PutVault(vault)
}

// WithdrawCollateral releases collateral back to the caller while ensuring
// the vault stays above the required ratio.
func (e *Engine) WithdrawCollateral(caller common.Address, bond, kind string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	kind = strings.TrimSpace(kind)
	if _, ok := e.params.CollateralRatios[kind]; !ok {
		return ErrUnknownCollateral
	}
	vault, err := e.ensureVault(bond, caller)
	if err != nil {
		return err
	}
	held := vault.lot(kind)
	if held.Cmp(amount) < 0 {
		return ErrInsufficientCollateral
	}
	vault.setLot(kind, new(big.Int).Sub(held, amount))
	if !e.vaultHealthy(vault, vault.Debt) {
		return ErrInsufficientCollateral
	}
	if err := e.state.TokenTransfer(kind, e.collateralAddress, caller, amount); err != nil {
		return err
	}
	return e.state.PutVault(vault)
}

// Borrow originates bond-token debt against the caller's vault and credits
// the minted tokens to the recipient. The recipient is usually the caller;
// composite operations route it to themselves so the borrowed balance can
// be disposed of within the same call.
func (e *Engine) Borrow(caller common.Address, bond string, amount *big.Int, recipient common.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.issuer == nil {
		return errors.New("lending engine: issuer not configured")
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	vault, err := e.ensureVault(bond, caller)
	if err != nil {
		return err
	}
	projected := new(big.Int).Add(vault.Debt, amount)
	if !e.vaultHealthy(vault, projected) {
		return ErrInsufficientCollateral
	}
	if err := e.issuer.Mint(bond, recipient, amount); err != nil {
		return err
	}
	vault.Debt = projected
	return e.state.PutVault(vault)
}

// Repay extinguishes vault debt by burning bond tokens held by the payer,
// clamped to the outstanding balance. The amount actually applied is
// returned.
func (e *Engine) Repay(caller common.Address, bond string, amount *big.Int, payer common.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if e.issuer == nil {
		return nil, errors.New("lending engine: issuer not configured")
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	vault, err := e.ensureVault(bond, caller)
	if err != nil {
		return nil, err
	}
	if vault.Debt.Sign() == 0 {
		return nil, ErrNoDebtToRepay
	}
	applied := new(big.Int).Set(amount)
	if applied.Cmp(vault.Debt) > 0 {
		applied = new(big.Int).Set(vault.Debt)
	}
	if err := e.issuer.Burn(bond, payer, applied); err != nil {
		return nil, err
	}
	vault.Debt = new(big.Int).Sub(vault.Debt, applied)
	if err := e.state.PutVault(vault); err != nil {
		return nil, err
	}
	return applied, nil
}

// DebtOf reports the outstanding debt for a vault.
func (e *Engine) DebtOf(caller common.Address, bond string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	vault, err := e.ensureVault(bond, caller)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(vault.Debt), nil
}

// CollateralOf reports the collateral of one kind locked in a vault.
func (e *Engine) CollateralOf(caller common.Address, bond, kind string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	vault, err := e.ensureVault(bond, caller)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(vault.lot(kind)), nil
}

func (e *Engine) ensureVault(bond string, addr common.Address) (*Vault, error) {
	bond = strings.TrimSpace(bond)
	vault, err := e.state.GetVault(bond, addr)
	if err != nil {
		return nil, err
	}
	if vault == nil {
		vault = &Vault{Owner: addr, Bond: bond}
	}
	vault.Normalize()
	return vault, nil
}

// vaultHealthy checks the vault's borrowing capacity against the given
// debt. Capacity for each lot is amount * 10_000 / ratio, so a 15_000 bps
// ratio means two thirds of the lot counts toward debt cover.
func (e *Engine) vaultHealthy(vault *Vault, debt *big.Int) bool {
	if debt == nil || debt.Sign() == 0 {
		return true
	}
	capacity := new(big.Int)
	for i := range vault.Collateral {
		lot := vault.Collateral[i]
		if lot.Amount == nil || lot.Amount.Sign() == 0 {
			continue
		}
		ratio, ok := e.params.CollateralRatios[lot.Kind]
		if !ok || ratio == 0 {
			continue
		}
		share := new(big.Int).Mul(lot.Amount, basisPoints)
		share.Quo(share, new(big.Int).SetUint64(ratio))
		capacity.Add(capacity, share)
	}
	return capacity.Cmp(debt) >= 0
}
