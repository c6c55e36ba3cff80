package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hifi-finance/hifi-proxy-target/core/state"
	"github.com/hifi-finance/hifi-proxy-target/native/amm"
	"github.com/hifi-finance/hifi-proxy-target/native/htoken"
	"github.com/hifi-finance/hifi-proxy-target/native/lending"
	"github.com/hifi-finance/hifi-proxy-target/native/router"
)

// Operation failures keep their class on the wire so callers can tell a
// slippage revert from a collaborator rejection or their own missing
// approval.
const (
	codeBoundExceeded    = -32061
	codeCollaborator     = -32062
	codePrecondition     = -32063
	codeResidualBalance  = -32064
	codeUnknownReference = -32065
)

type tradeParams struct {
	Caller string `json:"caller"`
	PoolID string `json:"poolId"`
	Amount string `json:"amount"`
	Bound  string `json:"bound"`
}

type collateralParams struct {
	Caller string `json:"caller"`
	Bond   string `json:"bond"`
	Kind   string `json:"kind,omitempty"`
	Amount string `json:"amount"`
}

type depositAndBorrowParams struct {
	Caller           string `json:"caller"`
	Bond             string `json:"bond"`
	Kind             string `json:"kind"`
	CollateralAmount string `json:"collateralAmount"`
	BorrowAmount     string `json:"borrowAmount"`
}

type depositAndBorrowAndSellParams struct {
	Caller           string `json:"caller"`
	PoolID           string `json:"poolId"`
	Kind             string `json:"kind"`
	CollateralAmount string `json:"collateralAmount"`
	BorrowAmount     string `json:"borrowAmount"`
	MinUnderlyingOut string `json:"minUnderlyingOut"`
}

type wrapAndBorrowAndSellParams struct {
	Caller           string `json:"caller"`
	PoolID           string `json:"poolId"`
	NativeAmount     string `json:"nativeAmount"`
	BorrowAmount     string `json:"borrowAmount"`
	MinUnderlyingOut string `json:"minUnderlyingOut"`
}

type quoteParams struct {
	PoolID           string `json:"poolId"`
	UnderlyingAmount string `json:"underlyingAmount"`
}

type vaultParams struct {
	Address string   `json:"address"`
	Bond    string   `json:"bond"`
	Kinds   []string `json:"kinds,omitempty"`
}

type balanceParams struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
}

type amountResult struct {
	Amount string `json:"amount"`
}

func amountJSON(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected a single parameter object")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return value, nil
}

func writeInvalidParams(w http.ResponseWriter, id interface{}, err error) {
	writeError(w, http.StatusBadRequest, id, codeInvalidParams, "invalid parameters", err.Error())
}

// writeRouterError maps engine sentinels onto the wire taxonomy.
func writeRouterError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, router.ErrBoundExceeded):
		writeError(w, http.StatusOK, id, codeBoundExceeded, err.Error(), nil)
	case errors.Is(err, router.ErrResidualBalance):
		writeError(w, http.StatusOK, id, codeResidualBalance, err.Error(), nil)
	case errors.Is(err, state.ErrInsufficientAllowance),
		errors.Is(err, state.ErrInsufficientBalance),
		errors.Is(err, state.ErrInvalidAmount),
		errors.Is(err, router.ErrInvalidAmount):
		writeError(w, http.StatusOK, id, codePrecondition, err.Error(), nil)
	case errors.Is(err, amm.ErrUnknownPool),
		errors.Is(err, amm.ErrUnknownToken),
		errors.Is(err, htoken.ErrUnknownBond),
		errors.Is(err, lending.ErrUnknownCollateral):
		writeError(w, http.StatusOK, id, codeUnknownReference, err.Error(), nil)
	case errors.Is(err, amm.ErrPoolMatured),
		errors.Is(err, amm.ErrInsufficientLiquidity),
		errors.Is(err, amm.ErrInvalidAmount),
		errors.Is(err, htoken.ErrBondMatured),
		errors.Is(err, htoken.ErrBondNotMatured),
		errors.Is(err, htoken.ErrInvalidAmount),
		errors.Is(err, lending.ErrInsufficientCollateral),
		errors.Is(err, lending.ErrNoDebtToRepay),
		errors.Is(err, lending.ErrInvalidAmount):
		writeError(w, http.StatusOK, id, codeCollaborator, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
	}
}

func (s *Server) handleQuoteHTokenRequiredForMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params quoteParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	amount, err := parseAmount(params.UnderlyingAmount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	required, err := s.engine.QuoteHTokenRequiredForMint(s.collaborators, params.PoolID, amount)
	if err != nil {
		writeRouterError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: amountJSON(required)})
}

func (s *Server) handleGetPool(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var poolID string
	if err := decodeParams(req, &poolID); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	pool, err := s.collaborators.Pool.Pool(poolID)
	if err != nil {
		writeRouterError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, pool)
}

type collateralBalance struct {
	Kind   string `json:"kind"`
	Amount string `json:"amount"`
}

type vaultResult struct {
	Debt       string              `json:"debt"`
	Collateral []collateralBalance `json:"collateral,omitempty"`
}

type vaultReader interface {
	CollateralOf(caller common.Address, bond, kind string) (*big.Int, error)
}

func (s *Server) handleGetVault(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	owner, err := parseAddress(params.Address)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	debt, err := s.collaborators.Ledger.DebtOf(owner, params.Bond)
	if err != nil {
		writeRouterError(w, req.ID, err)
		return
	}
	result := vaultResult{Debt: amountJSON(debt)}
	if reader, ok := s.collaborators.Ledger.(vaultReader); ok {
		for _, kind := range params.Kinds {
			amount, err := reader.CollateralOf(owner, params.Bond, kind)
			if err != nil {
				writeRouterError(w, req.ID, err)
				return
			}
			result.Collateral = append(result.Collateral, collateralBalance{Kind: kind, Amount: amountJSON(amount)})
		}
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params balanceParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	balance, err := s.state.TokenBalance(params.Symbol, addr)
	if err != nil {
		writeRouterError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: amountJSON(balance)})
}

func (s *Server) tradeArgs(w http.ResponseWriter, req *RPCRequest) (common.Address, string, *big.Int, *big.Int, bool) {
	var params tradeParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return common.Address{}, "", nil, nil, false
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return common.Address{}, "", nil, nil, false
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return common.Address{}, "", nil, nil, false
	}
	bound, err := parseAmount(params.Bound)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return common.Address{}, "", nil, nil, false
	}
	return caller, params.PoolID, amount, bound, true
}

type tradeCall func(c router.Collaborators, caller common.Address, poolID string, amount, bound *big.Int) (*big.Int, error)

func (s *Server) handleTrade(w http.ResponseWriter, req *RPCRequest, call tradeCall) {
	caller, poolID, amount, bound, ok := s.tradeArgs(w, req)
	if !ok {
		return
	}
	realized, err := call(s.collaborators, caller, poolID, amount, bound)
	if err != nil {
		writeRouterError(w, req.ID, err)
		return
	}
	if !s.commit(w, req.ID) {
		return
	}
	writeResult(w, req.ID, amountResult{Amount: amountJSON(realized)})
}

func (s *Server) handleBuyHToken(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleTrade(w, req, s.engine.BuyHToken)
}

func (s *Server) handleSellHToken(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleTrade(w, req, s.engine.SellHToken)
}

func (s *Server) handleBuyUnderlying(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleTrade(w, req, s.engine.BuyUnderlying)
}

func (s *Server) handleSellUnderlying(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleTrade(w, req, s.engine.SellUnderlying)
}

func (s *Server) handleBorrowAndSellHToken(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleTrade(w, req, s.engine.BorrowAndSellHToken)
}

func (s *Server) handleBorrowAndBuyUnderlying(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleTrade(w, req, s.engine.BorrowAndBuyUnderlying)
}

func (s *Server) handleBuyHTokenAndRepay(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleTrade(w, req, s.engine.BuyHTokenAndRepay)
}

func (s *Server) handleSellUnderlyingAndRepay(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleTrade(w, req, s.engine.SellUnderlyingAndRepay)
}

func (s *Server) handleBorrowAndAddLiquidity(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleTrade(w, req, s.engine.BorrowAndAddLiquidity)
}

func (s *Server) handleRemoveLiquidityAndRepay(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleTrade(w, req, s.engine.RemoveLiquidityAndRepay)
}

func (s *Server) handleRemoveLiquidityAndSellHToken(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleTrade(w, req, s.engine.RemoveLiquidityAndSellHToken)
}

func (s *Server) handleDepositCollateral(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params collateralParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.engine.DepositCollateral(s.collaborators, caller, params.Bond, params.Kind, amount); err != nil {
		writeRouterError(w, req.ID, err)
		return
	}
	if !s.commit(w, req.ID) {
		return
	}
	writeResult(w, req.ID, amountResult{Amount: amountJSON(amount)})
}

func (s *Server) handleWithdrawCollateral(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params collateralParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.engine.WithdrawCollateral(s.collaborators, caller, params.Bond, params.Kind, amount); err != nil {
		writeRouterError(w, req.ID, err)
		return
	}
	if !s.commit(w, req.ID) {
		return
	}
	writeResult(w, req.ID, amountResult{Amount: amountJSON(amount)})
}

func (s *Server) handleRepayBorrow(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params collateralParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	applied, err := s.engine.RepayBorrow(s.collaborators, caller, params.Bond, amount)
	if err != nil {
		writeRouterError(w, req.ID, err)
		return
	}
	if !s.commit(w, req.ID) {
		return
	}
	writeResult(w, req.ID, amountResult{Amount: amountJSON(applied)})
}

func (s *Server) handleSupplyUnderlying(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params collateralParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.engine.SupplyUnderlying(s.collaborators, caller, params.Bond, amount); err != nil {
		writeRouterError(w, req.ID, err)
		return
	}
	if !s.commit(w, req.ID) {
		return
	}
	writeResult(w, req.ID, amountResult{Amount: amountJSON(amount)})
}

func (s *Server) handleRedeemHToken(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params collateralParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.engine.RedeemHToken(s.collaborators, caller, params.Bond, amount); err != nil {
		writeRouterError(w, req.ID, err)
		return
	}
	if !s.commit(w, req.ID) {
		return
	}
	writeResult(w, req.ID, amountResult{Amount: amountJSON(amount)})
}

func (s *Server) handleDepositAndBorrow(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params depositAndBorrowParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	collateralAmount, err := parseAmount(params.CollateralAmount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	borrowAmount, err := parseAmount(params.BorrowAmount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.engine.DepositAndBorrow(s.collaborators, caller, params.Bond, params.Kind, collateralAmount, borrowAmount); err != nil {
		writeRouterError(w, req.ID, err)
		return
	}
	if !s.commit(w, req.ID) {
		return
	}
	writeResult(w, req.ID, amountResult{Amount: amountJSON(borrowAmount)})
}

func (s *Server) handleDepositAndBorrowAndSell(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params depositAndBorrowAndSellParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	collateralAmount, err := parseAmount(params.CollateralAmount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	borrowAmount, err := parseAmount(params.BorrowAmount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	minOut, err := parseAmount(params.MinUnderlyingOut)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	underlyingOut, err := s.engine.DepositAndBorrowAndSell(s.collaborators, caller, params.PoolID, params.Kind, collateralAmount, borrowAmount, minOut)
	if err != nil {
		writeRouterError(w, req.ID, err)
		return
	}
	if !s.commit(w, req.ID) {
		return
	}
	writeResult(w, req.ID, amountResult{Amount: amountJSON(underlyingOut)})
}

func (s *Server) handleWrapAndDepositCollateral(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params collateralParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.engine.WrapAndDepositCollateral(s.collaborators, caller, params.Bond, amount); err != nil {
		writeRouterError(w, req.ID, err)
		return
	}
	if !s.commit(w, req.ID) {
		return
	}
	writeResult(w, req.ID, amountResult{Amount: amountJSON(amount)})
}

func (s *Server) handleWithdrawCollateralAndUnwrap(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params collateralParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.engine.WithdrawCollateralAndUnwrap(s.collaborators, caller, params.Bond, amount); err != nil {
		writeRouterError(w, req.ID, err)
		return
	}
	if !s.commit(w, req.ID) {
		return
	}
	writeResult(w, req.ID, amountResult{Amount: amountJSON(amount)})
}

func (s *Server) handleWrapAndDepositAndBorrowAndSell(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params wrapAndBorrowAndSellParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	nativeAmount, err := parseAmount(params.NativeAmount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	borrowAmount, err := parseAmount(params.BorrowAmount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	minOut, err := parseAmount(params.MinUnderlyingOut)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	underlyingOut, err := s.engine.WrapAndDepositAndBorrowAndSell(s.collaborators, caller, params.PoolID, nativeAmount, borrowAmount, minOut)
	if err != nil {
		writeRouterError(w, req.ID, err)
		return
	}
	if !s.commit(w, req.ID) {
		return
	}
	writeResult(w, req.ID, amountResult{Amount: amountJSON(underlyingOut)})
}
