package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/hifi-finance/hifi-proxy-target/core/state"
	"github.com/hifi-finance/hifi-proxy-target/native/router"
)

const (
	jsonRPCVersion         = "2.0"
	defaultMaxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

type Server struct {
	engine        *router.Engine
	collaborators router.Collaborators
	state         *state.Manager

	// mu serializes method dispatch. The state manager's overlay and
	// journal carry no locking of their own, and snapshot ids taken by
	// two interleaved operations would unwind each other's writes on
	// revert. Queries read the same overlay, so they hold the lock too.
	mu sync.Mutex

	authToken       string
	limiter         *rate.Limiter
	maxRequestBytes int64
}

func NewServer(engine *router.Engine, c router.Collaborators, st *state.Manager) *Server {
	token := strings.TrimSpace(os.Getenv("PROXY_RPC_TOKEN"))
	return &Server{
		engine:          engine,
		collaborators:   c,
		state:           st,
		authToken:       token,
		limiter:         rate.NewLimiter(rate.Limit(50), 100),
		maxRequestBytes: defaultMaxRequestBytes,
	}
}

// SetRateLimit replaces the requests-per-second ceiling applied to the
// whole endpoint.
func (s *Server) SetRateLimit(perSecond int) {
	if perSecond <= 0 {
		return
	}
	s.limiter = rate.NewLimiter(rate.Limit(perSecond), perSecond*2)
}

func (s *Server) SetMaxRequestBytes(limit int64) {
	if limit > 0 {
		s.maxRequestBytes = limit
	}
}

func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	return http.ListenAndServe(addr, mux)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, s.maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	if !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", s.maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	if handler, ok := s.queryHandlers()[req.Method]; ok {
		s.mu.Lock()
		defer s.mu.Unlock()
		handler(w, r, req)
		return
	}
	handler, ok := s.mutationHandlers()[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %s not found", req.Method), nil)
		return
	}
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	handler(w, r, req)
}

type handlerFunc func(http.ResponseWriter, *http.Request, *RPCRequest)

func (s *Server) queryHandlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"proxy_getPool":                    s.handleGetPool,
		"proxy_getVault":                   s.handleGetVault,
		"proxy_getBalance":                 s.handleGetBalance,
		"proxy_quoteHTokenRequiredForMint": s.handleQuoteHTokenRequiredForMint,
	}
}

func (s *Server) mutationHandlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"proxy_buyHToken":                      s.handleBuyHToken,
		"proxy_sellHToken":                     s.handleSellHToken,
		"proxy_buyUnderlying":                  s.handleBuyUnderlying,
		"proxy_sellUnderlying":                 s.handleSellUnderlying,
		"proxy_borrowAndSellHToken":            s.handleBorrowAndSellHToken,
		"proxy_borrowAndBuyUnderlying":         s.handleBorrowAndBuyUnderlying,
		"proxy_depositCollateral":              s.handleDepositCollateral,
		"proxy_withdrawCollateral":             s.handleWithdrawCollateral,
		"proxy_repayBorrow":                    s.handleRepayBorrow,
		"proxy_supplyUnderlying":               s.handleSupplyUnderlying,
		"proxy_redeemHToken":                   s.handleRedeemHToken,
		"proxy_depositAndBorrow":               s.handleDepositAndBorrow,
		"proxy_depositAndBorrowAndSell":        s.handleDepositAndBorrowAndSell,
		"proxy_wrapAndDepositCollateral":       s.handleWrapAndDepositCollateral,
		"proxy_withdrawCollateralAndUnwrap":    s.handleWithdrawCollateralAndUnwrap,
		"proxy_wrapAndDepositAndBorrowAndSell": s.handleWrapAndDepositAndBorrowAndSell,
		"proxy_buyHTokenAndRepay":              s.handleBuyHTokenAndRepay,
		"proxy_sellUnderlyingAndRepay":         s.handleSellUnderlyingAndRepay,
		"proxy_borrowAndAddLiquidity":          s.handleBorrowAndAddLiquidity,
		"proxy_removeLiquidityAndRepay":        s.handleRemoveLiquidityAndRepay,
		"proxy_removeLiquidityAndSellHToken":   s.handleRemoveLiquidityAndSellHToken,
	}
}

// commit flushes the journaled writes of a completed operation.
func (s *Server) commit(w http.ResponseWriter, id interface{}) bool {
	if err := s.state.Commit(); err != nil {
		writeError(w, http.StatusInternalServerError, id, codeServerError, "failed to persist state", err.Error())
		return false
	}
	return true
}
