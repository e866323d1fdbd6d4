// Package api exposes the exchange core over REST plus a WebSocket event
// stream. It is a thin transport: all invariants live in the core. The
// native deposit endpoint is the only path that carries attached native
// value; no other route accepts value.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/etherdesk/etherdesk/pkg/exchange"
	"github.com/etherdesk/etherdesk/pkg/exchange/asset"
	"github.com/etherdesk/etherdesk/pkg/exchange/ledger"
	"github.com/etherdesk/etherdesk/pkg/exchange/order"
)

// Server handles REST and WebSocket connections.
type Server struct {
	ex     *exchange.Exchange
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger
}

func NewServer(ex *exchange.Exchange, log *zap.SugaredLogger) *Server {
	s := &Server{
		ex:     ex,
		router: mux.NewRouter(),
		hub:    NewHub(log),
		log:    log,
	}
	s.setupRoutes()
	return s
}

// Hub returns the WebSocket hub; attach it to the exchange event feed so
// connected clients receive the stream.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Reads
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/balances/{asset}/{owner}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/orders/count", s.handleGetOrderCount).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}/status", s.handleGetOrderStatus).Methods("GET")

	// Mutations
	api.HandleFunc("/deposits/native", s.handleDepositNative).Methods("POST")
	api.HandleFunc("/deposits/token", s.handleDepositToken).Methods("POST")
	api.HandleFunc("/withdrawals", s.handleWithdraw).Methods("POST")
	api.HandleFunc("/orders", s.handleCreateOrder).Methods("POST")
	api.HandleFunc("/orders/{id:[0-9]+}/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/{id:[0-9]+}/fill", s.handleFillOrder).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the WebSocket hub and serves HTTP.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	handler := c.Handler(s.router)

	s.log.Infow("api_listening", "addr", addr)
	return http.ListenAndServe(addr, handler)
}

// ==============================
// Read handlers
// ==============================

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, ConfigInfo{
		FeeAccount: s.ex.FeeAccount().Hex(),
		FeePercent: s.ex.FeePercent(),
	})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	// Reads are total: malformed identifiers report the zero balance.
	a, err := asset.Parse(vars["asset"])
	if err != nil {
		respondJSON(w, BalanceInfo{Asset: vars["asset"], Owner: vars["owner"], Balance: "0"})
		return
	}
	if !common.IsHexAddress(vars["owner"]) {
		respondJSON(w, BalanceInfo{Asset: a.String(), Owner: vars["owner"], Balance: "0"})
		return
	}
	owner := common.HexToAddress(vars["owner"])

	respondJSON(w, BalanceInfo{
		Asset:   a.String(),
		Owner:   owner.Hex(),
		Balance: s.ex.BalanceOf(a, owner).String(),
	})
}

func (s *Server) handleGetOrderCount(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, OrderCountInfo{Count: s.ex.OrderCount()})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	o, err := s.ex.Order(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "order not found", err.Error())
		return
	}
	respondJSON(w, orderInfo(o))
}

// handleGetOrderStatus is a total read: unknown ids report both flags false.
func (s *Server) handleGetOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}
	respondJSON(w, OrderStatusInfo{
		ID:        id,
		Filled:    s.ex.OrderFilled(id),
		Cancelled: s.ex.OrderCancelled(id),
	})
}

// ==============================
// Mutation handlers
// ==============================

func (s *Server) handleDepositNative(w http.ResponseWriter, r *http.Request) {
	var req NativeDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	owner, err := parseAddress(req.Owner)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid owner", err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
		return
	}

	if err := s.ex.DepositNative(owner, amount); err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, BalanceInfo{
		Asset:   asset.Native.String(),
		Owner:   owner.Hex(),
		Balance: s.ex.BalanceOf(asset.Native, owner).String(),
	})
}

func (s *Server) handleDepositToken(w http.ResponseWriter, r *http.Request) {
	var req TokenDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	tok, err := asset.Parse(req.Token)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid token", err.Error())
		return
	}
	owner, err := parseAddress(req.Owner)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid owner", err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
		return
	}

	if err := s.ex.DepositToken(tok, owner, amount); err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, BalanceInfo{
		Asset:   tok.String(),
		Owner:   owner.Hex(),
		Balance: s.ex.BalanceOf(tok, owner).String(),
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	a, err := asset.Parse(req.Asset)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid asset", err.Error())
		return
	}
	owner, err := parseAddress(req.Owner)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid owner", err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
		return
	}

	if err := s.ex.Withdraw(a, owner, amount); err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, BalanceInfo{
		Asset:   a.String(),
		Owner:   owner.Hex(),
		Balance: s.ex.BalanceOf(a, owner).String(),
	})
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	creator, err := parseAddress(req.Creator)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid creator", err.Error())
		return
	}
	assetGet, err := asset.Parse(req.AssetGet)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid assetGet", err.Error())
		return
	}
	amountGet, err := parseAmount(req.AmountGet)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amountGet", err.Error())
		return
	}
	assetGive, err := asset.Parse(req.AssetGive)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid assetGive", err.Error())
		return
	}
	amountGive, err := parseAmount(req.AmountGive)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amountGive", err.Error())
		return
	}

	o, err := s.ex.CreateOrder(creator, assetGet, amountGet, assetGive, amountGive)
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, orderInfo(o))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	s.handleOrderAction(w, r, s.ex.CancelOrder)
}

func (s *Server) handleFillOrder(w http.ResponseWriter, r *http.Request) {
	s.handleOrderAction(w, r, s.ex.FillOrder)
}

func (s *Server) handleOrderAction(w http.ResponseWriter, r *http.Request, action func(common.Address, uint64) error) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	var req OrderActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid caller", err.Error())
		return
	}

	if err := action(caller, id); err != nil {
		respondCoreError(w, err)
		return
	}

	o, err := s.ex.Order(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "order not found", err.Error())
		return
	}
	respondJSON(w, orderInfo(o))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

func orderInfo(o order.Order) OrderInfo {
	return OrderInfo{
		ID:         o.ID,
		Creator:    o.Creator.Hex(),
		AssetGet:   o.AssetGet.String(),
		AmountGet:  o.AmountGet.String(),
		AssetGive:  o.AssetGive.String(),
		AmountGive: o.AmountGive.String(),
		Timestamp:  o.Timestamp,
		Filled:     o.Filled,
		Cancelled:  o.Cancelled,
	}
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("malformed address: %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseAmount(s string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount: %q", s)
	}
	return amount, nil
}

// respondCoreError maps core rejection kinds onto HTTP statuses.
func respondCoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "order not found", err.Error())
	case errors.Is(err, order.ErrUnauthorized):
		respondError(w, http.StatusForbidden, "unauthorized", err.Error())
	case errors.Is(err, order.ErrOrderAlreadyFilled),
		errors.Is(err, order.ErrOrderAlreadyCancelled),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrTransferRejected):
		respondError(w, http.StatusConflict, "rejected", err.Error())
	case errors.Is(err, ledger.ErrInvalidAsset),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, order.ErrInvalidAmount):
		respondError(w, http.StatusBadRequest, "invalid request", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal error", err.Error())
	}
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Detail: detail})
}
