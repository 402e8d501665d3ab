// Package api exposes the exchange over REST and WebSocket: market listing,
// book depth, signed order submission and cancellation, order and trade
// lookup. Rejections carry the engine's machine-readable reason codes.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/predictex/predictex/pkg/core"
	"github.com/predictex/predictex/pkg/core/engine"
	"github.com/predictex/predictex/pkg/core/market"
	"github.com/predictex/predictex/pkg/core/order"
	"github.com/predictex/predictex/pkg/core/orderbook"
	"github.com/predictex/predictex/pkg/core/settlement"
	"github.com/predictex/predictex/pkg/core/validate"
	"github.com/predictex/predictex/pkg/crypto"
)

// Server handles REST API and WebSocket connections
type Server struct {
	log     *zap.SugaredLogger
	engine  *engine.Engine
	markets *market.Registry
	router  *mux.Router
	hub     *Hub
}

func NewServer(log *zap.SugaredLogger, eng *engine.Engine, markets *market.Registry) *Server {
	s := &Server{
		log:     log,
		engine:  eng,
		markets: markets,
		router:  mux.NewRouter(),
		hub:     NewHub(log),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Market endpoints
	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{market}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{market}/outcomes/{outcome}/book", s.handleGetBook).Methods("GET")

	// Order submission and lookup
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/by-salt/{maker}/{salt}", s.handleGetOrderBySalt).Methods("GET")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")

	// Trade lookup
	api.HandleFunc("/trades/{id}", s.handleGetTrade).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start starts the API server
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
// REST Handlers
// ==============================

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.markets.List()

	response := make([]MarketInfo, len(markets))
	for i, m := range markets {
		response[i] = marketInfo(m)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	m, ok := s.markets.Get(vars["market"])
	if !ok {
		respondError(w, http.StatusNotFound, "NotFound", "market not found")
		return
	}
	respondJSON(w, marketInfo(m))
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	outcome, err := strconv.ParseUint(vars["outcome"], 10, 32)
	if err != nil {
		respondError(w, http.StatusBadRequest, "MalformedOrder", "outcome must be a non-negative integer")
		return
	}

	snap, err := s.engine.Depth(vars["market"], uint32(outcome))
	if err != nil {
		s.respondEngineError(w, err)
		return
	}

	response := BookSnapshot{
		Market:    snap.Market,
		Outcome:   snap.Outcome,
		Bids:      priceLevels(snap.Bids),
		Asks:      priceLevels(snap.Asks),
		BestBid:   snap.BestBid,
		BestAsk:   snap.BestAsk,
		Timestamp: snap.Timestamp,
	}
	respondJSON(w, response)
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var raw validate.RawOrder
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		respondError(w, http.StatusBadRequest, "MalformedOrder", "invalid JSON body: "+err.Error())
		return
	}

	result, err := s.engine.Submit(raw)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}

	trades := make([]TradeInfo, len(result.Trades))
	for i, t := range result.Trades {
		trades[i] = tradeInfo(t)
	}

	respondJSON(w, SubmitOrderResponse{
		Status:    "accepted",
		OrderID:   result.OrderID,
		Remaining: result.Remaining,
		Trades:    trades,
	})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req engine.CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "MalformedOrder", "invalid JSON body: "+err.Error())
		return
	}

	outcome, err := s.engine.Cancel(req)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}

	respondJSON(w, CancelOrderResponse{
		Status:          outcome.Status.String(),
		OrderID:         outcome.OrderID,
		AlreadyTerminal: outcome.AlreadyTerminal,
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	o, err := s.engine.OrderByID(vars["id"])
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, orderInfo(o))
}

func (s *Server) handleGetOrderBySalt(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !common.IsHexAddress(vars["maker"]) {
		respondError(w, http.StatusBadRequest, "MalformedOrder", "invalid maker address")
		return
	}
	salt, err := strconv.ParseUint(vars["salt"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "MalformedOrder", "salt must be an unsigned integer")
		return
	}

	o, err := s.engine.OrderBySalt(common.HexToAddress(vars["maker"]), salt)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, orderInfo(o))
}

func (s *Server) handleGetTrade(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	t, ok := s.engine.Trade(vars["id"])
	if !ok {
		respondError(w, http.StatusNotFound, "NotFound", "trade not found")
		return
	}
	respondJSON(w, tradeInfo(t))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast Methods (wired to engine callbacks)
// ==============================

// BroadcastDepth pushes the current book snapshot to subscribers of
// "book:<market>:<outcome>".
func (s *Server) BroadcastDepth(marketID string, outcome uint32) {
	snap, err := s.engine.Depth(marketID, outcome)
	if err != nil {
		return
	}

	update := BookUpdate{
		Type:      "book",
		Market:    marketID,
		Outcome:   outcome,
		Bids:      priceLevels(snap.Bids),
		Asks:      priceLevels(snap.Asks),
		Timestamp: snap.Timestamp,
	}
	s.hub.BroadcastToChannel(fmt.Sprintf("book:%s:%d", marketID, outcome), update)
}

// BroadcastTrade pushes one execution to subscribers of "trades:<market>".
func (s *Server) BroadcastTrade(t settlement.Trade) {
	update := TradeUpdate{
		Type:      "trade",
		TradeID:   t.ID,
		Market:    t.Market,
		Outcome:   t.OutcomeIndex,
		Price:     t.Price,
		Size:      t.Qty,
		State:     t.State.String(),
		Timestamp: time.Now().Unix(),
	}
	s.hub.BroadcastToChannel("trades:"+t.Market, update)
}

// ==============================
// Helper Functions
// ==============================

func marketInfo(m *market.Market) MarketInfo {
	return MarketInfo{
		ID:       m.ID,
		Title:    m.Title,
		Outcomes: m.Outcomes,
		Status:   m.Status.String(),
	}
}

func orderInfo(o order.Order) OrderInfo {
	return OrderInfo{
		ID:        o.ID,
		Maker:     crypto.EIP55(o.Maker.Bytes()),
		Market:    o.Market,
		Outcome:   o.OutcomeIndex,
		Side:      o.Side.String(),
		Price:     o.Price,
		Amount:    o.Amount,
		Filled:    o.FilledQty(),
		Remaining: o.Remaining,
		Status:    o.Status.String(),
		Salt:      o.Salt,
		Expiry:    o.Expiry,
		Timestamp: o.CreatedAt,
	}
}

func tradeInfo(t settlement.Trade) TradeInfo {
	return TradeInfo{
		ID:           t.ID,
		Market:       t.Market,
		Outcome:      t.OutcomeIndex,
		MakerOrderID: t.MakerOrderID,
		TakerOrderID: t.TakerOrderID,
		Price:        t.Price,
		Size:         t.Qty,
		State:        t.State.String(),
		Timestamp:    t.CreatedAt,
	}
}

func priceLevels(levels []orderbook.Level) []PriceLevel {
	out := make([]PriceLevel, len(levels))
	for i, l := range levels {
		out[i] = PriceLevel{Price: l.Price, Size: l.Qty}
	}
	return out
}

// respondEngineError maps the engine's error taxonomy to HTTP status codes.
func (s *Server) respondEngineError(w http.ResponseWriter, err error) {
	code := core.ReasonCode(err)
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, core.ErrNotFound), errors.Is(err, core.ErrBookNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrDuplicateSalt), errors.Is(err, core.ErrMarketClosed):
		status = http.StatusConflict
	case errors.Is(err, core.ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, core.ErrMalformedOrder), errors.Is(err, core.ErrInvalidSignature), errors.Is(err, core.ErrExpired):
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
	}
	if status >= 500 {
		// The underlying failure stays in the log; clients get only the
		// reason code and a generic message.
		s.log.Warnw("api_request_failed", "code", code, "err", err)
		msg := "internal error"
		if status == http.StatusServiceUnavailable {
			msg = "storage unavailable, request not applied"
		}
		respondError(w, status, code, msg)
		return
	}
	respondError(w, status, code, err.Error())
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   code,
		Message: message,
	})
}
