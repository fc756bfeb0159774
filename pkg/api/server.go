package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperdex/pkg/app/core/account"
	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/dexerr"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/app/core/pair"
	"github.com/uhyunpark/hyperdex/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperdex/pkg/app/dex"
	"github.com/uhyunpark/hyperdex/pkg/crypto"
	"github.com/uhyunpark/hyperdex/pkg/notify"
	"github.com/uhyunpark/hyperdex/pkg/settlement"
)

const (
	defaultDepthLevels = 20
	defaultTradeLimit  = 50
	maxTradeLimit      = 500
)

// Backend is the part of the exchange the API serves.
type Backend interface {
	Account() common.Address
	Submit(c *transaction.Call) error
	Status() (dex.Status, error)
	Pairs() ([]*pair.TradingPair, error)
	Pair(id uint64) (*pair.TradingPair, error)
	Depth(pairID uint64, levels int) (bids, asks []orderbook.PriceLevel, err error)
	RecentTrades(pairID uint64, limit int) ([]*orderbook.Trade, error)
	Order(pairID, id uint64) (*orderbook.Order, error)
	Queued(owner common.Address) ([]*orderbook.QueuedOrder, error)
	Rewards(owner common.Address) (*account.Rewards, error)
}

// Server handles REST API and WebSocket connections
type Server struct {
	app    Backend
	bank   *settlement.MemoryBank // devnet routes; nil disables them
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger
	http   *http.Server

	// RequireSignatures drops declared signers and X-Account so only
	// recovered signatures authenticate a call.
	RequireSignatures bool
}

var _ notify.TradeSink = (*Server)(nil)

// NewServer creates a new API server. bank enables the devnet faucet and
// transfer routes when non-nil.
func NewServer(app Backend, bank *settlement.MemoryBank, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		app:    app,
		bank:   bank,
		router: mux.NewRouter(),
		hub:    NewHub(log),
		log:    log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Pair endpoints
	api.HandleFunc("/pairs", s.handleGetPairs).Methods("GET")
	api.HandleFunc("/pairs/{id:[0-9]+}", s.handleGetPair).Methods("GET")
	api.HandleFunc("/pairs/{id:[0-9]+}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/pairs/{id:[0-9]+}/trades", s.handleGetTrades).Methods("GET")
	api.HandleFunc("/pairs/{id:[0-9]+}/orders/{oid:[0-9]+}", s.handleGetOrder).Methods("GET")

	// Account endpoints
	api.HandleFunc("/accounts/{address}/rewards", s.handleGetRewards).Methods("GET")
	api.HandleFunc("/accounts/{address}/queued", s.handleGetQueued).Methods("GET")

	// Chain endpoints
	api.HandleFunc("/status", s.handleGetStatus).Methods("GET")

	// Call submission
	api.HandleFunc("/calls", s.handleSubmitCall).Methods("POST")

	// Devnet token routes
	if s.bank != nil {
		api.HandleFunc("/dev/mint", s.handleDevMint).Methods("POST")
		api.HandleFunc("/dev/transfers", s.handleDevTransfer).Methods("POST")
		api.HandleFunc("/dev/balances/{address}", s.handleDevBalance).Methods("GET")
	}

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Account"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves until Shutdown is called. The WebSocket hub runs until ctx
// is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Infow("api_server_starting", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Hub exposes the WebSocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetPairs(w http.ResponseWriter, r *http.Request) {
	pairs, err := s.app.Pairs()
	if err != nil {
		respondErr(w, err)
		return
	}
	response := make([]PairInfo, len(pairs))
	for i, p := range pairs {
		response[i] = newPairInfo(p)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetPair(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pairFromPath(w, r)
	if !ok {
		return
	}
	respondJSON(w, newPairInfo(p))
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pairFromPath(w, r)
	if !ok {
		return
	}
	levels, ok := queryInt(w, r, "levels", defaultDepthLevels, 0)
	if !ok {
		return
	}
	snap, err := s.snapshot(p, levels)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, snap)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pairFromPath(w, r)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", defaultTradeLimit, maxTradeLimit)
	if !ok {
		return
	}
	trades, err := s.app.RecentTrades(p.ID, limit)
	if err != nil {
		respondErr(w, err)
		return
	}
	response := make([]TradeInfo, len(trades))
	for i, t := range trades {
		response[i] = newTradeInfo(p, t)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pairFromPath(w, r)
	if !ok {
		return
	}
	oid, err := strconv.ParseUint(mux.Vars(r)["oid"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}
	o, err := s.app.Order(p.ID, oid)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, newOrderInfo(p, o))
}

func (s *Server) handleGetRewards(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressFromPath(w, r)
	if !ok {
		return
	}
	rewards, err := s.app.Rewards(addr)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, newRewardInfos(rewards))
}

func (s *Server) handleGetQueued(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressFromPath(w, r)
	if !ok {
		return
	}
	queued, err := s.app.Queued(addr)
	if err != nil {
		respondErr(w, err)
		return
	}
	response := make([]QueuedInfo, len(queued))
	for i, q := range queued {
		response[i] = newQueuedInfo(q, s.app.Account())
	}
	respondJSON(w, response)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.app.Status()
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, ChainStatus{
		Height:        st.Height,
		AppHash:       st.AppHash,
		Enabled:       st.Enabled,
		MempoolSize:   st.Pending,
		PendingOrders: st.PendingOrders,
		Deferred:      st.Deferred,
		Armed:         st.Armed,
		Outstanding:   st.Outstanding,
	})
}

// internalCalls are produced by the exchange itself and never accepted
// from clients.
var internalCalls = map[transaction.CallType]bool{
	transaction.TypeConfirmDeposit:   true,
	transaction.TypeContinueMatching: true,
}

func (s *Server) handleSubmitCall(w http.ResponseWriter, r *http.Request) {
	var req SubmitCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON call", err.Error())
		return
	}
	if internalCalls[req.Type] {
		respondError(w, http.StatusForbidden, "internal call type", string(req.Type))
		return
	}
	if req.ID == "" {
		if len(req.Signatures) > 0 {
			respondError(w, http.StatusBadRequest, "signed call without id", "the id is part of the signed digest")
			return
		}
		req.ID = uuid.NewString()
	}
	var signers []common.Address
	if !s.RequireSignatures {
		signers = append(signers, req.Signers...)
		if h := r.Header.Get("X-Account"); h != "" {
			if !common.IsHexAddress(h) {
				respondError(w, http.StatusBadRequest, "invalid X-Account", h)
				return
			}
			signers = append(signers, common.HexToAddress(h))
		}
	}

	c := &transaction.Call{ID: req.ID, Type: req.Type, Payload: req.Payload}
	recovered, err := crypto.RecoverCallSigners(c, req.Signatures)
	if err != nil {
		respondErr(w, err)
		return
	}
	c.Signers = append(signers, recovered...)
	if err := s.app.Submit(c); err != nil {
		respondErr(w, err)
		return
	}
	s.log.Infow("call_submitted", "call", c.ID, "type", c.Type, "signers", len(c.Signers))

	respondJSONStatus(w, http.StatusAccepted, SubmitCallResponse{Status: "submitted", CallID: c.ID})
}

func (s *Server) handleDevMint(w http.ResponseWriter, r *http.Request) {
	req, amount, ok := decodeDevTransfer(w, r)
	if !ok {
		return
	}
	if err := s.bank.Mint(req.To, req.Denom, amount); err != nil {
		respondErr(w, err)
		return
	}
	s.log.Infow("dev_mint", "to", req.To.Hex(), "denom", req.Denom.Key(), "amount", amount)
	respondJSON(w, map[string]string{"status": "ok"})
}

// handleDevTransfer moves tokens between accounts. A transfer to the dex
// account is a deposit and reaches the exchange as a confirm_deposit call.
func (s *Server) handleDevTransfer(w http.ResponseWriter, r *http.Request) {
	req, amount, ok := decodeDevTransfer(w, r)
	if !ok {
		return
	}
	kind := settlement.KindSettlement
	if req.To == s.app.Account() {
		kind = settlement.KindDeposit
	}
	err := s.bank.Transfer(r.Context(), settlement.Transfer{
		From:   req.From,
		To:     req.To,
		Denom:  req.Denom,
		Amount: amount,
		Memo:   req.Memo,
		Kind:   kind,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	s.log.Infow("dev_transfer", "from", req.From.Hex(), "to", req.To.Hex(), "denom", req.Denom.Key(), "amount", amount, "kind", kind)
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleDevBalance(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressFromPath(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	issuer := q.Get("issuer")
	if !common.IsHexAddress(issuer) {
		respondError(w, http.StatusBadRequest, "invalid issuer", issuer)
		return
	}
	prec, err := strconv.ParseUint(q.Get("precision"), 10, 8)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid precision", err.Error())
		return
	}
	d := asset.Denom{Issuer: common.HexToAddress(issuer), Symbol: q.Get("symbol"), Precision: uint8(prec)}
	if err := d.Validate(); err != nil {
		respondErr(w, err)
		return
	}
	amount := s.bank.BalanceOf(addr, d)
	respondJSON(w, BalanceInfo{Address: addr.Hex(), Denom: d, Amount: d.Format(amount), AmountRaw: amount})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast Methods
// ==============================

// PublishTrade broadcasts an executed trade to "trades:<pair id>"
// subscribers.
func (s *Server) PublishTrade(_ context.Context, t *orderbook.Trade) error {
	channel := "trades:" + strconv.FormatUint(t.PairID, 10)
	if !s.hub.HasSubscribers(channel) {
		return nil
	}
	p, err := s.app.Pair(t.PairID)
	if err != nil {
		return err
	}
	s.hub.BroadcastToChannel(channel, TradeUpdate{Type: "trade", TradeInfo: newTradeInfo(p, t)})
	return nil
}

// BroadcastOrderbooks pushes a depth snapshot of every subscribed pair.
func (s *Server) BroadcastOrderbooks(height int64) {
	pairs, err := s.app.Pairs()
	if err != nil {
		s.log.Warnw("orderbook_broadcast_failed", "err", err)
		return
	}
	for _, p := range pairs {
		channel := "orderbook:" + strconv.FormatUint(p.ID, 10)
		if !s.hub.HasSubscribers(channel) {
			continue
		}
		snap, err := s.snapshot(p, defaultDepthLevels)
		if err != nil {
			s.log.Warnw("orderbook_broadcast_failed", "pair", p.ID, "err", err)
			continue
		}
		s.hub.BroadcastToChannel(channel, OrderbookUpdate{Type: "orderbook", OrderbookSnapshot: snap, Height: height})
	}
}

// ==============================
// Helper Functions
// ==============================

func (s *Server) snapshot(p *pair.TradingPair, levels int) (OrderbookSnapshot, error) {
	bids, asks, err := s.app.Depth(p.ID, levels)
	if err != nil {
		return OrderbookSnapshot{}, err
	}
	return OrderbookSnapshot{
		PairID:    p.ID,
		Symbol:    p.Symbol(),
		Bids:      newPriceLevels(p, bids),
		Asks:      newPriceLevels(p, asks),
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

func (s *Server) pairFromPath(w http.ResponseWriter, r *http.Request) (*pair.TradingPair, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid pair id", err.Error())
		return nil, false
	}
	p, err := s.app.Pair(id)
	if err != nil {
		respondErr(w, err)
		return nil, false
	}
	return p, true
}

func addressFromPath(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid address", addressStr)
		return common.Address{}, false
	}
	return common.HexToAddress(addressStr), true
}

// queryInt reads a positive integer query parameter, clamped to limit
// when limit > 0.
func queryInt(w http.ResponseWriter, r *http.Request, key string, def, limit int) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		respondError(w, http.StatusBadRequest, "invalid "+key, v)
		return 0, false
	}
	if limit > 0 && n > limit {
		n = limit
	}
	return n, true
}

func decodeDevTransfer(w http.ResponseWriter, r *http.Request) (DevTransferRequest, int64, bool) {
	var req DevTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return req, 0, false
	}
	if err := req.Denom.Validate(); err != nil {
		respondErr(w, err)
		return req, 0, false
	}
	amount, err := req.Denom.Parse(req.Amount)
	if err != nil {
		respondErr(w, err)
		return req, 0, false
	}
	return req, amount, true
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}

// respondErr maps an exchange error onto an HTTP status.
func respondErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, dexerr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, dexerr.ErrInvalidParam), errors.Is(err, dexerr.ErrOverflow):
		status = http.StatusBadRequest
	case errors.Is(err, dexerr.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, dexerr.ErrConflict), errors.Is(err, dexerr.ErrDisabled):
		status = http.StatusConflict
	}
	respondError(w, status, dexerr.Code(err), err.Error())
}
