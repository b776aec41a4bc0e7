// Package api implements the kernel's HTTP+JSON transport (SPEC_FULL
// §6's "Transport (supplemented)"): a gorilla/mux router under
// /api/v1, CORS via rs/cors, and a gorilla/websocket event hub wired to
// internal/eventbus. Grounded on the sibling kernel's api/server.go
// route-grouping convention, generalized from perpetual-futures
// endpoints to this kernel's spot command surface.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/exchange-kernel/spotkernel/internal/eventbus"
	"github.com/exchange-kernel/spotkernel/internal/fixedpoint"
	"github.com/exchange-kernel/spotkernel/internal/history"
	"github.com/exchange-kernel/spotkernel/internal/kernelerr"
	"github.com/exchange-kernel/spotkernel/internal/market"
	"github.com/exchange-kernel/spotkernel/internal/matching"
	"github.com/exchange-kernel/spotkernel/internal/orderbook"
	"github.com/exchange-kernel/spotkernel/internal/router"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Server is the kernel's HTTP+WS API. Construct with New, then serve
// Handler() with the standard library's http.Server.
type Server struct {
	router     *router.Router
	registry   *market.Registry
	store      *history.Store
	bus        *eventbus.Bus
	log        *zap.Logger
	adminToken string

	hub *hub
	mux *mux.Router
}

func New(r *router.Router, registry *market.Registry, store *history.Store, bus *eventbus.Bus, log *zap.Logger, adminToken string) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		router: r, registry: registry, store: store, bus: bus,
		log: log, adminToken: adminToken, hub: newHub(bus, log),
	}
	s.mux = s.buildRoutes()
	return s
}

// Handler returns the fully wrapped HTTP handler (routes + CORS).
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(s.mux)
}

func (s *Server) buildRoutes() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/ws", s.hub.serveWS).Methods(http.MethodGet)

	api.HandleFunc("/tokens", s.handleAllTokens).Methods(http.MethodGet)
	api.HandleFunc("/tokens/{ticker}", s.handleTokenDetails).Methods(http.MethodGet)
	api.HandleFunc("/markets", s.handleAllMarkets).Methods(http.MethodGet)
	api.HandleFunc("/markets/{market}", s.handleMarketDetails).Methods(http.MethodGet)
	api.HandleFunc("/orderbook/{market}", s.handleOrderbook).Methods(http.MethodGet)

	api.HandleFunc("/accounts/{address}/balances", s.handleBalances).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{address}/orders", s.handleOrders).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{address}/trades", s.handleTrades).Methods(http.MethodGet)

	api.HandleFunc("/orders", s.handlePlaceOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}", s.handleCancelOrder).Methods(http.MethodDelete)
	api.HandleFunc("/orders/cancel_all", s.handleCancelAll).Methods(http.MethodPost)

	api.HandleFunc("/admin/tokens", s.requireAdmin(s.handleCreateToken)).Methods(http.MethodPost)
	api.HandleFunc("/admin/markets", s.requireAdmin(s.handleCreateMarket)).Methods(http.MethodPost)
	api.HandleFunc("/admin/faucet", s.requireAdmin(s.handleFaucet)).Methods(http.MethodPost)
	api.HandleFunc("/admin/markets/{market}/clear_degraded", s.requireAdmin(s.handleClearDegraded)).Methods(http.MethodPost)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON and writeError are the two response paths every handler uses.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a kernel error Kind to an HTTP status, per SPEC_FULL §7.
func statusFor(kind kernelerr.Kind) int {
	switch kind {
	case kernelerr.InvalidPrice, kernelerr.InvalidSize, kernelerr.InvalidOrder,
		kernelerr.NotFound, kernelerr.NotOwner, kernelerr.NotCancellable, kernelerr.UnknownMarket, kernelerr.UnknownToken:
		return http.StatusBadRequest
	case kernelerr.InsufficientFunds, kernelerr.InsufficientLiquidity:
		return http.StatusConflict
	case kernelerr.AlreadyExists:
		return http.StatusConflict
	case kernelerr.InternalError, kernelerr.InvariantViolation:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := kernelerr.KindOf(err)
	var body errorBody
	body.Error.Kind = string(kind)
	body.Error.Message = err.Error()
	writeJSON(w, statusFor(kind), body)
}

// requireAdmin gates the admin command family behind a shared-secret
// header token, per SPEC_FULL §9's resolved open question (no wallet
// signature scheme for admin operations; a pre-shared token is enough
// for an operator-only surface).
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-Admin-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.adminToken)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleAllTokens(w http.ResponseWriter, r *http.Request) {
	tokens := s.registry.ListTokens()
	out := make([]tokenView, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, tokenView{Ticker: t.Ticker, Decimals: t.Decimals, Name: t.Name})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTokenDetails(w http.ResponseWriter, r *http.Request) {
	ticker := mux.Vars(r)["ticker"]
	t, err := s.registry.GetToken(ticker)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenView{Ticker: t.Ticker, Decimals: t.Decimals, Name: t.Name})
}

func toMarketView(m *market.Market) marketView {
	return marketView{
		ID: m.ID, BaseTicker: m.BaseTicker, QuoteTicker: m.QuoteTicker,
		BaseDecimals: m.BaseDecimals, QuoteDecimals: m.QuoteDecimals,
		TickSize: atomsToWire(m.TickSize, m.QuoteDecimals), LotSize: atomsToWire(m.LotSize, m.BaseDecimals),
		MinSize: atomsToWire(m.MinSize, m.BaseDecimals),
		MakerFeeBps: m.MakerFeeBps, TakerFeeBps: m.TakerFeeBps,
		Status: m.Status.String(),
	}
}

func (s *Server) handleAllMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.registry.ListMarkets()
	out := make([]marketView, 0, len(markets))
	for _, m := range markets {
		out = append(out, toMarketView(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMarketDetails(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["market"]
	m, err := s.registry.GetMarket(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMarketView(m))
}

func (s *Server) handleOrderbook(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["market"]
	m, err := s.registry.GetMarket(id)
	if err != nil {
		writeError(w, err)
		return
	}
	depth := 0
	if v := r.URL.Query().Get("depth"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			depth = n
		}
	}
	bids, asks, err := s.router.Depth(id, depth)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderbookView{
		MarketID: id,
		Bids:     toPriceLevelViews(bids, m.BaseDecimals, m.QuoteDecimals),
		Asks:     toPriceLevelViews(asks, m.BaseDecimals, m.QuoteDecimals),
	})
}

func toPriceLevelViews(levels []orderbook.PriceLevel, baseDecimals, quoteDecimals int) []priceLevelView {
	out := make([]priceLevelView, 0, len(levels))
	for _, lv := range levels {
		out = append(out, priceLevelView{Price: atomsToWire(lv.Price, quoteDecimals), Size: atomsToWire(lv.Size, baseDecimals)})
	}
	return out
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	user := mux.Vars(r)["address"]
	balances := s.router.Balances(user)
	out := make([]balanceView, 0, len(balances))
	for _, b := range balances {
		out = append(out, balanceView{
			Token: b.Token.Ticker, Amount: atomsToWire(b.Amount, b.Token.Decimals),
			Locked: atomsToWire(b.Locked, b.Token.Decimals), Available: atomsToWire(b.Available, b.Token.Decimals),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func toOrderView(o history.OrderRecord, baseDecimals, quoteDecimals int) orderView {
	return orderView{
		ID: o.ID, User: o.User, MarketID: o.MarketID, Side: o.Side, Kind: o.Kind,
		Price:     atomStringToWire(o.Price, quoteDecimals),
		Size:      atomStringToWire(o.Size, baseDecimals),
		Filled:    atomStringToWire(o.Filled, baseDecimals),
		Status:    o.Status,
		CreatedAt: o.CreatedAt,
	}
}

func toTradeView(t history.TradeRecord, baseDecimals, quoteDecimals int) tradeView {
	return tradeView{
		ID: t.ID, MarketID: t.MarketID, BuyerAddress: t.BuyerAddress, SellerAddress: t.SellerAddress,
		BuyerOrderID: t.BuyerOrderID, SellerOrderID: t.SellerOrderID,
		Price:         atomStringToWire(t.Price, quoteDecimals),
		Size:          atomStringToWire(t.Size, baseDecimals),
		AggressorSide: t.AggressorSide,
		BuyerFee:      atomStringToWire(t.BuyerFee, quoteDecimals),
		SellerFee:     atomStringToWire(t.SellerFee, quoteDecimals),
		Timestamp:     t.Timestamp,
	}
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	user := mux.Vars(r)["address"]
	marketID := r.URL.Query().Get("market")
	if marketID == "" {
		writeError(w, kernelerr.E(kernelerr.UnknownMarket, "api.handleOrders", nil))
		return
	}
	m, err := s.registry.GetMarket(marketID)
	if err != nil {
		writeError(w, err)
		return
	}
	orders, err := s.router.OrdersForUser(marketID, user)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]orderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderView(o, m.BaseDecimals, m.QuoteDecimals))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	user := mux.Vars(r)["address"]
	marketID := r.URL.Query().Get("market")
	if marketID == "" {
		writeError(w, kernelerr.E(kernelerr.UnknownMarket, "api.handleTrades", nil))
		return
	}
	m, err := s.registry.GetMarket(marketID)
	if err != nil {
		writeError(w, err)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	trades, err := s.router.RecentTrades(marketID, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]tradeView, 0, len(trades))
	for _, t := range trades {
		if t.BuyerAddress != user && t.SellerAddress != user {
			continue
		}
		out = append(out, toTradeView(t, m.BaseDecimals, m.QuoteDecimals))
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var body placeOrderBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, kernelerr.E(kernelerr.InvalidOrder, "api.handlePlaceOrder", err))
		return
	}
	m, err := s.registry.GetMarket(body.MarketID)
	if err != nil {
		writeError(w, err)
		return
	}
	var side orderbook.Side
	switch body.Side {
	case "buy":
		side = orderbook.Buy
	case "sell":
		side = orderbook.Sell
	default:
		writeError(w, kernelerr.E(kernelerr.InvalidOrder, "api.handlePlaceOrder", nil))
		return
	}
	var kind orderbook.Kind
	switch body.Kind {
	case "limit":
		kind = orderbook.Limit
	case "market":
		kind = orderbook.Market
	default:
		writeError(w, kernelerr.E(kernelerr.InvalidOrder, "api.handlePlaceOrder", nil))
		return
	}
	price := fixedpoint.Zero()
	if kind == orderbook.Limit {
		price, err = atomsFromWire(body.Price, m.QuoteDecimals)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	size, err := atomsFromWire(body.Size, m.BaseDecimals)
	if err != nil {
		writeError(w, err)
		return
	}
	var fundingCap *fixedpoint.Amount
	if body.FundingCap != nil {
		cap, err := atomsFromWire(*body.FundingCap, m.QuoteDecimals)
		if err != nil {
			writeError(w, err)
			return
		}
		fundingCap = &cap
	}

	res, placeErr := s.router.PlaceOrder(matching.PlaceOrderRequest{
		User: body.User, MarketID: body.MarketID, Side: side, Kind: kind,
		Price: price, Size: size, FundingCap: fundingCap, Signature: body.Signature,
	})
	if res == nil {
		writeError(w, placeErr)
		return
	}
	// A market order that only partially filled returns both a non-nil
	// result (the trades that did execute) and InsufficientLiquidity; render
	// the partial result body with the error's status instead of a plain 200.
	status := http.StatusOK
	if placeErr != nil {
		status = statusFor(kernelerr.KindOf(placeErr))
	}
	writeJSON(w, status, toPlaceOrderResponse(res, m.BaseDecimals, m.QuoteDecimals))
}

func toPlaceOrderResponse(res *matching.PlaceOrderResult, baseDecimals, quoteDecimals int) placeOrderResponse {
	trades := make([]tradeView, 0, len(res.Trades))
	for _, tr := range res.Trades {
		trades = append(trades, tradeView{
			ID: tr.TradeID, MarketID: tr.MarketID, BuyerAddress: tr.BuyerUser, SellerAddress: tr.SellerUser,
			BuyerOrderID: tr.BuyerOrderID, SellerOrderID: tr.SellerOrderID,
			Price: atomsToWire(tr.Price, quoteDecimals), Size: atomsToWire(tr.Size, baseDecimals),
			AggressorSide: tr.AggressorSide.String(),
			BuyerFee:      atomsToWire(tr.BuyerFee, quoteDecimals),
			SellerFee:     atomsToWire(tr.SellerFee, quoteDecimals),
			Timestamp:     tr.TimestampMs,
		})
	}
	return placeOrderResponse{Order: toOrderViewFromDomain(res.Order, baseDecimals, quoteDecimals), Trades: trades}
}

func toOrderViewFromDomain(o *orderbook.Order, baseDecimals, quoteDecimals int) orderView {
	return orderView{
		ID: o.ID, User: o.User, MarketID: o.MarketID, Side: o.Side.String(), Kind: o.Kind.String(),
		Price: atomsToWire(o.Price, quoteDecimals), Size: atomsToWire(o.Size, baseDecimals),
		Filled: atomsToWire(o.Filled, baseDecimals), Status: o.Status.String(), CreatedAt: o.CreatedAt,
	}
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, kernelerr.E(kernelerr.NotFound, "api.handleCancelOrder", err))
		return
	}
	user := r.URL.Query().Get("user")
	marketID := r.URL.Query().Get("market")
	m, err := s.registry.GetMarket(marketID)
	if err != nil {
		writeError(w, err)
		return
	}
	o, err := s.router.CancelOrder(marketID, user, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderViewFromDomain(o, m.BaseDecimals, m.QuoteDecimals))
}

func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	var body cancelAllBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, kernelerr.E(kernelerr.InvalidOrder, "api.handleCancelAll", err))
		return
	}
	n, err := s.router.CancelAll(body.User, body.MarketID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
}

func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var body createTokenBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, kernelerr.E(kernelerr.InvalidOrder, "api.handleCreateToken", err))
		return
	}
	t := &market.Token{Ticker: body.Ticker, Decimals: body.Decimals, Name: body.Name}
	if err := s.registry.CreateToken(t); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.SaveToken(history.TokenRecord{Ticker: t.Ticker, Decimals: t.Decimals, Name: t.Name}); err != nil {
		s.log.Error("failed to persist token", zap.Error(err))
	}
	writeJSON(w, http.StatusCreated, tokenView{Ticker: t.Ticker, Decimals: t.Decimals, Name: t.Name})
}

func (s *Server) handleCreateMarket(w http.ResponseWriter, r *http.Request) {
	var body createMarketBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, kernelerr.E(kernelerr.InvalidOrder, "api.handleCreateMarket", err))
		return
	}
	base, err := s.registry.GetToken(body.BaseTicker)
	if err != nil {
		writeError(w, err)
		return
	}
	quote, err := s.registry.GetToken(body.QuoteTicker)
	if err != nil {
		writeError(w, err)
		return
	}
	tick, err := atomsFromWire(body.TickSize, quote.Decimals)
	if err != nil {
		writeError(w, err)
		return
	}
	lot, err := atomsFromWire(body.LotSize, base.Decimals)
	if err != nil {
		writeError(w, err)
		return
	}
	minSize, err := atomsFromWire(body.MinSize, base.Decimals)
	if err != nil {
		writeError(w, err)
		return
	}
	m := &market.Market{
		ID: body.ID, BaseTicker: base.Ticker, QuoteTicker: quote.Ticker,
		BaseDecimals: base.Decimals, QuoteDecimals: quote.Decimals,
		TickSize: tick, LotSize: lot, MinSize: minSize,
		MakerFeeBps: body.MakerFeeBps, TakerFeeBps: body.TakerFeeBps,
		Status: market.Active,
	}
	if err := s.registry.CreateMarket(m); err != nil {
		writeError(w, err)
		return
	}
	s.router.RegisterNewMarket(m)
	if err := s.store.SaveMarket(toMarketRecord(m)); err != nil {
		s.log.Error("failed to persist market", zap.Error(err))
	}
	writeJSON(w, http.StatusCreated, toMarketView(m))
}

func toMarketRecord(m *market.Market) history.MarketRecord {
	return history.MarketRecord{
		ID: m.ID, BaseTicker: m.BaseTicker, QuoteTicker: m.QuoteTicker,
		BaseDecimals: m.BaseDecimals, QuoteDecimals: m.QuoteDecimals,
		TickSize: m.TickSize.BigInt().String(), LotSize: m.LotSize.BigInt().String(),
		MinSize: m.MinSize.BigInt().String(),
		MakerFeeBps: m.MakerFeeBps, TakerFeeBps: m.TakerFeeBps,
		Status: m.Status.String(),
	}
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var body faucetBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, kernelerr.E(kernelerr.InvalidOrder, "api.handleFaucet", err))
		return
	}
	tok, err := s.registry.GetToken(body.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := atomsFromWire(body.Amount, tok.Decimals)
	if err != nil {
		writeError(w, err)
		return
	}
	snap := s.router.CreditForFaucet(body.User, tok.Ticker, amount)
	writeJSON(w, http.StatusOK, balanceView{
		Token: tok.Ticker, Amount: atomsToWire(snap.Amount, tok.Decimals),
		Locked: atomsToWire(snap.Locked, tok.Decimals), Available: atomsToWire(snap.Available, tok.Decimals),
	})
}

func (s *Server) handleClearDegraded(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["market"]
	if err := s.router.ClearDegraded(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
