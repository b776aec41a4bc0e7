// Command exchange boots one kernel process: it opens the history
// store, restores any tokens/markets persisted by a prior run, wires a
// matching engine per market behind the router, and serves the HTTP+WS
// API until interrupted. Grounded on the sibling kernel's cmd/node/
// main.go wiring shape (config -> logger -> API server goroutine ->
// signal-driven graceful shutdown), stripped of everything downstream
// of that shape with no counterpart here: no consensus engine, no
// libp2p network, no ABCI bridge, no tx feeder.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/exchange-kernel/spotkernel/internal/eventbus"
	"github.com/exchange-kernel/spotkernel/internal/fixedpoint"
	"github.com/exchange-kernel/spotkernel/internal/history"
	"github.com/exchange-kernel/spotkernel/internal/ledger"
	"github.com/exchange-kernel/spotkernel/internal/market"
	"github.com/exchange-kernel/spotkernel/internal/router"
	"github.com/exchange-kernel/spotkernel/internal/signing"
	"github.com/exchange-kernel/spotkernel/params"
	"github.com/exchange-kernel/spotkernel/pkg/api"
	"github.com/exchange-kernel/spotkernel/pkg/util"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "exchange:", err)
		os.Exit(1)
	}
}

func run() error {
	envPath := os.Getenv("SPOTKERNEL_ENV_FILE")
	cfg, err := params.LoadFromEnv(envPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var log *zap.Logger
	if cfg.LogFile != "" {
		log, err = util.NewLoggerWithFile(cfg.LogFile)
	} else {
		log, err = util.NewLogger()
	}
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	store, err := history.Open(cfg.DataDir, log)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer store.Close()

	registry := market.NewRegistry()
	ledg := ledger.New(log)
	bus := eventbus.New(log)
	r := router.New(registry, ledg, store, bus, log)

	if cfg.RequireSignature {
		r.EnableSignatureVerification(router.NewEIP712Verifier(signing.NewSigner(signing.DefaultDomain())))
		log.Info("signature verification enabled on place_order")
	}

	if err := restore(registry, r, store, log); err != nil {
		return fmt.Errorf("restore persisted state: %w", err)
	}

	apiServer := api.New(r, registry, store, bus, log, cfg.AdminToken)
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: apiServer.Handler()}

	go func() {
		log.Info("api server listening", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("api server stopped", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutting down")
	r.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown", zap.Error(err))
	}
	return nil
}

// restore rebuilds MarketRegistry from whatever tokens/markets the
// history store persisted in a previous run, and brings up an engine
// for every restored market. Only token and market definitions are
// reloaded: open orders and ledger balances are not, so each restored
// market starts with an empty book. A fresh data directory yields no tokens and no markets; the
// admin create_token/create_market commands populate both going
// forward, each wiring its own engine through Router.RegisterNewMarket.
func restore(registry *market.Registry, r *router.Router, store *history.Store, log *zap.Logger) error {
	tokens, err := store.LoadAllTokens()
	if err != nil {
		return fmt.Errorf("load tokens: %w", err)
	}
	for _, t := range tokens {
		tok := &market.Token{Ticker: t.Ticker, Decimals: t.Decimals, Name: t.Name}
		if err := registry.CreateToken(tok); err != nil {
			return fmt.Errorf("restore token %s: %w", t.Ticker, err)
		}
	}

	records, err := store.LoadAllMarkets()
	if err != nil {
		return fmt.Errorf("load markets: %w", err)
	}
	for _, rec := range records {
		m, err := marketFromRecord(rec)
		if err != nil {
			return fmt.Errorf("restore market %s: %w", rec.ID, err)
		}
		if err := registry.CreateMarket(m); err != nil {
			return fmt.Errorf("restore market %s: %w", rec.ID, err)
		}
		r.RegisterNewMarket(m)
		log.Info("restored market", zap.String("market", m.ID))
	}
	return nil
}

// marketFromRecord is toMarketRecord's inverse: MarketRecord stores
// tick/lot/min size as raw atom strings, the same internal format
// fixedpoint.Amount's BigInt round-trips through.
func marketFromRecord(rec history.MarketRecord) (*market.Market, error) {
	tick, err := fixedpoint.FromDecimalString(rec.TickSize, 0)
	if err != nil {
		return nil, fmt.Errorf("tick_size: %w", err)
	}
	lot, err := fixedpoint.FromDecimalString(rec.LotSize, 0)
	if err != nil {
		return nil, fmt.Errorf("lot_size: %w", err)
	}
	minSize, err := fixedpoint.FromDecimalString(rec.MinSize, 0)
	if err != nil {
		return nil, fmt.Errorf("min_size: %w", err)
	}
	return &market.Market{
		ID: rec.ID, BaseTicker: rec.BaseTicker, QuoteTicker: rec.QuoteTicker,
		BaseDecimals: rec.BaseDecimals, QuoteDecimals: rec.QuoteDecimals,
		TickSize: tick, LotSize: lot, MinSize: minSize,
		MakerFeeBps: rec.MakerFeeBps, TakerFeeBps: rec.TakerFeeBps,
		Status: market.ParseStatus(rec.Status),
	}, nil
}
