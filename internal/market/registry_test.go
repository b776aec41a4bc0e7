package market

import (
	"testing"

	"github.com/exchange-kernel/spotkernel/internal/fixedpoint"
	"github.com/exchange-kernel/spotkernel/internal/kernelerr"
)

func amt(n int64) fixedpoint.Amount { return fixedpoint.FromInt64(n) }

func TestCreateTokenDuplicate(t *testing.T) {
	r := NewRegistry()
	tok := &Token{Ticker: "BTC", Decimals: 8, Name: "Bitcoin"}
	if err := r.CreateToken(tok); err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	if err := r.CreateToken(tok); kernelerr.KindOf(err) != kernelerr.AlreadyExists {
		t.Fatalf("expected AlreadyExists on duplicate ticker, got %v", err)
	}
}

func TestGetTokenUnknown(t *testing.T) {
	r := NewRegistry()
	if _, err := r.GetToken("ETH"); kernelerr.KindOf(err) != kernelerr.UnknownToken {
		t.Fatalf("expected UnknownToken, got %v", err)
	}
}

func testMarket() *Market {
	return &Market{
		ID: "BTC/USDC", BaseTicker: "BTC", QuoteTicker: "USDC",
		BaseDecimals: 8, QuoteDecimals: 6,
		TickSize: amt(1), LotSize: amt(1), MinSize: amt(1),
		MakerFeeBps: 10, TakerFeeBps: 20,
		Status: Active,
	}
}

func TestCreateMarketRequiresKnownTokens(t *testing.T) {
	r := NewRegistry()
	if err := r.CreateMarket(testMarket()); kernelerr.KindOf(err) != kernelerr.UnknownToken {
		t.Fatalf("expected UnknownToken with no tokens registered, got %v", err)
	}

	r.CreateToken(&Token{Ticker: "BTC", Decimals: 8})
	r.CreateToken(&Token{Ticker: "USDC", Decimals: 6})
	if err := r.CreateMarket(testMarket()); err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if err := r.CreateMarket(testMarket()); kernelerr.KindOf(err) != kernelerr.AlreadyExists {
		t.Fatalf("expected AlreadyExists on duplicate market id, got %v", err)
	}
}

func TestGetMarketAndExists(t *testing.T) {
	r := NewRegistry()
	r.CreateToken(&Token{Ticker: "BTC", Decimals: 8})
	r.CreateToken(&Token{Ticker: "USDC", Decimals: 6})
	r.CreateMarket(testMarket())

	if !r.Exists("BTC/USDC") {
		t.Fatal("expected market to exist")
	}
	if r.Exists("ETH/USDC") {
		t.Fatal("expected unknown market to not exist")
	}
	if _, err := r.GetMarket("ETH/USDC"); kernelerr.KindOf(err) != kernelerr.UnknownMarket {
		t.Fatalf("expected UnknownMarket, got %v", err)
	}
}

func TestUpdateStatusRejectsLeavingSettled(t *testing.T) {
	r := NewRegistry()
	r.CreateToken(&Token{Ticker: "BTC", Decimals: 8})
	r.CreateToken(&Token{Ticker: "USDC", Decimals: 6})
	r.CreateMarket(testMarket())

	if err := r.UpdateStatus("BTC/USDC", Paused); err != nil {
		t.Fatalf("UpdateStatus to paused: %v", err)
	}
	m, _ := r.GetMarket("BTC/USDC")
	if m.Status != Paused {
		t.Fatalf("status = %v, want Paused", m.Status)
	}

	if err := r.UpdateStatus("BTC/USDC", Settled); err != nil {
		t.Fatalf("UpdateStatus to settled: %v", err)
	}
	if err := r.UpdateStatus("BTC/USDC", Active); kernelerr.KindOf(err) != kernelerr.InvalidOrder {
		t.Fatalf("expected InvalidOrder reopening a settled market, got %v", err)
	}
}

func TestListTokensAndMarkets(t *testing.T) {
	r := NewRegistry()
	r.CreateToken(&Token{Ticker: "BTC", Decimals: 8})
	r.CreateToken(&Token{Ticker: "USDC", Decimals: 6})
	r.CreateMarket(testMarket())

	if len(r.ListTokens()) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(r.ListTokens()))
	}
	if len(r.ListMarkets()) != 1 {
		t.Fatalf("expected 1 market, got %d", len(r.ListMarkets()))
	}
}

func TestParseStatusRoundTrip(t *testing.T) {
	for _, s := range []Status{Active, Paused, Settling, Settled} {
		if ParseStatus(s.String()) != s {
			t.Fatalf("ParseStatus(%q) != %v", s.String(), s)
		}
	}
	if ParseStatus("garbage") != Active {
		t.Fatalf("expected unrecognized status to default to Active")
	}
}
