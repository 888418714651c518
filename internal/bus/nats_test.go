package bus

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradebridge/internal/types"
)

func TestConnectWithEmptyURLDisablesBus(t *testing.T) {
	b, err := Connect("", zerolog.Nop())
	if err != nil {
		t.Fatalf("Connect(\"\"): %v", err)
	}
	if b != nil {
		t.Fatal("expected a nil *Bus when no URL is configured")
	}
}

func TestNilBusMethodsAreSafeNoOps(t *testing.T) {
	var b *Bus

	// None of these must panic on a nil receiver.
	b.PublishQuote(types.Quote{Symbol: "EURUSD", Bid: decimal.Zero, Ask: decimal.Zero, Spread: decimal.Zero})
	b.PublishTrade(types.Trade{OrderID: 1})
	if err := b.SubscribeQuotes(func(types.Quote) {}); err != nil {
		t.Errorf("SubscribeQuotes on nil bus: %v", err)
	}
	if err := b.SubscribeTrades(func(types.Trade) {}); err != nil {
		t.Errorf("SubscribeTrades on nil bus: %v", err)
	}
	b.Close()
}

func TestSubjectNaming(t *testing.T) {
	if got := quoteSubject("EURUSD"); got != "tradebridge.quote.EURUSD" {
		t.Errorf("quoteSubject = %q", got)
	}
	if got := tradeSubject(12345); got != "tradebridge.trade.12345" {
		t.Errorf("tradeSubject = %q", got)
	}
}
