package types

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNewQuoteSpread(t *testing.T) {
	bid := decimal.NewFromFloat(1.1000)
	ask := decimal.NewFromFloat(1.1002)

	q := NewQuote("EURUSD", bid, ask, 5, 1_700_000_000, time.Unix(1_700_000_001, 0))

	want := decimal.NewFromFloat(2.0)
	if !q.Spread.Equal(want) {
		t.Errorf("spread = %s, want %s", q.Spread, want)
	}
	if q.Symbol != "EURUSD" {
		t.Errorf("symbol = %q, want EURUSD", q.Symbol)
	}
	if q.BrokerTimestamp != 1_700_000_000 {
		t.Errorf("broker timestamp = %d, want 1700000000", q.BrokerTimestamp)
	}
}

func TestSignalKindIsPending(t *testing.T) {
	cases := map[SignalKind]bool{
		SignalBuy:       false,
		SignalSell:      false,
		SignalBuyLimit:  true,
		SignalSellLimit: true,
		SignalBuyStop:   true,
		SignalSellStop:  true,
		SignalClose:     false,
		SignalModify:    false,
	}
	for kind, want := range cases {
		if got := kind.IsPending(); got != want {
			t.Errorf("%s.IsPending() = %v, want %v", kind, got, want)
		}
	}
}

func TestSignalKindRequiresTicket(t *testing.T) {
	if !SignalClose.RequiresTicket() {
		t.Error("close should require ticket")
	}
	if !SignalModify.RequiresTicket() {
		t.Error("modify should require ticket")
	}
	if SignalBuy.RequiresTicket() {
		t.Error("buy should not require ticket")
	}
}

func TestPendingStatusIsTerminal(t *testing.T) {
	terminal := []PendingStatus{StatusRejected, StatusExecuted, StatusFailed}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	nonTerminal := []PendingStatus{StatusPending, StatusApproved}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestPendingSignalCloneIsDeep(t *testing.T) {
	price := decimal.NewFromFloat(1.1)
	ticket := int64(42)

	orig := PendingSignal{
		Signal: Signal{
			SignalID: "S1",
			Price:    &price,
			Ticket:   &ticket,
		},
		Status:         StatusExecuted,
		ExecutedTicket: &ticket,
	}

	clone := orig.Clone()
	*clone.Price = decimal.NewFromFloat(9.9)
	*clone.Ticket = 999
	*clone.ExecutedTicket = 999

	if orig.Price.Equal(*clone.Price) {
		t.Error("mutating clone's Price mutated the original")
	}
	if *orig.Ticket == *clone.Ticket {
		t.Error("mutating clone's Ticket mutated the original")
	}
	if *orig.ExecutedTicket == *clone.ExecutedTicket {
		t.Error("mutating clone's ExecutedTicket mutated the original")
	}
}

func TestPendingSignalCloneNilFields(t *testing.T) {
	orig := PendingSignal{Signal: Signal{SignalID: "S1"}, Status: StatusPending}
	clone := orig.Clone()
	if clone.Price != nil || clone.Ticket != nil || clone.ExecutedTicket != nil {
		t.Error("clone of nil optional fields should stay nil")
	}
}
