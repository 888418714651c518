// Package types defines the value-typed data model shared by every
// component of the core: quotes, trades, signals and the pending-signal
// lifecycle.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeSide enumerates the order sides the broker accepts.
type TradeSide string

const (
	SideBuy       TradeSide = "buy"
	SideSell      TradeSide = "sell"
	SideBuyLimit  TradeSide = "buy_limit"
	SideSellLimit TradeSide = "sell_limit"
	SideBuyStop   TradeSide = "buy_stop"
	SideSellStop  TradeSide = "sell_stop"
	SideBalance   TradeSide = "balance"
	SideCredit    TradeSide = "credit"
)

// TradeState is the normalized state of a broker trade record. Values
// outside the known set map to StateUnknown rather than failing decode.
type TradeState string

const (
	StateOpen            TradeState = "open"
	StateClosed          TradeState = "closed"
	StatePartiallyClosed TradeState = "partially_closed"
	StateDeleted         TradeState = "deleted"
	StateUnknown         TradeState = "unknown"
)

// SignalKind enumerates the instruction kinds the advisor can emit.
type SignalKind string

const (
	SignalBuy       SignalKind = "buy"
	SignalSell      SignalKind = "sell"
	SignalBuyLimit  SignalKind = "buy_limit"
	SignalSellLimit SignalKind = "sell_limit"
	SignalBuyStop   SignalKind = "buy_stop"
	SignalSellStop  SignalKind = "sell_stop"
	SignalClose     SignalKind = "close"
	SignalModify    SignalKind = "modify"
)

// IsPending reports whether the kind places a resting (non-market) order,
// which requires an explicit price.
func (k SignalKind) IsPending() bool {
	switch k {
	case SignalBuyLimit, SignalSellLimit, SignalBuyStop, SignalSellStop:
		return true
	default:
		return false
	}
}

// RequiresTicket reports whether the kind operates on an existing ticket
// rather than opening a new position.
func (k SignalKind) RequiresTicket() bool {
	return k == SignalClose || k == SignalModify
}

// Quote is an immutable best-bid/best-ask snapshot for a symbol.
type Quote struct {
	Symbol          string
	Bid             decimal.Decimal
	Ask             decimal.Decimal
	Spread          decimal.Decimal
	BrokerTimestamp int64 // seconds since epoch, as reported by the broker
	ReceiveTime     time.Time
}

// NewQuote constructs a Quote and derives Spread from bid/ask and the
// symbol's digits, per spread = round((ask-bid) * 10^digits, 1).
func NewQuote(symbol string, bid, ask decimal.Decimal, digits int32, brokerTimestamp int64, receiveTime time.Time) Quote {
	scale := decimal.New(1, digits)
	spread := ask.Sub(bid).Mul(scale).Round(1)
	return Quote{
		Symbol:          symbol,
		Bid:             bid,
		Ask:             ask,
		Spread:          spread,
		BrokerTimestamp: brokerTimestamp,
		ReceiveTime:     receiveTime,
	}
}

// Trade is a point-in-time snapshot of a broker order/position.
type Trade struct {
	OrderID    int64
	AccountID  int64
	Symbol     string
	Side       TradeSide
	VolumeLots decimal.Decimal
	OpenPrice  decimal.Decimal
	ClosePrice decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	Profit     decimal.Decimal
	State      TradeState
	Timestamp  int64
}

// Signal is a normalized trade instruction ingested from the advisor's
// journal file.
type Signal struct {
	SignalID   string
	Kind       SignalKind
	Symbol     string
	AccountID  int64
	VolumeLots decimal.Decimal
	Price      *decimal.Decimal
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
	Ticket     *int64
	Comment    string
	ReceivedAt time.Time
}

// PendingStatus is the lifecycle state of a PendingSignal.
type PendingStatus string

const (
	StatusPending  PendingStatus = "pending"
	StatusApproved PendingStatus = "approved"
	StatusRejected PendingStatus = "rejected"
	StatusExecuted PendingStatus = "executed"
	StatusFailed   PendingStatus = "failed"
)

// IsTerminal reports whether the status will never transition again.
func (s PendingStatus) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusExecuted, StatusFailed:
		return true
	default:
		return false
	}
}

// PendingSignal is a Signal plus its approval lifecycle state.
type PendingSignal struct {
	Signal
	Status         PendingStatus
	ExecutedTicket *int64
	FailureReason  string
	VerdictBy      string
	VerdictAt      *time.Time
	TerminalAt     *time.Time
}

// Clone returns a deep-enough copy safe to hand to callers outside the
// approval state machine's lock.
func (p PendingSignal) Clone() PendingSignal {
	out := p
	if p.Price != nil {
		v := *p.Price
		out.Price = &v
	}
	if p.StopLoss != nil {
		v := *p.StopLoss
		out.StopLoss = &v
	}
	if p.TakeProfit != nil {
		v := *p.TakeProfit
		out.TakeProfit = &v
	}
	if p.Ticket != nil {
		v := *p.Ticket
		out.Ticket = &v
	}
	if p.ExecutedTicket != nil {
		v := *p.ExecutedTicket
		out.ExecutedTicket = &v
	}
	return out
}
