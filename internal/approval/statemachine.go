// Package approval is the approval state machine: it holds pending
// signals keyed by signal id, integrates external accept/reject/modify
// verdicts, and drives approved signals through the order client,
// resolving execution price from the dispatcher's quote cache or a
// synchronous broker fetch.
package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradebridge/internal/broker"
	"tradebridge/internal/metrics"
	"tradebridge/internal/types"
)

// Decision is an external verdict on a pending signal.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionModify  Decision = "modify"
)

// Overrides carries the fields a "modify" verdict patches.
type Overrides struct {
	VolumeLots *decimal.Decimal
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
}

// QuoteSource is the subset of the dispatcher the state machine needs
// to resolve execution price — declared locally to avoid depending on
// the dispatcher's full subscription surface.
type QuoteSource interface {
	LatestQuote(symbol string) (types.Quote, bool)
}

// OrderPlacer is the subset of the order client the state machine
// needs.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error)
}

// SymbolLookup resolves a symbol's current price synchronously when no
// quote is cached.
type SymbolLookup interface {
	SymbolInfo(ctx context.Context, symbol string) (*broker.SymbolInfo, error)
}

// StateMachine owns the pending-signal map and its transitions.
type StateMachine struct {
	mu      sync.Mutex
	pending map[string]*types.PendingSignal

	quotes  QuoteSource
	orders  OrderPlacer
	symbols SymbolLookup

	retention time.Duration
	logger    zerolog.Logger
	metrics   *metrics.Metrics

	connectionLost bool
}

// New constructs a StateMachine.
func New(quotes QuoteSource, orders OrderPlacer, symbols SymbolLookup, retention time.Duration, logger zerolog.Logger, m *metrics.Metrics) *StateMachine {
	return &StateMachine{
		pending:   make(map[string]*types.PendingSignal),
		quotes:    quotes,
		orders:    orders,
		symbols:   symbols,
		retention: retention,
		logger:    logger.With().Str("component", "approval_state_machine").Logger(),
		metrics:   m,
	}
}

// Enqueue places a newly ingested signal into the pending state.
// Re-enqueuing an id already present is a no-op — the ingestion loop's
// "seen" set already guarantees at-most-once delivery here, but the
// state machine does not trust that invariant blindly.
func (sm *StateMachine) Enqueue(signal types.Signal) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, exists := sm.pending[signal.SignalID]; exists {
		return
	}
	sm.pending[signal.SignalID] = &types.PendingSignal{
		Signal: signal,
		Status: types.StatusPending,
	}
	sm.metrics.SignalsPending.Set(float64(sm.countPendingLocked()))
}

// Verdict applies decision to signalID. Idempotent: a verdict against a
// non-pending id is logged and otherwise a no-op.
func (sm *StateMachine) Verdict(ctx context.Context, signalID string, decision Decision, overrides Overrides, verdictBy string) error {
	sm.mu.Lock()
	ps, ok := sm.pending[signalID]
	if !ok {
		sm.mu.Unlock()
		return fmt.Errorf("approval: unknown signal %q", signalID)
	}
	if ps.Status != types.StatusPending {
		sm.mu.Unlock()
		sm.logger.Info().Str("signal_id", signalID).Str("status", string(ps.Status)).Msg("verdict on non-pending signal ignored")
		return nil
	}

	now := time.Now()
	switch decision {
	case DecisionReject:
		ps.Status = types.StatusRejected
		ps.VerdictBy = verdictBy
		ps.VerdictAt = &now
		ps.TerminalAt = &now
		sm.metrics.SignalsRejected.Inc()
		sm.metrics.SignalsPending.Set(float64(sm.countPendingLocked()))
		sm.mu.Unlock()
		return nil

	case DecisionModify:
		if overrides.VolumeLots != nil {
			ps.VolumeLots = *overrides.VolumeLots
		}
		if overrides.StopLoss != nil {
			ps.StopLoss = overrides.StopLoss
		}
		if overrides.TakeProfit != nil {
			ps.TakeProfit = overrides.TakeProfit
		}
		ps.VerdictBy = verdictBy
		ps.VerdictAt = &now
		sm.mu.Unlock()
		return nil

	case DecisionApprove:
		if sm.connectionLost {
			sm.mu.Unlock()
			sm.fail(signalID, "NotConnected")
			return fmt.Errorf("approval: broker connection lost, signal %q failed", signalID)
		}
		ps.Status = types.StatusApproved
		ps.VerdictBy = verdictBy
		ps.VerdictAt = &now
		snapshot := ps.Clone()
		sm.mu.Unlock()
		sm.execute(ctx, signalID, snapshot)
		return nil

	default:
		sm.mu.Unlock()
		return fmt.Errorf("approval: unknown decision %q", decision)
	}
}

// ExecuteNow bypasses the pending state and submits signal immediately,
// used when auto-execute is configured.
func (sm *StateMachine) ExecuteNow(ctx context.Context, signal types.Signal) {
	sm.mu.Lock()
	ps := &types.PendingSignal{Signal: signal, Status: types.StatusApproved}
	sm.pending[signal.SignalID] = ps
	snapshot := ps.Clone()
	sm.mu.Unlock()

	sm.execute(ctx, signal.SignalID, snapshot)
}

// execute resolves price if needed and invokes the order client,
// recording the terminal transition. ps must already be StatusApproved.
func (sm *StateMachine) execute(ctx context.Context, signalID string, ps types.PendingSignal) {
	req, err := sm.buildOrderRequest(ctx, ps)
	if err != nil {
		sm.fail(signalID, err.Error())
		return
	}

	result, err := sm.orders.PlaceOrder(ctx, req)
	if err != nil {
		sm.fail(signalID, err.Error())
		return
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	cur, ok := sm.pending[signalID]
	if !ok {
		return
	}
	now := time.Now()
	cur.Status = types.StatusExecuted
	cur.ExecutedTicket = &result.Ticket
	cur.TerminalAt = &now
	sm.metrics.SignalsExecuted.Inc()
	sm.metrics.SignalsPending.Set(float64(sm.countPendingLocked()))
}

func (sm *StateMachine) fail(signalID, reason string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	cur, ok := sm.pending[signalID]
	if !ok {
		return
	}
	now := time.Now()
	cur.Status = types.StatusFailed
	cur.FailureReason = reason
	cur.TerminalAt = &now
	sm.metrics.SignalsFailed.Inc()
	sm.metrics.SignalsPending.Set(float64(sm.countPendingLocked()))
}

// buildOrderRequest resolves the execution price for market orders:
// cached quote first, then a synchronous symbol-info fetch, then
// SymbolUnavailable.
func (sm *StateMachine) buildOrderRequest(ctx context.Context, ps types.PendingSignal) (broker.OrderRequest, error) {
	req := broker.OrderRequest{
		AccountID:  ps.AccountID,
		Symbol:     ps.Symbol,
		Side:       string(ps.Kind),
		VolumeLots: ps.VolumeLots,
		Comment:    ps.Comment,
	}
	if ps.StopLoss != nil {
		req.StopLoss = *ps.StopLoss
	}
	if ps.TakeProfit != nil {
		req.TakeProfit = *ps.TakeProfit
	}
	if ps.Ticket != nil {
		req.Ticket = *ps.Ticket
	}

	if ps.Kind.RequiresTicket() || ps.Kind.IsPending() {
		if ps.Price != nil {
			req.Price = *ps.Price
		}
		return req, nil
	}

	if q, ok := sm.quotes.LatestQuote(ps.Symbol); ok {
		req.Price = q.Ask
		if isSellSide(ps.Kind) {
			req.Price = q.Bid
		}
		return req, nil
	}

	info, err := sm.symbols.SymbolInfo(ctx, ps.Symbol)
	if err != nil || info == nil {
		return broker.OrderRequest{}, &broker.SymbolUnavailable{Symbol: ps.Symbol}
	}
	req.Price = decimalFromFloat(info.Ask)
	if isSellSide(ps.Kind) {
		req.Price = decimalFromFloat(info.Bid)
	}
	return req, nil
}

func decimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func isSellSide(kind types.SignalKind) bool {
	return kind == types.SignalSell || kind == types.SignalSellLimit || kind == types.SignalSellStop
}

// Get returns a copy of the pending signal for signalID, if present.
func (sm *StateMachine) Get(signalID string) (types.PendingSignal, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	ps, ok := sm.pending[signalID]
	if !ok {
		return types.PendingSignal{}, false
	}
	return ps.Clone(), true
}

// PendingCount returns the number of signals currently awaiting a
// verdict.
func (sm *StateMachine) PendingCount() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.countPendingLocked()
}

// Evict removes terminal entries older than the retention window.
// Callers run this periodically (e.g. on a ticker in the owning
// process).
func (sm *StateMachine) Evict(now time.Time) int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	removed := 0
	for id, ps := range sm.pending {
		if ps.TerminalAt != nil && now.Sub(*ps.TerminalAt) > sm.retention {
			delete(sm.pending, id)
			removed++
		}
	}
	return removed
}

// SetConnectionLost is called by the owning process when the pumping
// adapter reports a broker ping timeout. While set, new approvals fail
// immediately with NotConnected rather than attempting an order the
// broker link cannot carry.
func (sm *StateMachine) SetConnectionLost(lost bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.connectionLost = lost
}

func (sm *StateMachine) countPendingLocked() int {
	n := 0
	for _, ps := range sm.pending {
		if ps.Status == types.StatusPending {
			n++
		}
	}
	return n
}
