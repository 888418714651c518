// Package dispatcher is the event dispatcher: the single place a decoded
// pumping event fans out to every interested consumer. It keeps a
// last-value cache of quotes (by symbol) and trades (by order id, LRU
// bounded), and delivers to subscribers through their own bounded
// mailbox so one slow or panicking subscriber can never block or crash
// another.
package dispatcher

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"tradebridge/internal/metrics"
	"tradebridge/internal/pumping"
	"tradebridge/internal/types"
)

// Stats is a point-in-time snapshot of dispatcher cache and fan-out sizes.
type Stats struct {
	Symbols          int
	Trades           int
	QuoteSubscribers int
	TradeSubscribers int
	CodeSubscribers  int
}

type quoteEntry struct {
	id  int64
	box *mailbox[types.Quote]
}

type tradeEntry struct {
	id  int64
	box *mailbox[types.Trade]
}

type codeEntry struct {
	id      int64
	handler func(pumping.DecodedEvent)
}

// Dispatcher implements pumping.Subscriber: it is the single consumer the
// pumping adapter's owned worker delivers every decoded event to.
type Dispatcher struct {
	mu sync.RWMutex

	quoteCache map[string]types.Quote
	tradeCache map[int64]types.Trade
	tradeLRU   *list.List
	tradeNode  map[int64]*list.Element
	maxTrades  int

	quoteSubs    map[string][]*quoteEntry
	allQuoteSubs []*quoteEntry
	tradeSubs    map[int64][]*tradeEntry
	allTradeSubs []*tradeEntry
	codeSubs     map[pumping.EventCode][]*codeEntry

	nextID  atomic.Int64
	mailCap int

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

var _ pumping.Subscriber = (*Dispatcher)(nil)

// New constructs a Dispatcher. mailboxCapacity bounds every subscriber
// mailbox; maxTrades bounds the LRU trade cache.
func New(mailboxCapacity, maxTrades int, logger zerolog.Logger, m *metrics.Metrics) *Dispatcher {
	if mailboxCapacity <= 0 {
		mailboxCapacity = 64
	}
	if maxTrades <= 0 {
		maxTrades = 10000
	}
	return &Dispatcher{
		quoteCache: make(map[string]types.Quote),
		tradeCache: make(map[int64]types.Trade),
		tradeLRU:   list.New(),
		tradeNode:  make(map[int64]*list.Element),
		maxTrades:  maxTrades,
		quoteSubs:  make(map[string][]*quoteEntry),
		tradeSubs:  make(map[int64][]*tradeEntry),
		codeSubs:   make(map[pumping.EventCode][]*codeEntry),
		mailCap:    mailboxCapacity,
		logger:     logger.With().Str("component", "dispatcher").Logger(),
		metrics:    m,
	}
}

// Deliver is the pumping.Subscriber entrypoint. Delivery order is:
// code-keyed handlers first (statistics/opaque events), then
// symbol/account-keyed subscribers, then all-subscribers — each group in
// its own subscription order.
func (d *Dispatcher) Deliver(event pumping.DecodedEvent) {
	d.deliverCode(event)

	switch {
	case event.Quote != nil:
		d.deliverQuote(*event.Quote)
	case event.Trade != nil:
		d.deliverTrade(*event.Trade)
	}
}

func (d *Dispatcher) deliverCode(event pumping.DecodedEvent) {
	d.mu.RLock()
	handlers := append([]*codeEntry(nil), d.codeSubs[event.Code]...)
	d.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.metrics.DispatchErrors.WithLabelValues("code").Inc()
					d.logger.Error().Interface("panic", r).Msg("code handler panic recovered")
				}
			}()
			h.handler(event)
		}()
	}
}

func (d *Dispatcher) deliverQuote(q types.Quote) {
	d.mu.Lock()
	if prev, ok := d.quoteCache[q.Symbol]; ok && q.BrokerTimestamp < prev.BrokerTimestamp {
		d.mu.Unlock()
		return
	}
	d.quoteCache[q.Symbol] = q
	d.metrics.QuoteCacheSize.Set(float64(len(d.quoteCache)))
	symbolSubs := append([]*quoteEntry(nil), d.quoteSubs[q.Symbol]...)
	allSubs := append([]*quoteEntry(nil), d.allQuoteSubs...)
	d.mu.Unlock()

	for _, s := range symbolSubs {
		s.box.push(q)
	}
	for _, s := range allSubs {
		s.box.push(q)
	}
}

func (d *Dispatcher) deliverTrade(t types.Trade) {
	d.mu.Lock()
	if prev, ok := d.tradeCache[t.OrderID]; ok && t.Timestamp < prev.Timestamp {
		d.mu.Unlock()
		return
	}
	d.touchTradeCache(t)
	accountSubs := append([]*tradeEntry(nil), d.tradeSubs[t.AccountID]...)
	allSubs := append([]*tradeEntry(nil), d.allTradeSubs...)
	d.mu.Unlock()

	for _, s := range accountSubs {
		s.box.push(t)
	}
	for _, s := range allSubs {
		s.box.push(t)
	}
}

// touchTradeCache inserts/updates the trade cache entry for t.OrderID,
// marking it most-recently-used, and evicts the least-recently-used entry
// once the cache exceeds maxTrades. Caller holds d.mu.
func (d *Dispatcher) touchTradeCache(t types.Trade) {
	d.tradeCache[t.OrderID] = t
	if el, ok := d.tradeNode[t.OrderID]; ok {
		d.tradeLRU.MoveToFront(el)
	} else {
		d.tradeNode[t.OrderID] = d.tradeLRU.PushFront(t.OrderID)
	}
	for len(d.tradeCache) > d.maxTrades {
		oldest := d.tradeLRU.Back()
		if oldest == nil {
			break
		}
		orderID := oldest.Value.(int64)
		d.tradeLRU.Remove(oldest)
		delete(d.tradeNode, orderID)
		delete(d.tradeCache, orderID)
	}
	d.metrics.TradeCacheSize.Set(float64(len(d.tradeCache)))
}

// SubscribeQuotes registers deliver for every update to symbol, via its
// own bounded mailbox. The returned func unsubscribes.
func (d *Dispatcher) SubscribeQuotes(symbol string, deliver func(types.Quote)) func() {
	id := d.nextID.Add(1)
	entry := &quoteEntry{id: id, box: newMailbox(d.mailCap, deliver, func() {
		d.metrics.SubscriberLagged.WithLabelValues("quote").Inc()
	}, d.panicHandler("quote"))}

	d.mu.Lock()
	d.quoteSubs[symbol] = append(d.quoteSubs[symbol], entry)
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		d.quoteSubs[symbol] = removeQuote(d.quoteSubs[symbol], id)
		d.mu.Unlock()
		entry.box.close()
	}
}

// SubscribeAllQuotes registers deliver for every quote update regardless
// of symbol.
func (d *Dispatcher) SubscribeAllQuotes(deliver func(types.Quote)) func() {
	id := d.nextID.Add(1)
	entry := &quoteEntry{id: id, box: newMailbox(d.mailCap, deliver, func() {
		d.metrics.SubscriberLagged.WithLabelValues("quote_all").Inc()
	}, d.panicHandler("quote_all"))}

	d.mu.Lock()
	d.allQuoteSubs = append(d.allQuoteSubs, entry)
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		d.allQuoteSubs = removeQuote(d.allQuoteSubs, id)
		d.mu.Unlock()
		entry.box.close()
	}
}

// SubscribeTrades registers deliver for every trade update belonging to
// accountID.
func (d *Dispatcher) SubscribeTrades(accountID int64, deliver func(types.Trade)) func() {
	id := d.nextID.Add(1)
	entry := &tradeEntry{id: id, box: newMailbox(d.mailCap, deliver, func() {
		d.metrics.SubscriberLagged.WithLabelValues("trade").Inc()
	}, d.panicHandler("trade"))}

	d.mu.Lock()
	d.tradeSubs[accountID] = append(d.tradeSubs[accountID], entry)
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		d.tradeSubs[accountID] = removeTrade(d.tradeSubs[accountID], id)
		d.mu.Unlock()
		entry.box.close()
	}
}

// SubscribeAllTrades registers deliver for every trade update regardless
// of account.
func (d *Dispatcher) SubscribeAllTrades(deliver func(types.Trade)) func() {
	id := d.nextID.Add(1)
	entry := &tradeEntry{id: id, box: newMailbox(d.mailCap, deliver, func() {
		d.metrics.SubscriberLagged.WithLabelValues("trade_all").Inc()
	}, d.panicHandler("trade_all"))}

	d.mu.Lock()
	d.allTradeSubs = append(d.allTradeSubs, entry)
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		d.allTradeSubs = removeTrade(d.allTradeSubs, id)
		d.mu.Unlock()
		entry.box.close()
	}
}

// OnCode registers handler to run synchronously, in-line on the
// dispatcher's calling goroutine, for every event of the given code.
// Used for statistics/opaque codes that have no typed payload.
func (d *Dispatcher) OnCode(code pumping.EventCode, handler func(pumping.DecodedEvent)) func() {
	id := d.nextID.Add(1)
	entry := &codeEntry{id: id, handler: handler}

	d.mu.Lock()
	d.codeSubs[code] = append(d.codeSubs[code], entry)
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		subs := d.codeSubs[code]
		for i, e := range subs {
			if e.id == id {
				d.codeSubs[code] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		d.mu.Unlock()
	}
}

// panicHandler builds the recover callback a subscriber mailbox invokes
// when the subscriber panics: the error is counted under kind and
// logged, and delivery continues for every other subscriber.
func (d *Dispatcher) panicHandler(kind string) func(any) {
	return func(r any) {
		d.metrics.DispatchErrors.WithLabelValues(kind).Inc()
		d.logger.Error().Interface("panic", r).Str("kind", kind).Msg("subscriber panic recovered")
	}
}

// LatestQuote returns the cached last-value quote for symbol, if any.
func (d *Dispatcher) LatestQuote(symbol string) (types.Quote, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	q, ok := d.quoteCache[symbol]
	return q, ok
}

// LatestTrade returns the cached last-value trade for orderID, if any.
func (d *Dispatcher) LatestTrade(orderID int64) (types.Trade, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tradeCache[orderID]
	return t, ok
}

// SnapshotQuotes returns every cached quote. Order is unspecified.
func (d *Dispatcher) SnapshotQuotes() []types.Quote {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]types.Quote, 0, len(d.quoteCache))
	for _, q := range d.quoteCache {
		out = append(out, q)
	}
	return out
}

// Stats returns a snapshot of cache and fan-out sizes.
func (d *Dispatcher) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	codeSubs := 0
	for _, subs := range d.codeSubs {
		codeSubs += len(subs)
	}
	quoteSubs := len(d.allQuoteSubs)
	for _, subs := range d.quoteSubs {
		quoteSubs += len(subs)
	}
	tradeSubs := len(d.allTradeSubs)
	for _, subs := range d.tradeSubs {
		tradeSubs += len(subs)
	}

	return Stats{
		Symbols:          len(d.quoteCache),
		Trades:           len(d.tradeCache),
		QuoteSubscribers: quoteSubs,
		TradeSubscribers: tradeSubs,
		CodeSubscribers:  codeSubs,
	}
}

func removeQuote(subs []*quoteEntry, id int64) []*quoteEntry {
	for i, e := range subs {
		if e.id == id {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}

func removeTrade(subs []*tradeEntry, id int64) []*tradeEntry {
	for i, e := range subs {
		if e.id == id {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}
