package dispatcher

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tradebridge/internal/types"
)

// QuoteAggregator enforces a maximum number of quote updates per second
// per symbol in front of a subscriber. Excess updates within a window
// are coalesced: only the most recent pending value per symbol survives,
// emitted as soon as the next admission slot opens. Symbols are never
// reordered relative to each other, and the final value of a burst is
// never dropped.
type QuoteAggregator struct {
	mu       sync.Mutex
	symbols  map[string]*symbolState
	rate     rate.Limit
	interval time.Duration
	deliver  func(types.Quote)
}

type symbolState struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	pending *types.Quote
	timer   *time.Timer
}

// NewQuoteAggregator wraps deliver so that it is called at most
// maxPerSecond times per second for any one symbol.
func NewQuoteAggregator(maxPerSecond int, deliver func(types.Quote)) *QuoteAggregator {
	if maxPerSecond <= 0 {
		maxPerSecond = 1
	}
	return &QuoteAggregator{
		symbols:  make(map[string]*symbolState),
		rate:     rate.Limit(maxPerSecond),
		interval: time.Second / time.Duration(maxPerSecond),
		deliver:  deliver,
	}
}

// Handle is the Quote subscriber entrypoint: register this as the callback
// passed to Dispatcher.SubscribeQuotes.
func (a *QuoteAggregator) Handle(q types.Quote) {
	st := a.stateFor(q.Symbol)

	st.mu.Lock()
	if st.limiter.Allow() {
		st.mu.Unlock()
		a.deliver(q)
		return
	}

	st.pending = &q
	if st.timer == nil {
		st.timer = time.AfterFunc(a.interval, func() { a.flush(st) })
	}
	st.mu.Unlock()
}

func (a *QuoteAggregator) flush(st *symbolState) {
	st.mu.Lock()
	pending := st.pending
	st.pending = nil
	st.timer = nil
	st.mu.Unlock()

	if pending == nil {
		return
	}
	st.limiter.Allow() // consume the slot this flush occupies
	a.deliver(*pending)
}

func (a *QuoteAggregator) stateFor(symbol string) *symbolState {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.symbols[symbol]
	if !ok {
		st = &symbolState{limiter: rate.NewLimiter(a.rate, 1)}
		a.symbols[symbol] = st
	}
	return st
}
