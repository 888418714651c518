// Package pumping owns the lifecycle of the broker library's push mode:
// it installs a callback that the broker invokes on a thread it owns,
// decodes raw records inline on that thread, and hands typed values across
// a bounded, non-blocking handoff channel to a single owned worker. No
// subscriber code ever runs on the broker's thread.
package pumping

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"tradebridge/internal/metrics"
)

type state int32

const (
	stateIdle state = iota
	stateStarting
	stateRunning
	stateStopping
)

// Result is returned by Start.
type Result struct {
	OK      bool
	Message string
}

// Stats is a snapshot of the adapter's counters.
type Stats struct {
	Received     int64
	Dispatched   int64
	DecodeErrors int64
	Dropped      int64
	LastEventAt  time.Time
	Uptime       time.Duration
}

// Adapter owns push-mode lifecycle against a BrokerManager.
type Adapter struct {
	manager BrokerManager

	handoff  chan DecodedEvent
	started  chan struct{}
	stopped  chan struct{}
	connLost chan struct{}
	lostOnce sync.Once

	state       atomic.Int32
	startedAt   atomic.Int64 // unix nanos, 0 if not started
	lastEventAt atomic.Int64
	lastPingAt  atomic.Int64

	received     atomic.Int64
	dispatched   atomic.Int64
	decodeErrors atomic.Int64
	dropped      atomic.Int64

	startupWindow time.Duration
	pingTimeout   time.Duration

	logger  zerolog.Logger
	metrics *metrics.Metrics

	workerDone chan struct{}
	stopOnce   sync.Once
}

// BrokerManager is the subset of broker.BrokerManager the adapter needs —
// declared locally so this package doesn't import broker's full trading
// surface just to register a callback.
type BrokerManager interface {
	RegisterPumpCallback(cb func(code int, data []byte)) error
	UnregisterPumpCallback() error
}

// New constructs an Adapter. The ping timeout is pingInterval multiplied
// by pingTimeoutFactor; no ping inside that window means the broker
// connection is considered lost.
func New(manager BrokerManager, handoffCapacity int, startupWindow time.Duration, pingInterval time.Duration, pingTimeoutFactor int, logger zerolog.Logger, m *metrics.Metrics) *Adapter {
	a := &Adapter{
		manager:       manager,
		handoff:       make(chan DecodedEvent, handoffCapacity),
		started:       make(chan struct{}, 1),
		stopped:       make(chan struct{}, 1),
		connLost:      make(chan struct{}),
		startupWindow: startupWindow,
		pingTimeout:   pingInterval * time.Duration(pingTimeoutFactor),
		logger:        logger.With().Str("component", "pumping_adapter").Logger(),
		metrics:       m,
	}
	a.state.Store(int32(stateIdle))
	return a
}

// Start installs the push callback and waits for pumping-started to arrive
// within the configured startup window. The worker that drains the
// handoff channel and invokes subscriber is owned by this call and runs
// until shutdown is closed, pumping-stopped arrives, or the broker ping
// times out; ctx only bounds the wait for pumping-started.
func (a *Adapter) Start(ctx context.Context, subscriber Subscriber, shutdown <-chan struct{}) (Result, error) {
	if state(a.state.Load()) != stateIdle {
		return Result{OK: false, Message: "already running"}, fmt.Errorf("pumping adapter: already running")
	}

	a.state.Store(int32(stateStarting))
	a.startedAt.Store(time.Now().UnixNano())
	a.lastPingAt.Store(time.Now().UnixNano())

	if err := a.manager.RegisterPumpCallback(a.onPush); err != nil {
		a.state.Store(int32(stateIdle))
		return Result{OK: false, Message: "not connected"}, fmt.Errorf("pumping adapter: register callback: %w", err)
	}

	a.workerDone = make(chan struct{})
	go a.run(subscriber, shutdown)

	select {
	case <-a.started:
		a.state.Store(int32(stateRunning))
		a.logger.Info().Msg("pumping adapter running")
		return Result{OK: true}, nil
	case <-time.After(a.startupWindow):
		_ = a.manager.UnregisterPumpCallback()
		a.state.Store(int32(stateIdle))
		return Result{OK: false, Message: "startup timeout"}, fmt.Errorf("pumping adapter: pumping-started not observed within %s", a.startupWindow)
	case <-ctx.Done():
		_ = a.manager.UnregisterPumpCallback()
		a.state.Store(int32(stateIdle))
		return Result{OK: false, Message: "cancelled"}, ctx.Err()
	}
}

// onPush is invoked by the broker library on its own thread. It must never
// block, allocate beyond decoding, or take any lock also held by owned
// code. Decoding happens here; delivery does not.
func (a *Adapter) onPush(code int, data []byte) {
	a.received.Add(1)
	a.metrics.PumpReceived.Inc()
	now := time.Now()

	ec := EventCode(code)
	if ec == CodePing {
		a.lastPingAt.Store(now.UnixNano())
	}

	event, ok := a.decode(ec, data, now)
	if !ok {
		a.decodeErrors.Add(1)
		a.metrics.PumpDecodeErrors.Inc()
		return
	}

	select {
	case a.handoff <- event:
	default:
		a.dropped.Add(1)
		a.metrics.PumpDropped.Inc()
	}

	if ec == CodePumpingStarted {
		select {
		case a.started <- struct{}{}:
		default:
		}
	}
	if ec == CodePumpingStopped {
		select {
		case a.stopped <- struct{}{}:
		default:
		}
	}
}

func (a *Adapter) decode(code EventCode, data []byte, now time.Time) (DecodedEvent, bool) {
	switch code {
	case CodeBidAskUpdated:
		info, ts, err := decodeSymbolInfoPayload(data)
		if err != nil {
			return DecodedEvent{}, false
		}
		q, err := decodeQuote(info, ts, now)
		if err != nil {
			return DecodedEvent{}, false
		}
		return DecodedEvent{Code: code, Quote: &q}, true

	case CodeTradesUpdated:
		rec, err := decodeTradeRecordPayload(data)
		if err != nil {
			return DecodedEvent{}, false
		}
		t, err := decodeTrade(rec)
		if err != nil {
			return DecodedEvent{}, false
		}
		return DecodedEvent{Code: code, Trade: &t}, true

	default:
		// Observed for statistics only, forwarded verbatim.
		return DecodedEvent{Code: code, Raw: data}, true
	}
}

// run is the single owned worker: it drains the handoff channel, delivers
// to subscriber, and watches for ping timeout / external shutdown. This is
// the only place subscriber code executes.
func (a *Adapter) run(subscriber Subscriber, shutdown <-chan struct{}) {
	defer close(a.workerDone)

	pingCheck := time.NewTicker(a.pingTimeout / 2)
	defer pingCheck.Stop()

	draining := false
	for {
		select {
		case event := <-a.handoff:
			a.dispatched.Add(1)
			a.metrics.PumpDispatched.Inc()
			a.lastEventAt.Store(time.Now().UnixNano())
			func() {
				defer func() {
					if r := recover(); r != nil {
						a.metrics.PumpSubscriberPanics.Inc()
						a.logger.Error().Interface("panic", r).Msg("subscriber panic recovered")
					}
				}()
				subscriber.Deliver(event)
			}()
			if draining && len(a.handoff) == 0 {
				return
			}

		case <-pingCheck.C:
			if start := a.startedAt.Load(); start != 0 {
				a.metrics.PumpUptime.Set(time.Since(time.Unix(0, start)).Seconds())
			}
			last := a.lastPingAt.Load()
			if last != 0 && time.Since(time.Unix(0, last)) > a.pingTimeout {
				a.logger.Warn().Msg("broker ping timeout, connection considered lost")
				a.lostOnce.Do(func() { close(a.connLost) })
				return
			}

		case <-a.stopped:
			a.logger.Info().Msg("pumping-stopped observed")
			return

		case <-shutdown:
			// Deliver whatever is already queued before exiting.
			if len(a.handoff) == 0 {
				return
			}
			draining, shutdown = true, nil
		}
	}
}

// Stop deregisters the callback and waits, for at most 2s, until the
// worker has exited. Stop does not signal the worker itself: the worker
// exits once the shutdown channel passed to Start is closed (after
// delivering whatever remains in the handoff channel), when
// pumping-stopped arrives, or on ping timeout.
func (a *Adapter) Stop() {
	a.stopOnce.Do(func() {
		if state(a.state.Load()) == stateIdle {
			return
		}
		a.state.Store(int32(stateStopping))
		_ = a.manager.UnregisterPumpCallback()

		if a.workerDone != nil {
			select {
			case <-a.workerDone:
			case <-time.After(2 * time.Second):
			}
		}
		a.state.Store(int32(stateIdle))
	})
}

// ConnectionLost is closed when the broker stops answering pings and the
// worker has ceased dispatching. Higher layers use it to fail fast instead
// of submitting orders the broker link cannot carry.
func (a *Adapter) ConnectionLost() <-chan struct{} {
	return a.connLost
}

// Stats returns a snapshot of the adapter's counters.
func (a *Adapter) Stats() Stats {
	var uptime time.Duration
	if start := a.startedAt.Load(); start != 0 {
		uptime = time.Since(time.Unix(0, start))
	}
	var lastEvent time.Time
	if le := a.lastEventAt.Load(); le != 0 {
		lastEvent = time.Unix(0, le)
	}
	return Stats{
		Received:     a.received.Load(),
		Dispatched:   a.dispatched.Load(),
		DecodeErrors: a.decodeErrors.Load(),
		Dropped:      a.dropped.Load(),
		LastEventAt:  lastEvent,
		Uptime:       uptime,
	}
}

