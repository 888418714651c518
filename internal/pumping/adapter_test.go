package pumping

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"tradebridge/internal/metrics"
)

var (
	testMetricsOnce sync.Once
	testMetrics     *metrics.Metrics
)

func sharedTestMetrics() *metrics.Metrics {
	testMetricsOnce.Do(func() { testMetrics = metrics.New() })
	return testMetrics
}

type fakeManager struct {
	mu              sync.Mutex
	cb              func(code int, data []byte)
	registerErr     error
	unregisterCalls int
}

func (f *fakeManager) RegisterPumpCallback(cb func(code int, data []byte)) error {
	if f.registerErr != nil {
		return f.registerErr
	}
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
	return nil
}

func (f *fakeManager) UnregisterPumpCallback() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregisterCalls++
	return nil
}

func (f *fakeManager) push(code EventCode, data []byte) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb != nil {
		cb(int(code), data)
	}
}

type recordingSubscriber struct {
	mu     sync.Mutex
	events []DecodedEvent
}

func (r *recordingSubscriber) Deliver(e DecodedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSubscriber) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestAdapterStartSucceedsOnPumpingStarted(t *testing.T) {
	fm := &fakeManager{}
	a := New(fm, 16, time.Second, time.Second, 2, zerolog.Nop(), sharedTestMetrics())
	sub := &recordingSubscriber{}
	shutdown := make(chan struct{})

	resultCh := make(chan Result, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := a.Start(context.Background(), sub, shutdown)
		resultCh <- res
		errCh <- err
	}()

	// give Start a moment to register the callback before we simulate the
	// broker's pumping-started push
	waitForCondition(t, func() bool {
		fm.mu.Lock()
		defer fm.mu.Unlock()
		return fm.cb != nil
	})
	fm.push(CodePumpingStarted, nil)

	res := <-resultCh
	err := <-errCh
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if !res.OK {
		t.Fatalf("Start result not OK: %+v", res)
	}

	close(shutdown)
}

func TestAdapterStartTimesOutWithoutPumpingStarted(t *testing.T) {
	fm := &fakeManager{}
	a := New(fm, 16, 20*time.Millisecond, time.Second, 2, zerolog.Nop(), sharedTestMetrics())
	sub := &recordingSubscriber{}
	shutdown := make(chan struct{})
	defer close(shutdown)

	res, err := a.Start(context.Background(), sub, shutdown)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if res.OK {
		t.Fatal("expected non-OK result on startup timeout")
	}
	if fm.unregisterCalls != 1 {
		t.Errorf("expected callback to be deregistered on timeout, got %d calls", fm.unregisterCalls)
	}
}

func TestAdapterDecodesAndDeliversBidAsk(t *testing.T) {
	fm := &fakeManager{}
	a := New(fm, 16, time.Second, time.Second, 2, zerolog.Nop(), sharedTestMetrics())
	sub := &recordingSubscriber{}
	shutdown := make(chan struct{})
	defer close(shutdown)

	go a.Start(context.Background(), sub, shutdown)
	waitForCondition(t, func() bool {
		fm.mu.Lock()
		defer fm.mu.Unlock()
		return fm.cb != nil
	})
	fm.push(CodePumpingStarted, nil)

	raw := encodeSymbolInfo("EURUSD", 1.1, 1.1002, 5, 1_700_000_000)
	fm.push(CodeBidAskUpdated, raw)

	waitForCondition(t, func() bool { return sub.count() >= 1 })

	sub.mu.Lock()
	defer sub.mu.Unlock()
	var found bool
	for _, e := range sub.events {
		if e.Quote != nil && e.Quote.Symbol == "EURUSD" {
			found = true
		}
	}
	if !found {
		t.Error("expected a decoded EURUSD quote event to be delivered")
	}
}

func TestAdapterNullPayloadCountsDecodeError(t *testing.T) {
	fm := &fakeManager{}
	a := New(fm, 16, time.Second, time.Second, 2, zerolog.Nop(), sharedTestMetrics())
	sub := &recordingSubscriber{}
	shutdown := make(chan struct{})
	defer close(shutdown)

	go a.Start(context.Background(), sub, shutdown)
	waitForCondition(t, func() bool {
		fm.mu.Lock()
		defer fm.mu.Unlock()
		return fm.cb != nil
	})
	fm.push(CodePumpingStarted, nil)

	before := a.Stats().DecodeErrors
	fm.push(CodeBidAskUpdated, nil) // null data pointer
	waitForCondition(t, func() bool { return a.Stats().DecodeErrors > before })
}

// TestHandoffDropsOnFullQueue exercises the adapter's handoff channel
// directly, bypassing Start/run, so the drop-new behaviour at capacity
// is deterministic rather than racing the event worker.
func TestHandoffDropsOnFullQueue(t *testing.T) {
	fm := &fakeManager{}
	a := New(fm, 2, time.Second, time.Second, 2, zerolog.Nop(), sharedTestMetrics())

	a.handoff <- DecodedEvent{Code: CodeMail}
	a.handoff <- DecodedEvent{Code: CodeMail}

	a.onPush(int(CodeMail), nil)
	a.onPush(int(CodeMail), nil)

	stats := a.Stats()
	if stats.Dropped != 2 {
		t.Errorf("dropped = %d, want 2 (handoff channel was at capacity)", stats.Dropped)
	}
	if stats.Received != 2 {
		t.Errorf("received = %d, want 2", stats.Received)
	}
}

func TestAdapterSubscriberPanicIsCountedAndRecovered(t *testing.T) {
	fm := &fakeManager{}
	a := New(fm, 16, time.Second, time.Second, 2, zerolog.Nop(), sharedTestMetrics())
	shutdown := make(chan struct{})
	defer close(shutdown)

	var delivered atomic.Int64
	sub := SubscriberFunc(func(e DecodedEvent) {
		if delivered.Add(1) == 1 {
			panic("subscriber bug")
		}
	})

	go a.Start(context.Background(), sub, shutdown)
	waitForCondition(t, func() bool {
		fm.mu.Lock()
		defer fm.mu.Unlock()
		return fm.cb != nil
	})
	fm.push(CodePumpingStarted, nil)

	before := testutil.ToFloat64(sharedTestMetrics().PumpSubscriberPanics)
	fm.push(CodeMail, nil)
	fm.push(CodeMail, nil)

	// the worker must survive the first delivery's panic and keep going
	waitForCondition(t, func() bool { return delivered.Load() >= 3 })
	waitForCondition(t, func() bool {
		return testutil.ToFloat64(sharedTestMetrics().PumpSubscriberPanics)-before >= 1
	})
}

func TestAdapterStopIsIdempotent(t *testing.T) {
	fm := &fakeManager{}
	a := New(fm, 16, time.Second, time.Second, 2, zerolog.Nop(), sharedTestMetrics())
	sub := &recordingSubscriber{}
	shutdown := make(chan struct{})

	go a.Start(context.Background(), sub, shutdown)
	waitForCondition(t, func() bool {
		fm.mu.Lock()
		defer fm.mu.Unlock()
		return fm.cb != nil
	})
	fm.push(CodePumpingStarted, nil)
	waitForCondition(t, func() bool { return state(a.state.Load()) == stateRunning })

	close(shutdown) // let the owned worker exit promptly instead of waiting out Stop's drain deadline
	a.Stop()
	a.Stop() // must not panic or block a second time

	if fm.unregisterCalls != 1 {
		t.Errorf("expected exactly one UnregisterPumpCallback call, got %d", fm.unregisterCalls)
	}
}

func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
