package broker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

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

type scriptedManager struct {
	attempts atomic.Int32
	errs     []error // errs[i] is returned on the (i+1)th call; nil means success
	ticket   int64
}

func (m *scriptedManager) TradeTransaction(ctx context.Context, accountID int64, req TradeTransInfo) (int64, error) {
	i := int(m.attempts.Add(1)) - 1
	if i < len(m.errs) && m.errs[i] != nil {
		return 0, m.errs[i]
	}
	return m.ticket, nil
}

func (m *scriptedManager) Connect(ctx context.Context, host string, port int) (Result, error) {
	return Result{}, nil
}
func (m *scriptedManager) Login(ctx context.Context, login int64, password string) (Result, error) {
	return Result{}, nil
}
func (m *scriptedManager) Disconnect() error                                    { return nil }
func (m *scriptedManager) SymbolsAll(ctx context.Context) ([]SymbolInfo, error) { return nil, nil }
func (m *scriptedManager) SymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error) {
	return nil, nil
}
func (m *scriptedManager) TradesAll(ctx context.Context) ([]TradeRecord, error) { return nil, nil }
func (m *scriptedManager) TradesFor(ctx context.Context, accountID int64) ([]TradeRecord, error) {
	return nil, nil
}
func (m *scriptedManager) RegisterPumpCallback(cb func(code int, data []byte)) error { return nil }
func (m *scriptedManager) UnregisterPumpCallback() error                             { return nil }

func TestOrderClientRetriesTransientErrors(t *testing.T) {
	m := &scriptedManager{
		errs:   []error{&Error{Code: CodeServerError}, &Error{Code: CodeServerError}},
		ticket: 42,
	}
	c := NewClient(m, 3, time.Millisecond, zerolog.Nop(), sharedTestMetrics())

	res, err := c.PlaceOrder(context.Background(), OrderRequest{Symbol: "EURUSD", VolumeLots: decimal.NewFromFloat(0.1)})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if res.Ticket != 42 {
		t.Errorf("ticket = %d, want 42", res.Ticket)
	}
	if int(m.attempts.Load()) != 3 {
		t.Errorf("attempts = %d, want 3 (2 retries + success)", m.attempts.Load())
	}
}

func TestOrderClientStopsRetryingAfterNonTransientError(t *testing.T) {
	m := &scriptedManager{errs: []error{&Error{Code: CodeInsufficientFunds}}}
	c := NewClient(m, 5, time.Millisecond, zerolog.Nop(), sharedTestMetrics())

	_, err := c.PlaceOrder(context.Background(), OrderRequest{Symbol: "EURUSD", VolumeLots: decimal.NewFromFloat(0.1)})
	if err == nil {
		t.Fatal("expected error")
	}
	var brokerErr *Error
	if !errors.As(err, &brokerErr) || brokerErr.Code != CodeInsufficientFunds {
		t.Errorf("expected unwrapped insufficient-funds error, got %v", err)
	}
	if int(m.attempts.Load()) != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on non-transient error)", m.attempts.Load())
	}
}

func TestOrderClientExhaustsRetriesAndSurfacesLastError(t *testing.T) {
	m := &scriptedManager{errs: []error{
		&Error{Code: CodeServerError},
		&Error{Code: CodeServerError},
		&Error{Code: CodeServerError},
		&Error{Code: CodeServerError},
	}}
	c := NewClient(m, 3, time.Millisecond, zerolog.Nop(), sharedTestMetrics())

	_, err := c.PlaceOrder(context.Background(), OrderRequest{Symbol: "EURUSD", VolumeLots: decimal.NewFromFloat(0.1)})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if int(m.attempts.Load()) != 4 { // retryMax=3 -> 1 initial + 3 retries
		t.Errorf("attempts = %d, want 4", m.attempts.Load())
	}
}

func TestOrderClientUnclassifiedErrorIsNotRetried(t *testing.T) {
	m := &scriptedManager{errs: []error{errors.New("boom")}}
	c := NewClient(m, 5, time.Millisecond, zerolog.Nop(), sharedTestMetrics())

	_, err := c.PlaceOrder(context.Background(), OrderRequest{Symbol: "EURUSD", VolumeLots: decimal.NewFromFloat(0.1)})
	if err == nil {
		t.Fatal("expected error")
	}
	if int(m.attempts.Load()) != 1 {
		t.Errorf("attempts = %d, want 1 (unclassified errors are not retried)", m.attempts.Load())
	}
}

func TestOrderClientRespectsContextCancellationDuringBackoff(t *testing.T) {
	m := &scriptedManager{errs: []error{&Error{Code: CodeServerError}}}
	c := NewClient(m, 5, time.Hour, zerolog.Nop(), sharedTestMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := c.PlaceOrder(ctx, OrderRequest{Symbol: "EURUSD", VolumeLots: decimal.NewFromFloat(0.1)})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestCodeStringAndTransient(t *testing.T) {
	cases := []struct {
		code      Code
		name      string
		transient bool
	}{
		{CodeGeneric, "generic", false},
		{CodeServerError, "server-error", true},
		{CodeInsufficientFunds, "insufficient-funds", false},
		{Code(999), "unknown error code 999", false},
	}
	for _, tc := range cases {
		if got := tc.code.String(); got != tc.name {
			t.Errorf("Code(%d).String() = %q, want %q", tc.code, got, tc.name)
		}
		if got := tc.code.Transient(); got != tc.transient {
			t.Errorf("Code(%d).Transient() = %v, want %v", tc.code, got, tc.transient)
		}
	}
}

func TestErrorMessageFormatting(t *testing.T) {
	e := &Error{Code: CodeInvalidPrice, Message: "price out of range"}
	if e.Error() != "invalid-price: price out of range" {
		t.Errorf("Error() = %q", e.Error())
	}
	bare := &Error{Code: CodeMarketClosed}
	if bare.Error() != "market-closed" {
		t.Errorf("Error() = %q", bare.Error())
	}
}

func TestSymbolUnavailableError(t *testing.T) {
	err := &SymbolUnavailable{Symbol: "XAUUSD"}
	if err.Error() != "symbol unavailable: XAUUSD" {
		t.Errorf("Error() = %q", err.Error())
	}
}

var _ BrokerManager = (*scriptedManager)(nil)
