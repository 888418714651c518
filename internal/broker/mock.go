package broker

import (
	"context"
	"fmt"
	"sync/atomic"
)

// MockManager is the only BrokerManager implementation that ships in this
// repo: deterministic synthetic tickets, input echo, no network calls.
// It is the backend selected when MOCK_MODE is set and when the native
// broker library is not loadable, and it is the backend exercised by
// mock_test.go; the order-client and approval tests use their own
// scripted managers.
type MockManager struct {
	connected  atomic.Bool
	nextTicket atomic.Int64
	symbols    map[string]SymbolInfo
}

// NewMockManager seeds the mock with a symbol table (bid/ask/digits) used
// to answer SymbolInfo calls.
func NewMockManager(symbols map[string]SymbolInfo) *MockManager {
	m := &MockManager{symbols: symbols}
	m.nextTicket.Store(1_000_000)
	return m
}

func (m *MockManager) Connect(ctx context.Context, host string, port int) (Result, error) {
	m.connected.Store(true)
	return Result{OK: true}, nil
}

func (m *MockManager) Login(ctx context.Context, login int64, password string) (Result, error) {
	if !m.connected.Load() {
		return Result{OK: false, Message: "not connected"}, fmt.Errorf("not connected")
	}
	return Result{OK: true}, nil
}

func (m *MockManager) Disconnect() error {
	m.connected.Store(false)
	return nil
}

func (m *MockManager) SymbolsAll(ctx context.Context) ([]SymbolInfo, error) {
	out := make([]SymbolInfo, 0, len(m.symbols))
	for _, s := range m.symbols {
		out = append(out, s)
	}
	return out, nil
}

func (m *MockManager) SymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error) {
	if s, ok := m.symbols[symbol]; ok {
		return &s, nil
	}
	return nil, fmt.Errorf("unknown symbol: %s", symbol)
}

func (m *MockManager) TradesAll(ctx context.Context) ([]TradeRecord, error) {
	return nil, nil
}

func (m *MockManager) TradesFor(ctx context.Context, accountID int64) ([]TradeRecord, error) {
	return nil, nil
}

// TradeTransaction echoes the request back as a deterministic ticket.
// Close/modify transactions reuse the submitted ticket rather than minting
// a new one.
func (m *MockManager) TradeTransaction(ctx context.Context, accountID int64, req TradeTransInfo) (int64, error) {
	if req.Ticket != 0 {
		return req.Ticket, nil
	}
	return m.nextTicket.Add(1), nil
}

func (m *MockManager) RegisterPumpCallback(cb func(code int, data []byte)) error {
	return nil
}

func (m *MockManager) UnregisterPumpCallback() error {
	return nil
}

var _ BrokerManager = (*MockManager)(nil)
