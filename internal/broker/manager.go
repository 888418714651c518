// Package broker defines the consumer contract this core expects from an
// external broker manager library, plus the Order Client that drives
// normalized trade requests through it.
//
// BrokerManager itself is an interface only: the native binding (calling
// convention, memory ownership, callback lifetime) is out of scope for
// this repo per the design's explicit scoping of the broker library as an
// external collaborator. The only concrete implementation shipped here is
// the mock backend used for offline tests and MOCK_MODE deployments.
package broker

import "context"

// SymbolInfo mirrors the broker's fixed binary symbol record, reproduced
// verbatim by the Pumping Adapter's decode step.
type SymbolInfo struct {
	Symbol string
	Bid    float64
	Ask    float64
	Digits int32
}

// TradeRecord mirrors the broker's fixed binary trade record.
type TradeRecord struct {
	OrderID              int64
	AccountID            int64
	Symbol               string
	Cmd                  int32 // broker's raw numeric side code
	VolumeHundredthsLots int64
	OpenPrice            float64
	ClosePrice           float64
	StopLoss             float64
	TakeProfit           float64
	Profit               float64
	State                int32 // broker's raw numeric state code
	Timestamp            int64
}

// TradeTransInfo is the normalized transaction request submitted to
// trade_transaction; its binary layout is fixed by the broker.
type TradeTransInfo struct {
	Cmd        int32
	Symbol     string
	Volume     int64 // hundredths of a lot
	Price      float64
	StopLoss   float64
	TakeProfit float64
	Ticket     int64
	Comment    string
	Magic      int32
}

// Result is the broker library's generic connect/login/disconnect outcome.
type Result struct {
	OK      bool
	Message string
}

// BrokerManager is the external collaborator interface: connection
// lifecycle, synchronous symbol/trade lookups, transaction submission and
// push-mode registration. An adapter implementing this against the native
// library is expected to live outside this repo.
type BrokerManager interface {
	Connect(ctx context.Context, host string, port int) (Result, error)
	Login(ctx context.Context, login int64, password string) (Result, error)
	Disconnect() error

	SymbolsAll(ctx context.Context) ([]SymbolInfo, error)
	SymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error)

	TradesAll(ctx context.Context) ([]TradeRecord, error)
	TradesFor(ctx context.Context, accountID int64) ([]TradeRecord, error)

	TradeTransaction(ctx context.Context, accountID int64, req TradeTransInfo) (ticket int64, err error)

	RegisterPumpCallback(cb func(code int, data []byte)) error
	UnregisterPumpCallback() error
}
