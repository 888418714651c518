package pumping

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradebridge/internal/broker"
	"tradebridge/internal/types"
)

// Wire layout of the broker's fixed binary records, reproduced verbatim.
// A null/empty payload is the broker's "null data pointer" case and is
// reported as a decode error rather than panicking.
const (
	symbolInfoRecordSize = 12 + 8 + 8 + 4 + 8 // symbol, bid, ask, digits, timestamp
	tradeRecordSize      = 8 + 8 + 12 + 4 + 8 + 8 + 8 + 8 + 8 + 8 + 4 + 8
)

func decodeSymbolInfoPayload(data []byte) (*broker.SymbolInfo, int64, error) {
	if len(data) < symbolInfoRecordSize {
		return nil, 0, fmt.Errorf("decode symbol info: null data pointer")
	}

	symbol := strings.TrimRight(string(data[0:12]), "\x00")
	bid := math.Float64frombits(binary.LittleEndian.Uint64(data[12:20]))
	ask := math.Float64frombits(binary.LittleEndian.Uint64(data[20:28]))
	digits := int32(binary.LittleEndian.Uint32(data[28:32]))
	ts := int64(binary.LittleEndian.Uint64(data[32:40]))

	return &broker.SymbolInfo{Symbol: symbol, Bid: bid, Ask: ask, Digits: digits}, ts, nil
}

func decodeTradeRecordPayload(data []byte) (*broker.TradeRecord, error) {
	if len(data) < tradeRecordSize {
		return nil, fmt.Errorf("decode trade record: null data pointer")
	}

	off := 0
	readI64 := func() int64 {
		v := int64(binary.LittleEndian.Uint64(data[off : off+8]))
		off += 8
		return v
	}
	readF64 := func() float64 {
		v := math.Float64frombits(binary.LittleEndian.Uint64(data[off : off+8]))
		off += 8
		return v
	}

	orderID := readI64()
	accountID := readI64()
	symbol := strings.TrimRight(string(data[off:off+12]), "\x00")
	off += 12
	cmd := int32(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	volume := readI64()
	openPrice := readF64()
	closePrice := readF64()
	stopLoss := readF64()
	takeProfit := readF64()
	profit := readF64()
	state := int32(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	ts := readI64()

	return &broker.TradeRecord{
		OrderID:              orderID,
		AccountID:            accountID,
		Symbol:               symbol,
		Cmd:                  cmd,
		VolumeHundredthsLots: volume,
		OpenPrice:            openPrice,
		ClosePrice:           closePrice,
		StopLoss:             stopLoss,
		TakeProfit:           takeProfit,
		Profit:               profit,
		State:                state,
		Timestamp:            ts,
	}, nil
}

// stateMapping is the total mapping from the broker's raw numeric trade
// state to our normalized enum. Values outside this map decode to
// StateUnknown rather than failing.
var stateMapping = map[int32]types.TradeState{
	0: types.StateOpen,
	1: types.StateClosed,
	2: types.StatePartiallyClosed,
	3: types.StateDeleted,
}

// cmdMapping is the total mapping from the broker's raw numeric command
// code to our normalized trade side.
var cmdMapping = map[int32]types.TradeSide{
	0: types.SideBuy,
	1: types.SideSell,
	2: types.SideBuyLimit,
	3: types.SideSellLimit,
	4: types.SideBuyStop,
	5: types.SideSellStop,
	6: types.SideBalance,
	7: types.SideCredit,
}

// decodeQuote turns a broker SymbolInfo push record into a typed Quote.
// A nil record (the broker's null data pointer case) is reported as a
// decode error rather than a panic.
func decodeQuote(info *broker.SymbolInfo, brokerTimestamp int64, now time.Time) (types.Quote, error) {
	if info == nil {
		return types.Quote{}, fmt.Errorf("decode quote: null data pointer")
	}

	bid := decimal.NewFromFloat(info.Bid)
	ask := decimal.NewFromFloat(info.Ask)
	return types.NewQuote(info.Symbol, bid, ask, info.Digits, brokerTimestamp, now), nil
}

// decodeTrade turns a broker TradeRecord push record into a typed Trade.
// The numeric state and command fields are mapped via total mappings;
// unrecognized values yield StateUnknown / a zero-value side rather than
// failing decode.
func decodeTrade(rec *broker.TradeRecord) (types.Trade, error) {
	if rec == nil {
		return types.Trade{}, fmt.Errorf("decode trade: null data pointer")
	}

	state, ok := stateMapping[rec.State]
	if !ok {
		state = types.StateUnknown
	}

	side := cmdMapping[rec.Cmd]

	volume := decimal.NewFromInt(rec.VolumeHundredthsLots).Div(decimal.NewFromInt(100))

	return types.Trade{
		OrderID:    rec.OrderID,
		AccountID:  rec.AccountID,
		Symbol:     rec.Symbol,
		Side:       side,
		VolumeLots: volume,
		OpenPrice:  decimal.NewFromFloat(rec.OpenPrice),
		ClosePrice: decimal.NewFromFloat(rec.ClosePrice),
		StopLoss:   decimal.NewFromFloat(rec.StopLoss),
		TakeProfit: decimal.NewFromFloat(rec.TakeProfit),
		Profit:     decimal.NewFromFloat(rec.Profit),
		State:      state,
		Timestamp:  rec.Timestamp,
	}, nil
}
