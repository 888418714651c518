package pumping

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"tradebridge/internal/broker"
)

func encodeSymbolInfo(symbol string, bid, ask float64, digits int32, ts int64) []byte {
	buf := make([]byte, symbolInfoRecordSize)
	copy(buf[0:12], symbol)
	binary.LittleEndian.PutUint64(buf[12:20], math.Float64bits(bid))
	binary.LittleEndian.PutUint64(buf[20:28], math.Float64bits(ask))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(digits))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(ts))
	return buf
}

func encodeTradeRecord(rec broker.TradeRecord) []byte {
	buf := make([]byte, tradeRecordSize)
	off := 0
	putI64 := func(v int64) {
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(v))
		off += 8
	}
	putF64 := func(v float64) {
		binary.LittleEndian.PutUint64(buf[off:off+8], math.Float64bits(v))
		off += 8
	}
	putI64(rec.OrderID)
	putI64(rec.AccountID)
	copy(buf[off:off+12], rec.Symbol)
	off += 12
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(rec.Cmd))
	off += 4
	putI64(rec.VolumeHundredthsLots)
	putF64(rec.OpenPrice)
	putF64(rec.ClosePrice)
	putF64(rec.StopLoss)
	putF64(rec.TakeProfit)
	putF64(rec.Profit)
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(rec.State))
	off += 4
	putI64(rec.Timestamp)
	return buf
}

func TestDecodeSymbolInfoPayload(t *testing.T) {
	raw := encodeSymbolInfo("EURUSD", 1.1000, 1.1002, 5, 1_700_000_000)

	info, ts, err := decodeSymbolInfoPayload(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Symbol != "EURUSD" {
		t.Errorf("symbol = %q, want EURUSD", info.Symbol)
	}
	if info.Digits != 5 {
		t.Errorf("digits = %d, want 5", info.Digits)
	}
	if ts != 1_700_000_000 {
		t.Errorf("ts = %d, want 1700000000", ts)
	}
}

func TestDecodeSymbolInfoNullDataPointer(t *testing.T) {
	if _, _, err := decodeSymbolInfoPayload(nil); err == nil {
		t.Error("expected decode error for null data pointer")
	}
	if _, _, err := decodeSymbolInfoPayload([]byte{1, 2, 3}); err == nil {
		t.Error("expected decode error for short payload")
	}
}

func TestDecodeQuoteComputesSpread(t *testing.T) {
	raw := encodeSymbolInfo("EURUSD", 1.1000, 1.1002, 5, 1_700_000_000)
	info, ts, err := decodeSymbolInfoPayload(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	q, err := decodeQuote(info, ts, time.Now())
	if err != nil {
		t.Fatalf("decodeQuote: %v", err)
	}
	if q.Spread.StringFixed(1) != "2.0" {
		t.Errorf("spread = %s, want 2.0", q.Spread)
	}
}

func TestDecodeTradeRecordMapsStateAndSide(t *testing.T) {
	raw := encodeTradeRecord(broker.TradeRecord{
		OrderID:              1001,
		AccountID:            5001,
		Symbol:               "EURUSD",
		Cmd:                  1, // sell
		VolumeHundredthsLots: 250,
		OpenPrice:            1.1,
		State:                1, // closed
		Timestamp:            1_700_000_000,
	})

	rec, err := decodeTradeRecordPayload(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	trade, err := decodeTrade(rec)
	if err != nil {
		t.Fatalf("decodeTrade: %v", err)
	}
	if trade.Side != "sell" {
		t.Errorf("side = %q, want sell", trade.Side)
	}
	if trade.State != "closed" {
		t.Errorf("state = %q, want closed", trade.State)
	}
	if !trade.VolumeLots.Equal(trade.VolumeLots) || trade.VolumeLots.String() != "2.5" {
		t.Errorf("volume lots = %s, want 2.5", trade.VolumeLots)
	}
}

func TestDecodeTradeUnknownStateIsUnknownNotError(t *testing.T) {
	raw := encodeTradeRecord(broker.TradeRecord{OrderID: 1, State: 99, Cmd: 0})

	rec, err := decodeTradeRecordPayload(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	trade, err := decodeTrade(rec)
	if err != nil {
		t.Fatalf("decodeTrade should not fail on unmapped state: %v", err)
	}
	if trade.State != "unknown" {
		t.Errorf("state = %q, want unknown", trade.State)
	}
}

func TestDecodeTradeRecordNullDataPointer(t *testing.T) {
	if _, err := decodeTradeRecordPayload(nil); err == nil {
		t.Error("expected decode error for null data pointer")
	}
}
