// Package signals is the signal ingestion loop: it watches a
// file-backed journal the advisor writes trade instructions into,
// parses and deduplicates entries, and hands new ones to the approval
// state machine exactly once per signal id.
package signals

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"tradebridge/internal/types"
)

// journalEntry is the on-disk shape of one signal, tolerant of the
// advisor's "type" vs "kind" and "login" vs "account_id" field-name
// drift.
type journalEntry struct {
	SignalID  string           `json:"signal_id"`
	Type      string           `json:"type"`
	Kind      string           `json:"kind"`
	Symbol    string           `json:"symbol"`
	Login     int64            `json:"login"`
	AccountID int64            `json:"account_id"`
	Volume    *decimal.Decimal `json:"volume"`
	Price     *decimal.Decimal `json:"price"`
	SL        *decimal.Decimal `json:"sl"`
	TP        *decimal.Decimal `json:"tp"`
	Ticket    *int64           `json:"ticket"`
	Comment   string           `json:"comment"`
	Magic     int64            `json:"magic"`
}

func (e journalEntry) kind() types.SignalKind {
	if e.Kind != "" {
		return types.SignalKind(e.Kind)
	}
	return types.SignalKind(e.Type)
}

func (e journalEntry) accountID() int64 {
	if e.AccountID != 0 {
		return e.AccountID
	}
	return e.Login
}

// readJournal reads and parses the journal file at path. Advisors write
// the outer value as a JSON array, but a lone object is tolerated on
// read too. A missing file is treated as an empty journal, not an error.
func readJournal(path string) ([]journalEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read journal: %w", err)
	}

	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "[]" {
		return nil, nil
	}

	var entries []journalEntry
	if trimmed[0] == '[' {
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("parse journal array: %w", err)
		}
		return entries, nil
	}

	var single journalEntry
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("parse journal object: %w", err)
	}
	return []journalEntry{single}, nil
}

// validate checks required fields and normalizes e into a types.Signal.
// Volume is required unless kind is close or modify; ticket is required
// for close and modify; price is required for pending orders.
func (e journalEntry) validate() (types.Signal, error) {
	if e.SignalID == "" {
		return types.Signal{}, fmt.Errorf("missing signal_id")
	}
	kind := e.kind()
	switch kind {
	case types.SignalBuy, types.SignalSell, types.SignalBuyLimit, types.SignalSellLimit,
		types.SignalBuyStop, types.SignalSellStop, types.SignalClose, types.SignalModify:
	default:
		return types.Signal{}, fmt.Errorf("invalid kind %q", string(kind))
	}
	if e.Symbol == "" {
		return types.Signal{}, fmt.Errorf("missing symbol")
	}
	if e.accountID() == 0 {
		return types.Signal{}, fmt.Errorf("missing account_id")
	}
	if !kind.RequiresTicket() && e.Volume == nil {
		return types.Signal{}, fmt.Errorf("missing volume_lots")
	}
	if kind.RequiresTicket() && e.Ticket == nil {
		return types.Signal{}, fmt.Errorf("missing ticket")
	}
	if kind.IsPending() && e.Price == nil {
		return types.Signal{}, fmt.Errorf("missing price for pending order")
	}

	volume := decimal.Zero
	if e.Volume != nil {
		volume = *e.Volume
	}

	return types.Signal{
		SignalID:   e.SignalID,
		Kind:       kind,
		Symbol:     e.Symbol,
		AccountID:  e.accountID(),
		VolumeLots: volume,
		Price:      e.Price,
		StopLoss:   e.SL,
		TakeProfit: e.TP,
		Ticket:     e.Ticket,
		Comment:    e.Comment,
	}, nil
}
