package broker

import "fmt"

// Code is the order client's normalized error surface.
type Code int

const (
	CodeGeneric Code = iota
	CodeInvalidParameters
	CodeServerError
	CodeInsufficientFunds
	CodeTradeNotAllowed
	CodeMarketClosed
	CodeInvalidPrice
	CodeInvalidStops
	CodeTradeDisabled
	CodePositionLocked
)

var codeNames = map[Code]string{
	CodeGeneric:           "generic",
	CodeInvalidParameters: "invalid-parameters",
	CodeServerError:       "server-error",
	CodeInsufficientFunds: "insufficient-funds",
	CodeTradeNotAllowed:   "trade-not-allowed",
	CodeMarketClosed:      "market-closed",
	CodeInvalidPrice:      "invalid-price",
	CodeInvalidStops:      "invalid-stops",
	CodeTradeDisabled:     "trade-disabled",
	CodePositionLocked:    "position-locked",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("unknown error code %d", int(c))
}

// Transient reports whether a failure of this class should be retried by
// the order client. Server errors are the only retryable class; everything
// else (bad parameters, permission denied, market closed, insufficient
// funds, invalid stops) surfaces immediately.
func (c Code) Transient() bool {
	return c == CodeServerError
}

// Error is a typed broker failure carrying the normalized code.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code.String()
}

// SymbolUnavailable is returned by the approval state machine when a
// market order cannot resolve a price: no cached quote and the
// synchronous symbol-info fetch also failed.
type SymbolUnavailable struct {
	Symbol string
}

func (e *SymbolUnavailable) Error() string {
	return fmt.Sprintf("symbol unavailable: %s", e.Symbol)
}
