package broker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradebridge/internal/metrics"
)

// OrderRequest is the normalized trade request the Approval State Machine
// hands to the Order Client.
type OrderRequest struct {
	AccountID  int64
	Symbol     string
	Side       string // buy|sell|buy_limit|...
	VolumeLots decimal.Decimal
	Price      decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	Ticket     int64 // required for modify/close
	Comment    string
	Magic      int32
}

// OrderResult carries the broker-assigned ticket on success.
type OrderResult struct {
	Ticket int64
}

// Client executes normalized order requests against a BrokerManager with
// bounded, fixed-delay retries on transient failures.
type Client struct {
	manager    BrokerManager
	retryMax   int
	retryDelay time.Duration
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

// NewClient constructs an order client. retryMax bounds the number of
// retries after the initial attempt; retryDelay is the fixed backoff
// between attempts.
func NewClient(manager BrokerManager, retryMax int, retryDelay time.Duration, logger zerolog.Logger, m *metrics.Metrics) *Client {
	return &Client{
		manager:    manager,
		retryMax:   retryMax,
		retryDelay: retryDelay,
		logger:     logger.With().Str("component", "order_client").Logger(),
		metrics:    m,
	}
}

// PlaceOrder opens a new position or pending order.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	return c.execute(ctx, req, tradeTransFromRequest(req))
}

// ModifyOrder changes stop-loss/take-profit (and price for pending orders)
// on an existing ticket.
func (c *Client) ModifyOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	return c.execute(ctx, req, tradeTransFromRequest(req))
}

// CloseOrder closes an existing ticket.
func (c *Client) CloseOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	return c.execute(ctx, req, tradeTransFromRequest(req))
}

func (c *Client) execute(ctx context.Context, req OrderRequest, trans TradeTransInfo) (OrderResult, error) {
	var lastErr error

	for attempt := 0; attempt <= c.retryMax; attempt++ {
		if attempt > 0 {
			c.metrics.OrderRetries.Inc()
			select {
			case <-ctx.Done():
				return OrderResult{}, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		ticket, err := c.manager.TradeTransaction(ctx, req.AccountID, trans)
		if err == nil {
			return OrderResult{Ticket: ticket}, nil
		}

		lastErr = err

		var brokerErr *Error
		if errors.As(err, &brokerErr) {
			c.metrics.OrderFailures.WithLabelValues(brokerErr.Code.String()).Inc()
			if !brokerErr.Code.Transient() {
				c.logger.Warn().Str("symbol", req.Symbol).Str("code", brokerErr.Code.String()).Msg("order rejected, non-transient")
				return OrderResult{}, err
			}
			c.logger.Warn().Int("attempt", attempt+1).Str("symbol", req.Symbol).Msg("transient order failure, retrying")
			continue
		}

		// Unclassified error: treat as non-transient, surface immediately.
		c.metrics.OrderFailures.WithLabelValues(CodeGeneric.String()).Inc()
		return OrderResult{}, err
	}

	c.logger.Error().Str("symbol", req.Symbol).Int("attempts", c.retryMax+1).Msg("order failed after exhausting retries")
	return OrderResult{}, lastErr
}

// sideCmds maps the normalized side names to the broker's raw numeric
// command codes.
var sideCmds = map[string]int32{
	"buy":        0,
	"sell":       1,
	"buy_limit":  2,
	"sell_limit": 3,
	"buy_stop":   4,
	"sell_stop":  5,
	"close":      1,
	"modify":     0,
}

func tradeTransFromRequest(req OrderRequest) TradeTransInfo {
	return TradeTransInfo{
		Cmd:        sideCmds[req.Side],
		Symbol:     req.Symbol,
		Volume:     req.VolumeLots.Mul(decimal.NewFromInt(100)).IntPart(),
		Price:      mustFloat(req.Price),
		StopLoss:   mustFloat(req.StopLoss),
		TakeProfit: mustFloat(req.TakeProfit),
		Ticket:     req.Ticket,
		Comment:    req.Comment,
		Magic:      req.Magic,
	}
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
