// Package bus is the optional horizontal distribution bus: it mirrors
// quote and trade events published by one instance's dispatcher to
// every other instance's streaming gateway over NATS, so a deployment
// can run more than one gateway process in front of a single pumping
// adapter/broker connection.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"tradebridge/internal/types"
)

// Bus wraps a NATS connection used to mirror dispatcher events across
// instances. A nil *Bus is valid and every method on it is a no-op,
// so callers can construct one only when NATS_URL is configured.
type Bus struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// Connect dials url and returns a Bus. Pass an empty url to disable the
// distribution bus entirely; Connect returns (nil, nil) in that case.
func Connect(url string, logger zerolog.Logger) (*Bus, error) {
	if url == "" {
		return nil, nil
	}

	logger = logger.With().Str("component", "distribution_bus").Logger()

	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.ConnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("connected to distribution bus")
		}),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("disconnected from distribution bus")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Msg("reconnected to distribution bus")
		}),
		nats.ErrorHandler(func(c *nats.Conn, s *nats.Subscription, err error) {
			logger.Warn().Err(err).Msg("distribution bus error")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("bus: connect: %w", err)
	}

	return &Bus{conn: conn, logger: logger}, nil
}

// quoteSubject returns the subject a symbol's quotes are published and
// subscribed on.
func quoteSubject(symbol string) string {
	return fmt.Sprintf("tradebridge.quote.%s", symbol)
}

// tradeSubject returns the subject an account's trades are published
// and subscribed on.
func tradeSubject(accountID int64) string {
	return fmt.Sprintf("tradebridge.trade.%d", accountID)
}

// PublishQuote mirrors q to every other instance subscribed to its
// symbol. A publish failure is logged, never returned — the bus is a
// best-effort fan-out, not a durable channel.
func (b *Bus) PublishQuote(q types.Quote) {
	if b == nil {
		return
	}
	data, err := json.Marshal(q)
	if err != nil {
		b.logger.Warn().Err(err).Msg("marshal quote for bus publish")
		return
	}
	if err := b.conn.Publish(quoteSubject(q.Symbol), data); err != nil {
		b.logger.Warn().Err(err).Str("symbol", q.Symbol).Msg("publish quote")
	}
}

// PublishTrade mirrors t to every other instance subscribed to its
// account.
func (b *Bus) PublishTrade(t types.Trade) {
	if b == nil {
		return
	}
	data, err := json.Marshal(t)
	if err != nil {
		b.logger.Warn().Err(err).Msg("marshal trade for bus publish")
		return
	}
	if err := b.conn.Publish(tradeSubject(t.AccountID), data); err != nil {
		b.logger.Warn().Int64("account_id", t.AccountID).Err(err).Msg("publish trade")
	}
}

// SubscribeQuotes delivers every quote published on the bus, from any
// symbol, to handler. Used by a gateway-only instance that has no local
// pumping adapter of its own.
func (b *Bus) SubscribeQuotes(handler func(types.Quote)) error {
	if b == nil {
		return nil
	}
	_, err := b.conn.Subscribe("tradebridge.quote.*", func(msg *nats.Msg) {
		var q types.Quote
		if err := json.Unmarshal(msg.Data, &q); err != nil {
			b.logger.Warn().Err(err).Msg("unmarshal quote from bus")
			return
		}
		handler(q)
	})
	return err
}

// SubscribeTrades delivers every trade published on the bus, from any
// account, to handler.
func (b *Bus) SubscribeTrades(handler func(types.Trade)) error {
	if b == nil {
		return nil
	}
	_, err := b.conn.Subscribe("tradebridge.trade.*", func(msg *nats.Msg) {
		var t types.Trade
		if err := json.Unmarshal(msg.Data, &t); err != nil {
			b.logger.Warn().Err(err).Msg("unmarshal trade from bus")
			return
		}
		handler(t)
	})
	return err
}

// Close closes the underlying connection without draining pending
// messages.
func (b *Bus) Close() {
	if b == nil || b.conn == nil {
		return
	}
	b.conn.Close()
}
