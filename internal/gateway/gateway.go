// Package gateway is the streaming gateway: it terminates long-lived
// duplex client connections, enforces bearer-token authentication,
// tracks each client's symbol subscription set, and turns dispatcher
// events into the wire frames defined in protocol.go.
package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"tradebridge/internal/dispatcher"
	"tradebridge/internal/metrics"
	"tradebridge/internal/types"
)

// Gateway owns every connected client and the reverse symbol->clients
// index. The clients map and symbol index are guarded by one
// short-critical-section lock; no user code (frame encoding, network
// I/O) ever runs while it is held.
type Gateway struct {
	mu         sync.RWMutex
	clients    map[*client]struct{}
	quoteIndex map[string]map[*client]struct{}

	verifier   IdentityVerifier
	dispatcher *dispatcher.Dispatcher
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	mailboxCap   int
	pingInterval time.Duration
	pongDeadline time.Duration

	upgrader websocket.Upgrader

	unsubQuotes func()
	unsubTrades func()
}

// New constructs a Gateway wired to dispatcher d. Call Close when done
// to detach from the dispatcher's "all" subscriptions.
func New(d *dispatcher.Dispatcher, verifier IdentityVerifier, mailboxCap int, pingInterval, pongDeadline time.Duration, logger zerolog.Logger, m *metrics.Metrics) *Gateway {
	g := &Gateway{
		clients:      make(map[*client]struct{}),
		quoteIndex:   make(map[string]map[*client]struct{}),
		verifier:     verifier,
		dispatcher:   d,
		metrics:      m,
		logger:       logger.With().Str("component", "streaming_gateway").Logger(),
		mailboxCap:   mailboxCap,
		pingInterval: pingInterval,
		pongDeadline: pongDeadline,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  2048,
			WriteBufferSize: 2048,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	g.unsubQuotes = d.SubscribeAllQuotes(g.broadcastQuote)
	g.unsubTrades = d.SubscribeAllTrades(g.broadcastTrade)
	return g
}

// Close detaches the gateway from the dispatcher. It does not close
// existing client connections; callers that want that should drive
// Shutdown via the owning process's graceful shutdown sequence first.
func (g *Gateway) Close() {
	g.unsubQuotes()
	g.unsubTrades()
}

// ServeHTTP upgrades the request to a websocket connection and begins
// serving it. Mount at the configured bind address (default
// localhost:8765).
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := newClient(uuid.NewString(), conn, g, g.mailboxCap)
	g.register(c)

	go c.writePump(g.pingInterval, 10*time.Second)
	c.readPump(g.pingInterval + g.pongDeadline)
}

func (g *Gateway) register(c *client) {
	g.mu.Lock()
	g.clients[c] = struct{}{}
	g.mu.Unlock()

	g.metrics.GatewayConnsTotal.Inc()
	g.metrics.GatewayConnections.Set(float64(g.ClientCount()))

	c.enqueue(mustEncode(welcomeFrame{
		Type:        "welcome",
		ClientID:    c.id,
		ServerTime:  time.Now().Unix(),
		RequireAuth: true,
	}))
	g.metrics.GatewayFramesSent.WithLabelValues("welcome").Inc()
}

func (g *Gateway) unregister(c *client) {
	g.mu.Lock()
	if _, ok := g.clients[c]; !ok {
		g.mu.Unlock()
		return
	}
	delete(g.clients, c)
	for symbol, set := range g.quoteIndex {
		if _, ok := set[c]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(g.quoteIndex, symbol)
			}
		}
	}
	g.mu.Unlock()

	c.close()
	g.metrics.GatewayConnections.Set(float64(g.ClientCount()))
}

// ClientCount returns the number of currently connected clients.
func (g *Gateway) ClientCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

// handleFrame dispatches one decoded client frame by action. Unknown
// actions and actions requiring auth while unauthenticated both reply
// with a single error frame; the connection stays open either way.
func (g *Gateway) handleFrame(c *client, frame clientFrame) {
	if frame.Action != "auth" && frame.Action != "ping" && !c.authenticated.Load() {
		c.enqueue(mustEncode(errorFrame{Type: "error", Message: "Authentication required"}))
		return
	}

	switch frame.Action {
	case "auth":
		g.handleAuth(c, frame.Token)
	case "subscribe":
		g.handleSubscribe(c, frame.Symbols)
	case "unsubscribe":
		g.handleUnsubscribe(c, frame.Symbols)
	case "get_quotes":
		g.handleGetQuotes(c, frame.Symbols)
	case "ping":
		c.enqueue(mustEncode(pongFrame{Type: "pong"}))
		g.metrics.GatewayFramesSent.WithLabelValues("pong").Inc()
	default:
		c.enqueue(mustEncode(errorFrame{Type: "error", Message: "unknown action"}))
	}
}

func (g *Gateway) handleAuth(c *client, token string) {
	accountID, status := g.verifier.Verify(token)
	if status != StatusValid {
		g.metrics.GatewayAuthFailures.Inc()
		c.enqueue(mustEncode(authResponseFrame{Type: "auth_response", Success: false, Message: "invalid or expired token"}))
		return
	}

	c.accountID.Store(accountID)
	c.authenticated.Store(true)
	c.enqueue(mustEncode(authResponseFrame{Type: "auth_response", Success: true, UserLogin: accountID}))
	g.metrics.GatewayFramesSent.WithLabelValues("auth_response").Inc()
}

func (g *Gateway) handleSubscribe(c *client, symbols []string) {
	if len(symbols) == 0 {
		c.enqueue(mustEncode(errorFrame{Type: "error", Message: "No symbols specified"}))
		return
	}

	added := make([]string, 0, len(symbols))
	c.subsMu.Lock()
	for _, s := range symbols {
		if _, ok := c.subscriptions[s]; !ok {
			added = append(added, s)
		}
		c.subscriptions[s] = struct{}{}
	}
	c.subsMu.Unlock()

	g.mu.Lock()
	for _, s := range symbols {
		set, ok := g.quoteIndex[s]
		if !ok {
			set = make(map[*client]struct{})
			g.quoteIndex[s] = set
		}
		set[c] = struct{}{}
	}
	g.mu.Unlock()

	c.enqueue(mustEncode(subscriptionUpdateFrame{
		Type:             "subscription_update",
		Action:           "subscribed",
		Symbols:          added,
		AllSubscriptions: c.subscribedSymbols(),
	}))
	g.metrics.GatewayFramesSent.WithLabelValues("subscription_update").Inc()
}

func (g *Gateway) handleUnsubscribe(c *client, symbols []string) {
	removed := make([]string, 0, len(symbols))
	c.subsMu.Lock()
	for _, s := range symbols {
		if _, ok := c.subscriptions[s]; ok {
			removed = append(removed, s)
			delete(c.subscriptions, s)
		}
	}
	c.subsMu.Unlock()

	g.mu.Lock()
	for _, s := range removed {
		if set, ok := g.quoteIndex[s]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(g.quoteIndex, s)
			}
		}
	}
	g.mu.Unlock()

	c.enqueue(mustEncode(subscriptionUpdateFrame{
		Type:             "subscription_update",
		Action:           "unsubscribed",
		Symbols:          removed,
		AllSubscriptions: c.subscribedSymbols(),
	}))
	g.metrics.GatewayFramesSent.WithLabelValues("subscription_update").Inc()
}

func (g *Gateway) handleGetQuotes(c *client, symbols []string) {
	if len(symbols) == 0 {
		symbols = c.subscribedSymbols()
	}
	for _, s := range symbols {
		if q, ok := g.dispatcher.LatestQuote(s); ok {
			c.enqueue(encodeQuote(q))
			g.metrics.GatewayFramesSent.WithLabelValues("quote").Inc()
		}
	}
}

// broadcastQuote is registered with the dispatcher as an "all quotes"
// subscriber. It serializes the frame once and sends it to every
// authenticated client whose subscription set contains the symbol.
func (g *Gateway) broadcastQuote(q types.Quote) {
	g.mu.RLock()
	set := g.quoteIndex[q.Symbol]
	targets := make([]*client, 0, len(set))
	for c := range set {
		if c.authenticated.Load() {
			targets = append(targets, c)
		}
	}
	g.mu.RUnlock()

	if len(targets) == 0 {
		return
	}
	frame := encodeQuote(q)
	for _, c := range targets {
		c.enqueue(frame)
		g.metrics.GatewayFramesSent.WithLabelValues("quote").Inc()
	}
}

// broadcastTrade is registered with the dispatcher as an "all trades"
// subscriber. It sends only to authenticated clients whose identity
// equals the trade's account.
func (g *Gateway) broadcastTrade(t types.Trade) {
	g.mu.RLock()
	targets := make([]*client, 0, len(g.clients))
	for c := range g.clients {
		if c.authenticated.Load() && c.accountID.Load() == t.AccountID {
			targets = append(targets, c)
		}
	}
	g.mu.RUnlock()

	if len(targets) == 0 {
		return
	}
	frame := mustEncode(tradeFrame{
		Type:       "trade",
		Order:      t.OrderID,
		Login:      t.AccountID,
		Symbol:     t.Symbol,
		Cmd:        string(t.Side),
		Volume:     t.VolumeLots.String(),
		OpenPrice:  t.OpenPrice.String(),
		ClosePrice: t.ClosePrice.String(),
		SL:         t.StopLoss.String(),
		TP:         t.TakeProfit.String(),
		Profit:     t.Profit.String(),
		State:      string(t.State),
	})
	for _, c := range targets {
		c.enqueue(frame)
		g.metrics.GatewayFramesSent.WithLabelValues("trade").Inc()
	}
}

// Notify sends a notification frame. If accountID is nil it is
// broadcast to every authenticated client; otherwise only to clients
// with that identity.
func (g *Gateway) Notify(message string, accountID *int64) {
	g.mu.RLock()
	targets := make([]*client, 0, len(g.clients))
	for c := range g.clients {
		if !c.authenticated.Load() {
			continue
		}
		if accountID == nil || c.accountID.Load() == *accountID {
			targets = append(targets, c)
		}
	}
	g.mu.RUnlock()

	var login int64
	if accountID != nil {
		login = *accountID
	}
	frame := mustEncode(notificationFrame{Type: "notification", Message: message, Login: login})
	for _, c := range targets {
		c.enqueue(frame)
		g.metrics.GatewayFramesSent.WithLabelValues("notification").Inc()
	}
}

// Shutdown sends a final notification to every connected client and
// closes its connection. Callers invoke this during process shutdown
// after no new connections are being accepted.
func (g *Gateway) Shutdown() {
	g.mu.RLock()
	targets := make([]*client, 0, len(g.clients))
	for c := range g.clients {
		targets = append(targets, c)
	}
	g.mu.RUnlock()

	frame := mustEncode(notificationFrame{Type: "notification", Message: "server shutting down"})
	for _, c := range targets {
		c.enqueue(frame)
		c.close()
	}
}

func encodeQuote(q types.Quote) []byte {
	return mustEncode(quoteFrame{
		Type:       "quote",
		Symbol:     q.Symbol,
		Bid:        q.Bid.String(),
		Ask:        q.Ask.String(),
		Spread:     q.Spread.String(),
		Time:       q.BrokerTimestamp,
		ServerTime: q.ReceiveTime.Unix(),
	})
}
