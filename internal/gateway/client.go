package gateway

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// client is one connected streaming peer. Reads happen on a dedicated
// goroutine; writes are serialized through a bounded outbound mailbox
// served by a second dedicated goroutine, so a broadcast never blocks
// on one slow client.
type client struct {
	id          string
	conn        *websocket.Conn
	gw          *Gateway
	connectedAt time.Time

	send     chan []byte
	closeCh  chan struct{}
	closeOne sync.Once

	authenticated atomic.Bool
	accountID     atomic.Int64

	subsMu        sync.Mutex
	subscriptions map[string]struct{}
}

func newClient(id string, conn *websocket.Conn, gw *Gateway, mailboxCap int) *client {
	return &client{
		id:            id,
		conn:          conn,
		gw:            gw,
		connectedAt:   time.Now(),
		send:          make(chan []byte, mailboxCap),
		closeCh:       make(chan struct{}),
		subscriptions: make(map[string]struct{}),
	}
}

// enqueue offers a pre-encoded frame to the client's outbound mailbox.
// On overflow the client is closed rather than allowed to block the
// broadcaster.
func (c *client) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	default:
		c.gw.metrics.GatewayClientsClosed.Inc()
		c.close()
	}
}

func (c *client) close() {
	c.closeOne.Do(func() { close(c.closeCh) })
}

func (c *client) subscribedSymbols() []string {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	out := make([]string, 0, len(c.subscriptions))
	for s := range c.subscriptions {
		out = append(out, s)
	}
	return out
}

// readPump owns the connection's read side: decode frames, dispatch by
// action, and watch for pong deadlines. Exits (and triggers
// unregistration) on any read error or explicit close. readTimeout is
// the ping interval plus the pong response deadline: a client that has
// neither sent a frame nor answered a ping within that window is dead.
func (c *client) readPump(readTimeout time.Duration) {
	defer c.gw.unregister(c)

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.enqueue(mustEncode(errorFrame{Type: "error", Message: "malformed frame"}))
			continue
		}
		c.gw.handleFrame(c, frame)
	}
}

// writePump owns the connection's write side: drains the outbound
// mailbox and issues periodic pings, exiting when closeCh fires.
func (c *client) writePump(pingInterval, writeWait time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closeCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			// Flush frames queued before the close (e.g. the shutdown
			// notification) so they are not lost to select ordering.
			for len(c.send) > 0 {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}
			c.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		}
	}
}

func mustEncode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"type":"error","message":"internal encode error"}`)
	}
	return b
}
