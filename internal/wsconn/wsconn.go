// Package wsconn is the connection manager for the table server's
// WebSocket endpoint: it tracks every open connection's table/seat
// binding and fans server events out to them, personalizing each one
// along the way.
package wsconn

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/swarm-blackjack/table-server/internal/eventstream"
	"github.com/swarm-blackjack/table-server/internal/personalize"
	"github.com/swarm-blackjack/table-server/internal/protocol"
)

// Conn is one open WebSocket connection, bound to at most one table
// and seat. Seat is 0 until JOIN_TABLE succeeds; a spectator stays at
// seat 0 and never receives another seat's cards before settlement.
type Conn struct {
	ID       string
	WS       *websocket.Conn
	Send     chan []byte
	mu       sync.RWMutex
	closed   bool
	tableID  string
	seat     int
	playerID string

	log zerolog.Logger
}

func newConn(id string, ws *websocket.Conn, log zerolog.Logger) *Conn {
	return &Conn{ID: id, WS: ws, Send: make(chan []byte, 64), log: log}
}

// Bind records which table/seat/player this connection now represents.
func (c *Conn) Bind(tableID, playerID string, seat int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tableID, c.playerID, c.seat = tableID, playerID, seat
}

func (c *Conn) Table() (tableID string, seat int, playerID string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tableID, c.seat, c.playerID
}

// writeJSON enqueues a message for the write pump; it never blocks the
// caller on a slow client, dropping the message when the buffer is
// full. A client that falls that far behind resyncs via SYNC. The
// channel send happens under the connection's read lock so it cannot
// race markClosed closing the channel.
func (c *Conn) writeJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Warn().Err(err).Msg("marshal outgoing message failed")
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- data:
	default:
		c.log.Warn().Str("conn_id", c.ID).Msg("send buffer full, dropping message")
	}
}

// markClosed closes the send channel exactly once, shutting down the
// write pump.
func (c *Conn) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// WritePump drains Send to the socket until it closes.
func (c *Conn) WritePump() {
	defer c.WS.Close()
	for msg := range c.Send {
		if err := c.WS.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// Hub tracks every live connection and is the single fan-out point for
// table broadcasts. One Hub serves the whole process; tables are just
// a grouping key on top of it.
type Hub struct {
	mu      sync.RWMutex
	conns   map[*Conn]bool
	byTable map[string]map[*Conn]bool
	log     zerolog.Logger
	nextID  int64
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		conns:   make(map[*Conn]bool),
		byTable: make(map[string]map[*Conn]bool),
		log:     log,
	}
}

// Register starts tracking a freshly upgraded socket and launches its
// write pump. The caller owns the read loop.
func (h *Hub) Register(ws *websocket.Conn) *Conn {
	h.mu.Lock()
	h.nextID++
	id := idFor(h.nextID)
	h.mu.Unlock()

	c := newConn(id, ws, h.log)
	h.mu.Lock()
	h.conns[c] = true
	h.mu.Unlock()
	go c.WritePump()
	return c
}

func idFor(n int64) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	if n == 0 {
		return "0"
	}
	buf := make([]byte, 0, 12)
	for n > 0 {
		buf = append([]byte{alphabet[n%int64(len(alphabet))]}, buf...)
		n /= int64(len(alphabet))
	}
	return "c" + string(buf)
}

// Unregister stops tracking a connection and closes its send channel,
// shutting down its write pump.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.conns[c] {
		return
	}
	delete(h.conns, c)
	tid, _, _ := c.Table()
	if tid != "" {
		if set, ok := h.byTable[tid]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.byTable, tid)
			}
		}
	}
	c.markClosed()
}

// JoinTable moves a connection into a table's broadcast group. Safe to
// call again on reconnect/reseat; it first removes any prior binding.
func (h *Hub) JoinTable(c *Conn, tableID, playerID string, seat int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, _, _ := c.Table(); old != "" {
		if set, ok := h.byTable[old]; ok {
			delete(set, c)
		}
	}
	c.Bind(tableID, playerID, seat)
	set, ok := h.byTable[tableID]
	if !ok {
		set = make(map[*Conn]bool)
		h.byTable[tableID] = set
	}
	set[c] = true
}

// TableConns returns a snapshot of the connections currently bound to
// a table, safe to range over after the lock is released.
func (h *Hub) TableConns(tableID string) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.byTable[tableID]
	out := make([]*Conn, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// Broadcast sends the same message to every connection on a table,
// unpersonalized, so it suits only messages with no seat-sensitive
// content. Stream events go through Flush instead.
func (h *Hub) Broadcast(tableID string, msg any) {
	for _, c := range h.TableConns(tableID) {
		c.writeJSON(msg)
	}
}

// OutboundEvent pairs a stream-appended event's durable identity with
// its original, pre-redaction payload so BroadcastEvents can both tag
// the wire message correctly and reconstruct the real card for the
// one seat allowed to see it.
type OutboundEvent struct {
	EventID   string
	SessionID string
	RoundID   int
	Raw       protocol.BufferedEvent
}

// BroadcastEvents delivers a batch of freshly emitted round/table
// events to every connection on a table, personalizing each one for
// the receiving seat per internal/personalize's redaction rules.
func (h *Hub) BroadcastEvents(tableID string, events []OutboundEvent) {
	conns := h.TableConns(tableID)
	if len(conns) == 0 || len(events) == 0 {
		return
	}
	for _, c := range conns {
		_, seat, _ := c.Table()
		for _, ev := range events {
			live := personalize.ForLiveSeat(ev.Raw, seat)
			if live.Skip {
				continue
			}
			c.writeJSON(protocol.Event{
				EventID:   ev.EventID,
				Type:      ev.Raw.Type,
				SessionID: ev.SessionID,
				RoundID:   ev.RoundID,
				Payload:   live.Payload,
			})
		}
	}
}

// SendTo delivers a message to one connection only (e.g. a WELCOME or
// error reply to the request that triggered it).
func (h *Hub) SendTo(c *Conn, msg any) {
	c.writeJSON(msg)
}

// Flush is the one place every round/table operation's queued events
// cross from "emitted under the lock" to "durable and visible": each
// event is appended to the stream in its redacted, storage-safe form
// (internal/personalize.ForStream), then broadcast live to connected
// seats, which each get their own reconstruction of any card they own.
// Called only after the table lock has been released.
func (h *Hub) Flush(ctx context.Context, stream *eventstream.Stream, tid, sessionID string, roundID int, events []protocol.BufferedEvent) error {
	if len(events) == 0 {
		return nil
	}
	out := make([]OutboundEvent, 0, len(events))
	for _, ev := range events {
		id, err := stream.Append(ctx, tid, ev.Type, sessionID, roundID, personalize.ForStream(ev))
		if err != nil {
			return err
		}
		out = append(out, OutboundEvent{EventID: id, SessionID: sessionID, RoundID: roundID, Raw: ev})
	}
	h.BroadcastEvents(tid, out)
	return nil
}
