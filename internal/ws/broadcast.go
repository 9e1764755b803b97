// Package ws implements the Streaming Layer: a persistent bidirectional
// channel per client, fed by the Broadcaster's per-client backpressure
// state machine (§4.8) and kept alive by the Heartbeat (§4.9).
package ws

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fleetwatch/backend/internal/session"
)

// ErrTooManyConnections is returned by AddClient when the maximum number of
// concurrent WebSocket connections has been reached.
var ErrTooManyConnections = errors.New("too many WebSocket connections")

// bufferState is a client's backpressure state (§4.8).
type bufferState int

const (
	stateActive bufferState = iota
	statePaused
)

// Default high/low water marks; overridable via NewBroadcaster.
const (
	DefaultHighWaterMark = 64 * 1024
	DefaultLowWaterMark  = 16 * 1024
)

// client is a single connected viewer. Everything but conn/id is guarded by
// Broadcaster.mu; writes go through writePump so no goroutine but it ever
// touches conn.
type client struct {
	id   string
	conn *websocket.Conn

	send chan []byte

	mu          sync.Mutex
	state       bufferState
	buffered    int
	highWater   int
	lowWater    int
	lastPong    time.Time
	connectedAt time.Time
	droppedLow  uint64
	droppedNorm uint64
}

func newClient(conn *websocket.Conn, highWater, lowWater int) *client {
	now := time.Now()
	return &client{
		id:          uuid.NewString(),
		conn:        conn,
		send:        make(chan []byte, 256),
		state:       stateActive,
		highWater:   highWater,
		lowWater:    lowWater,
		lastPong:    now,
		connectedAt: now,
	}
}

// enqueue attempts to hand data to the client's write pump, accounting
// towards the backpressure watermarks. high-priority messages are queued
// even while paused; normal/low are dropped silently (but counted) while
// paused. Returns false if the client's send channel is full (a slow
// consumer that isn't draining at all), signalling removal.
func (c *client) enqueue(data []byte, prio Priority) (accepted bool, shouldRemove bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == statePaused && prio != PriorityHigh {
		if prio == PriorityLow {
			c.droppedLow++
		} else {
			c.droppedNorm++
		}
		return false, false
	}

	select {
	case c.send <- data:
		c.buffered += len(data)
		if c.state == stateActive && c.buffered >= c.highWater {
			c.state = statePaused
		}
		return true, false
	default:
		return false, true
	}
}

// acked is invoked by writePump once a frame has actually been written,
// draining it from the buffered count and possibly un-pausing the client.
func (c *client) acked(n int) {
	c.mu.Lock()
	c.buffered -= n
	if c.buffered < 0 {
		c.buffered = 0
	}
	if c.state == statePaused && c.buffered < c.lowWater {
		c.state = stateActive
	}
	c.mu.Unlock()
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
		c.acked(len(msg))
	}
}

func (c *client) close() {
	close(c.send)
}

func (c *client) recordPong() {
	c.mu.Lock()
	c.lastPong = time.Now()
	c.mu.Unlock()
}

func (c *client) pongAge(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastPong)
}

// Broadcaster owns the set of live client handles and fans out messages
// with per-client priority-aware backpressure.
type Broadcaster struct {
	mu        sync.RWMutex
	clients   map[*client]bool
	maxConns  int
	highWater int
	lowWater  int
	privacy   *session.PrivacyFilter
	seq       atomic.Uint64
}

// NewBroadcaster constructs an empty Broadcaster. maxConns <= 0 means
// unbounded. highWater/lowWater <= 0 fall back to the spec defaults
// (64KB/16KB, §4.8), overridable via WS_BACKPRESSURE_HIGH/LOW.
func NewBroadcaster(maxConns, highWater, lowWater int) *Broadcaster {
	if highWater <= 0 {
		highWater = DefaultHighWaterMark
	}
	if lowWater <= 0 {
		lowWater = DefaultLowWaterMark
	}
	return &Broadcaster{
		clients:   make(map[*client]bool),
		maxConns:  maxConns,
		highWater: highWater,
		lowWater:  lowWater,
		privacy:   &session.PrivacyFilter{},
	}
}

// SetPrivacyFilter configures the masking applied to pane/session payloads
// before they're serialized for broadcast. Passing nil restores a no-op
// filter.
func (b *Broadcaster) SetPrivacyFilter(f *session.PrivacyFilter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if f == nil {
		f = &session.PrivacyFilter{}
	}
	b.privacy = f
}

// Privacy returns the Broadcaster's current privacy filter, for callers
// (publish.go) that need to mask a payload before constructing it.
func (b *Broadcaster) Privacy() *session.PrivacyFilter {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.privacy
}

// AddClient registers a new connection, sends it a `connected` frame, and
// starts its write pump.
func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"))
		conn.Close()
		return nil, ErrTooManyConnections
	}

	c := newClient(conn, b.highWater, b.lowWater)
	b.clients[c] = true
	b.mu.Unlock()

	go c.writePump()

	b.sendTo(c, WSMessage{Type: MsgConnected, Payload: ConnectedPayload{SessionID: c.id}})

	return c, nil
}

// RemoveClient unregisters and closes a client. Safe to call more than
// once for the same client (B2): the second call is a no-op.
func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	_, ok := b.clients[c]
	if ok {
		delete(b.clients, c)
	}
	b.mu.Unlock()
	if ok {
		c.close()
	}
}

// ClientCount returns the number of currently connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// snapshotClients returns the current client set as a slice, so callers
// never iterate the live map directly (mid-iteration removal safety).
func (b *Broadcaster) snapshotClients() []*client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		out = append(out, c)
	}
	return out
}

// EachClient invokes fn for every currently connected client (used by the
// Heartbeat). fn must not block.
func (b *Broadcaster) EachClient(fn func(id string, lastPong time.Time, now time.Time)) {
	now := time.Now()
	for _, c := range b.snapshotClients() {
		fn(c.id, c.lastPong, now)
	}
}

// RemoveStale evicts a client by id and closes its transport; used by the
// Heartbeat when two consecutive pongs are missed.
func (b *Broadcaster) RemoveStale(id string) {
	for _, c := range b.snapshotClients() {
		if c.id == id {
			b.RemoveClient(c)
			return
		}
	}
}

// Ping sends a ping control frame to every connected client, for the
// Heartbeat's periodic tick. A send failure is logged, not fatal — the
// next tick's pong-age check will remove the client if it never recovers.
func (b *Broadcaster) Ping() {
	for _, c := range b.snapshotClients() {
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			log.Printf("[ws] ping failed for client %s: %v", c.id, err)
		}
	}
}

// InstallPongHandler wires a client's gorilla pong handler to record
// liveness. Called once per connection from the upgrade handler.
func InstallPongHandler(conn *websocket.Conn, onPong func()) {
	conn.SetPongHandler(func(string) error {
		onPong()
		return nil
	})
}

// Broadcast serializes msg once and fans it out to every connected client,
// subject to each client's backpressure state. Clients whose send channel
// is saturated (not merely paused) are removed after the fan-out loop, so
// mid-iteration removal never races the client set (§4.8).
func (b *Broadcaster) Broadcast(msg WSMessage) {
	// Only terminal_diff/terminal_output carry a sequence number, scoped to
	// their own pane (§5 promises per-pane ordering, not a global one).
	b.seq.Add(1)

	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[ws] broadcast marshal error: %v", err)
		return
	}

	prio := msg.priority()

	var toRemove []*client
	for _, c := range b.snapshotClients() {
		_, shouldRemove := c.enqueue(data, prio)
		if shouldRemove {
			toRemove = append(toRemove, c)
		}
	}
	for _, c := range toRemove {
		log.Printf("[ws] client %s saturated, disconnecting", c.id)
		b.RemoveClient(c)
	}
}

// Shutdown closes every connected client, used by the priority-50 streaming
// layer teardown handler so no connection outlives process shutdown.
func (b *Broadcaster) Shutdown() {
	for _, c := range b.snapshotClients() {
		b.RemoveClient(c)
	}
}

// SendTo serializes and delivers msg to a single client, honoring its
// backpressure state the same way Broadcast does.
func (b *Broadcaster) SendTo(c *client, msg WSMessage) {
	b.sendTo(c, msg)
}

func (b *Broadcaster) sendTo(c *client, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[ws] send marshal error: %v", err)
		return
	}
	if _, shouldRemove := c.enqueue(data, msg.priority()); shouldRemove {
		b.RemoveClient(c)
	}
}
