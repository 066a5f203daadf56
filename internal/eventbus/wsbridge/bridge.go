// Package wsbridge is the narrow adapter that lets the out-of-scope
// HTTP/WebSocket API layer (spec.md §1) consume the in-process Event
// Bus. It owns no orchestration state: it subscribes once and
// broadcasts every event as JSON to whichever clients are currently
// connected.
package wsbridge

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentmux/agentmux/internal/eventbus"
)

// writeTimeout bounds a single broadcast write so one stalled client
// cannot hold up delivery to the others.
const writeTimeout = 5 * time.Second

// Bridge fans eventbus.Event values out to connected WebSocket clients.
// Connection handling is best-effort and mirrors the teacher's
// controller socket: accept, spawn a per-connection goroutine, and
// never let a single misbehaving client take down the bridge.
type Bridge struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}

	logger *log.Logger
}

// New returns a Bridge that accepts connections from any origin, the
// same permissive stance the teacher's Unix-socket controller takes
// (no auth layer — that belongs to the external API, per spec.md §1).
func New(logger *log.Logger) *Bridge {
	return &Bridge{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]struct{}),
		logger:  logger,
	}
}

// ServeHTTP upgrades the request to a WebSocket connection and holds it
// open for broadcast. It never reads application data from the client;
// it only watches for close so it can evict the connection from the
// broadcast set.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logf("upgrade: %v", err)
		return
	}

	b.mu.Lock()
	b.clients[conn] = struct{}{}
	b.mu.Unlock()

	go b.drainUntilClosed(conn)
}

// drainUntilClosed blocks on reads purely to detect client-initiated
// close; any inbound message is discarded.
func (b *Bridge) drainUntilClosed(conn *websocket.Conn) {
	defer b.evict(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (b *Bridge) evict(conn *websocket.Conn) {
	b.mu.Lock()
	delete(b.clients, conn)
	b.mu.Unlock()
	conn.Close() //nolint:errcheck // best-effort cleanup
}

// Run subscribes to bus and broadcasts every event until ctx is
// cancelled or the bus subscription is torn down. Intended to run in
// its own goroutine for the lifetime of the process.
func (b *Bridge) Run(ctx context.Context, bus *eventbus.Bus) {
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			b.closeAll()
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.broadcast(ev)
		}
	}
}

// broadcast writes ev to every currently connected client. A client
// whose write fails (dead connection, full buffer) is evicted rather
// than allowed to block the others — the same non-blocking-publisher
// stance the Event Bus itself takes toward slow subscribers.
func (b *Bridge) broadcast(ev eventbus.Event) {
	b.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(b.clients))
	for c := range b.clients {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck // best-effort deadline
		if err := c.WriteJSON(ev); err != nil {
			b.logf("broadcast: %v", err)
			b.evict(c)
		}
	}
}

func (b *Bridge) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		c.Close() //nolint:errcheck // best-effort cleanup on shutdown
	}
	b.clients = make(map[*websocket.Conn]struct{})
}

func (b *Bridge) logf(format string, args ...any) {
	if b.logger == nil {
		return
	}
	b.logger.Printf("wsbridge: "+format, args...)
}
