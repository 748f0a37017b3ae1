// Package dashboard serves the embedded dashboard page and fans
// sequenced events out to WebSocket peers. Slow peers are dropped,
// never waited on.
package dashboard

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mcpsentinel/sentinel/internal/event"
	"github.com/mcpsentinel/sentinel/internal/stats"
)

// Per-peer defaults.
const (
	DefaultPeerQueueDepth = 1024
	DefaultWriteTimeout   = 5 * time.Second
)

// Hub tracks connected peers. It implements sink.Sink: Deliver
// serializes the event once and enqueues it on every peer without
// blocking; a peer whose queue is full is closed.
type Hub struct {
	logger       *zap.Logger
	counters     *stats.Counters
	queueDepth   int
	writeTimeout time.Duration

	mu     sync.Mutex
	peers  map[*peer]struct{}
	closed bool
}

type peer struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// NewHub creates an empty hub.
func NewHub(queueDepth int, writeTimeout time.Duration, counters *stats.Counters, logger *zap.Logger) *Hub {
	if queueDepth <= 0 {
		queueDepth = DefaultPeerQueueDepth
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Hub{
		logger:       logger,
		counters:     counters,
		queueDepth:   queueDepth,
		writeTimeout: writeTimeout,
		peers:        make(map[*peer]struct{}),
	}
}

// Deliver broadcasts one event to every peer.
func (h *Hub) Deliver(ev event.Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("event serialization failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for p := range h.peers {
		select {
		case p.send <- msg:
		default:
			// Queue full: the dashboard is too slow, cut it loose.
			delete(h.peers, p)
			h.dropPeer(p)
		}
	}
}

// Flush implements sink.Sink; the hub has nothing buffered durably.
func (h *Hub) Flush() error {
	return nil
}

// register attaches a freshly upgraded connection and starts its
// read/write loops.
func (h *Hub) register(conn *websocket.Conn) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	p := &peer{conn: conn, send: make(chan []byte, h.queueDepth)}
	h.peers[p] = struct{}{}
	h.mu.Unlock()

	h.counters.PeersConnected.Add(1)
	h.logger.Info("dashboard peer connected", zap.String("remote", conn.RemoteAddr().String()))

	go h.writeLoop(p)
	go h.readLoop(p)
}

// writeLoop drains the peer queue; an expired write deadline closes
// the peer.
func (h *Hub) writeLoop(p *peer) {
	for msg := range p.send {
		p.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			p.conn.Close()
			h.remove(p)
			return
		}
	}
	p.conn.Close()
}

// readLoop discards inbound frames; peers have no control channel.
// It exists to notice the peer going away.
func (h *Hub) readLoop(p *peer) {
	for {
		if _, _, err := p.conn.ReadMessage(); err != nil {
			h.remove(p)
			return
		}
	}
}

func (h *Hub) remove(p *peer) {
	h.mu.Lock()
	_, present := h.peers[p]
	delete(h.peers, p)
	h.mu.Unlock()
	if present {
		h.dropPeer(p)
	}
}

func (h *Hub) dropPeer(p *peer) {
	p.once.Do(func() {
		close(p.send)
		h.counters.PeersConnected.Add(-1)
		h.counters.PeersDropped.Add(1)
	})
}

// CloseAll disconnects every peer; used at shutdown after the
// sequencer drained.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	h.closed = true
	peers := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		peers = append(peers, p)
	}
	h.peers = make(map[*peer]struct{})
	h.mu.Unlock()

	for _, p := range peers {
		h.dropPeer(p)
	}
}
