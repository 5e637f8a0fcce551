// Package eventfeed streams pipeline events to external consumers, such
// as the intent handler, over WebSocket.
//
// A [Hub] is a [wakeword.Sink]. Every connected client receives each
// event as one JSON text message. A client can narrow the feed with
// ?kinds=wake,transcript. A client that falls behind is disconnected
// rather than slowing the pipeline.
package eventfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haivivi/wakeword/pkg/wakeword"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 32
)

// DefaultKinds are streamed to clients that do not pass ?kinds.
var DefaultKinds = []wakeword.EventKind{
	wakeword.EventWake,
	wakeword.EventCommand,
	wakeword.EventTranscript,
	wakeword.EventGatewayError,
}

// Hub fans events out to WebSocket clients.
type Hub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn  *websocket.Conn
	kinds []wakeword.EventKind
	send  chan []byte
	once  sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

var _ wakeword.Sink = (*Hub)(nil)

// NewHub creates a Hub. A nil logger uses slog.Default().
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleEvent broadcasts ev to every client subscribed to its kind.
func (h *Hub) HandleEvent(_ context.Context, ev wakeword.Event) error {
	msg, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("eventfeed: encode %s: %w", ev.Kind, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !slices.Contains(c.kinds, ev.Kind) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.log.Warn("event feed client too slow, disconnecting", "remote", c.conn.RemoteAddr().String())
			delete(h.clients, c)
			c.close()
		}
	}
	return nil
}

// ServeHTTP upgrades the request and streams events until the client
// goes away or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	kinds, err := parseKinds(r.URL.Query().Get("kinds"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("event feed upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, kinds: kinds, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info("event feed client connected", "remote", conn.RemoteAddr().String(), "clients", n)

	go h.readLoop(c)
	h.writeLoop(c)
}

// readLoop discards client messages and unregisters the client when the
// connection drops.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.close()
	if ok {
		h.log.Info("event feed client disconnected", "remote", c.conn.RemoteAddr().String(), "clients", n)
	}
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	return nil
}

func parseKinds(s string) ([]wakeword.EventKind, error) {
	if s == "" {
		return DefaultKinds, nil
	}
	var kinds []wakeword.EventKind
	for _, k := range strings.Split(s, ",") {
		kind := wakeword.EventKind(strings.TrimSpace(k))
		if !slices.Contains(wakeword.EventKinds(), kind) {
			return nil, fmt.Errorf("eventfeed: unknown event kind %q", kind)
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}
