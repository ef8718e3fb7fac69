// Package realtime is the in-app notification channel: websocket connections grouped
// by user id.
package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrHubClosed is returned by Push once Run has stopped.
var ErrHubClosed = errors.New("realtime hub closed")

type client struct {
	userID string
	conn   *websocket.Conn
}

type delivery struct {
	userID  string
	payload []byte
	result  chan error
}

// Hub owns every websocket connection. All writes happen on the Run goroutine.
type Hub struct {
	mu           sync.Mutex
	clients      map[string]map[*websocket.Conn]struct{}
	register     chan client
	unregister   chan client
	deliveries   chan delivery
	done         chan struct{}
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
}

func NewHub() *Hub {
	return &Hub{
		clients:      make(map[string]map[*websocket.Conn]struct{}),
		register:     make(chan client),
		unregister:   make(chan client),
		deliveries:   make(chan delivery),
		done:         make(chan struct{}),
		writeTimeout: 5 * time.Second,
	}
}

// Run processes register, unregister and delivery events until ctx ends, then closes
// every connection.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.mu.Lock()
		for _, conns := range h.clients {
			for conn := range conns {
				conn.Close()
			}
		}
		h.clients = make(map[string]map[*websocket.Conn]struct{})
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.mu.Lock()
			conns, ok := h.clients[c.userID]
			if !ok {
				conns = make(map[*websocket.Conn]struct{})
				h.clients[c.userID] = conns
			}
			conns[c.conn] = struct{}{}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.remove(c)
		case d := <-h.deliveries:
			d.result <- h.write(d)
		}
	}
}

func (h *Hub) remove(c client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := conns[c.conn]; ok {
		delete(conns, c.conn)
		c.conn.Close()
	}
	if len(conns) == 0 {
		delete(h.clients, c.userID)
	}
}

// write succeeds when the user has no connection or at least one write lands.
func (h *Hub) write(d delivery) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.clients[d.userID]
	if len(conns) == 0 {
		return nil
	}
	var lastErr error
	delivered := 0
	for conn := range conns {
		_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, d.payload); err != nil {
			lastErr = err
			conn.Close()
			delete(conns, conn)
			continue
		}
		delivered++
	}
	if len(conns) == 0 {
		delete(h.clients, d.userID)
	}
	if delivered == 0 {
		return lastErr
	}
	return nil
}

// Push sends payload to every connection of userID.
func (h *Hub) Push(ctx context.Context, userID string, payload []byte) error {
	d := delivery{userID: userID, payload: payload, result: make(chan error, 1)}
	select {
	case h.deliveries <- d:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHubClosed
	}
	select {
	case err := <-d.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connections reports how many sockets userID has open.
func (h *Hub) Connections(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[userID])
}

// ServeWS upgrades the request and keeps the socket registered until the peer goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) error {
	if userID == "" {
		http.Error(w, "user id required", http.StatusBadRequest)
		return errors.New("user id required")
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := client{userID: userID, conn: conn}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return ErrHubClosed
	}

	// Inbound frames are ignored; reading surfaces the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	select {
	case h.unregister <- c:
	case <-h.done:
	}
	return nil
}
