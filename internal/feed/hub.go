package feed

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Hub fans row events out to subscribed WebSocket clients. Each client
// subscribes for exactly one owner and receives only that owner's
// events.
type Hub struct {
	secret string
	logger *log.Logger

	clients   map[*websocket.Conn]string // conn -> owner
	clientsMu sync.RWMutex

	broadcast chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub creates a feed hub. The secret authorizes publish requests;
// subscriptions are open.
func NewHub(secret string, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		secret:    secret,
		logger:    logger,
		clients:   make(map[*websocket.Conn]string),
		broadcast: make(chan Event, 100),
		ctx:       ctx,
		cancel:    cancel,
	}
	h.wg.Add(1)
	go h.broadcastLoop()
	return h
}

// Register mounts the hub's endpoints on the given mux.
func (h *Hub) Register(mux *http.ServeMux) {
	mux.HandleFunc("/feed", h.handleSubscribe)
	mux.HandleFunc("/feed/publish", h.handlePublish)
}

// Close shuts the hub down, disconnecting every subscriber.
func (h *Hub) Close() {
	h.cancel()

	h.clientsMu.Lock()
	for conn := range h.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(h.clients, conn)
	}
	h.clientsMu.Unlock()

	h.wg.Wait()
}

// Broadcast queues an event for delivery to the owner's subscribers.
func (h *Hub) Broadcast(ev Event) {
	select {
	case h.broadcast <- ev:
	case <-h.ctx.Done():
	default:
		h.logger.Println("Warning: feed broadcast channel full, dropping event")
	}
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return

		case ev := <-h.broadcast:
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Printf("Failed to marshal feed event: %v", err)
				continue
			}

			h.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(h.clients))
			for conn, owner := range h.clients {
				if owner == ev.Owner {
					conns = append(conns, conn)
				}
			}
			h.clientsMu.RUnlock()

			// Write outside the read lock so a slow client cannot
			// block new subscriptions.
			for _, conn := range conns {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					h.logger.Printf("Failed to send feed event: %v", err)
					h.removeClient(conn)
				}
			}
		}
	}
}

// handleSubscribe upgrades the connection and registers it for the
// owner named in the query string.
func (h *Hub) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		http.Error(w, "owner query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = owner
	count := len(h.clients)
	h.clientsMu.Unlock()

	h.logger.Printf("Feed subscriber connected for %s (total: %d)", owner, count)

	go h.readLoop(conn)
}

// readLoop drains client frames to detect disconnects; subscribers are
// not expected to send anything.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.removeClient(conn)
	for {
		if _, _, err := conn.Read(h.ctx); err != nil {
			return
		}
	}
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	if _, exists := h.clients[conn]; exists {
		delete(h.clients, conn)
		count := len(h.clients)
		h.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Printf("Feed subscriber disconnected (total: %d)", count)
		return
	}
	h.clientsMu.Unlock()
}

// handlePublish accepts a row event from a syncing device and broadcasts
// it. The shared secret is checked before the body is read.
func (h *Hub) handlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var ev Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "invalid event payload", http.StatusBadRequest)
		return
	}
	if ev.Owner == "" || ev.TaskID() == "" {
		http.Error(w, "event owner and task id are required", http.StatusBadRequest)
		return
	}

	h.Broadcast(ev)
	w.WriteHeader(http.StatusAccepted)
}

func (h *Hub) authorized(r *http.Request) bool {
	if h.secret == "" {
		return false
	}
	got := r.Header.Get("X-Feed-Secret")
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) == 1
}
