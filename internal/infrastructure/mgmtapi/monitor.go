package mgmtapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/guillaumemeyer/maegashira/internal/domain"
)

// TransactionEvent is the live summary streamed to monitor clients.
type TransactionEvent struct {
	ID                 string `json:"id"`
	Method             string `json:"method"`
	URL                string `json:"url"`
	Status             int    `json:"status"`
	Duration           int64  `json:"duration"`
	Cancelled          bool   `json:"cancelled"`
	CancellationReason string `json:"cancellation_reason,omitempty"`
}

// MonitorHub fans finalized transactions out to websocket observers and
// in-process subscribers. A websocket client whose write fails is dropped,
// and a subscriber whose channel is full misses the event; the request path
// never waits on a monitor client.
type MonitorHub struct {
	mu       sync.RWMutex
	clients  map[*websocket.Conn]struct{}
	upgrader websocket.Upgrader
	wmu      sync.Mutex

	lmu       sync.RWMutex
	listeners map[chan TransactionEvent]struct{}
}

func NewMonitorHub() *MonitorHub {
	return &MonitorHub{
		clients:   make(map[*websocket.Conn]struct{}),
		upgrader:  websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		listeners: make(map[chan TransactionEvent]struct{}),
	}
}

// BroadcastTransaction implements usecase.TransactionBroadcaster.
func (h *MonitorHub) BroadcastTransaction(tx domain.Transaction) {
	h.broadcast(TransactionEvent{
		ID:                 tx.ID,
		Method:             tx.Method,
		URL:                tx.URL,
		Status:             tx.Status,
		Duration:           tx.Duration,
		Cancelled:          tx.Cancelled,
		CancellationReason: tx.CancellationReason,
	})
}

func (h *MonitorHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	_ = c.SetReadDeadline(time.Time{})
	for {
		// keepalive reads to detect client close
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = c.Close()
}

func (h *MonitorHub) broadcast(ev TransactionEvent) {
	data, _ := json.Marshal(ev)
	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	h.lmu.RLock()
	subs := make([]chan TransactionEvent, 0, len(h.listeners))
	for ch := range h.listeners {
		subs = append(subs, ch)
	}
	h.lmu.RUnlock()
	if len(clients) > 0 {
		go func() {
			// serialize writes to prevent concurrent writes to same conn
			h.wmu.Lock()
			defer h.wmu.Unlock()
			for _, c := range clients {
				_ = c.SetWriteDeadline(time.Now().Add(2 * time.Second))
				if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
					h.mu.Lock()
					delete(h.clients, c)
					h.mu.Unlock()
					_ = c.Close()
				}
			}
		}()
	}
	for _, ch := range subs {
		select {
		case ch <- ev:
		default: // drop if slow
		}
	}
}

// Subscribe returns a channel receiving transaction events. Caller must
// Unsubscribe.
func (h *MonitorHub) Subscribe() chan TransactionEvent {
	ch := make(chan TransactionEvent, 256)
	h.lmu.Lock()
	h.listeners[ch] = struct{}{}
	h.lmu.Unlock()
	return ch
}

func (h *MonitorHub) Unsubscribe(ch chan TransactionEvent) {
	h.lmu.Lock()
	if _, ok := h.listeners[ch]; ok {
		delete(h.listeners, ch)
		close(ch)
	}
	h.lmu.Unlock()
}
