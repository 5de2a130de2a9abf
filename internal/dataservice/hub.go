package dataservice

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"realtime-trade/internal/bus"
)

const clientSendBuffer = 256

type wsClient struct {
	send chan []byte
}

// Hub fans frames out to every connected subscriber (the runner and any UI
// clients) and routes runner frames back into the service.
type Hub struct {
	Buf    *Buffer
	Logger *slog.Logger

	// OnMessage receives every decoded JSON frame a subscriber sends.
	OnMessage func(typ string, raw json.RawMessage)

	upgrader websocket.Upgrader
	mu       sync.Mutex
	clients  map[*wsClient]struct{}
}

func NewHub(buf *Buffer, logger *slog.Logger) *Hub {
	return &Hub{
		Buf:    buf,
		Logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// Broadcast marshals v and queues it on every client. Slow clients drop
// frames rather than stall the pipeline.
func (h *Hub) Broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.Logger.Error("broadcast marshal failed", "error", err)
		return
	}
	h.BroadcastRaw(data)
}

// BroadcastRaw queues an already-encoded frame on every client.
func (h *Hub) BroadcastRaw(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.Logger.Error("dropping frame for slow subscriber")
		}
	}
}

// ServeWS upgrades the connection and runs it until either side closes.
// A staged pending event is delivered first, before anything else.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{send: make(chan []byte, clientSendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	mtxWSClients.Inc()
	h.Logger.Info("subscriber connected", "remote", r.RemoteAddr)

	if ev := h.Buf.TakePendingCopy(); ev != nil {
		if data, err := json.Marshal(ev); err == nil {
			c.send <- data
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for data := range c.send {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		h.dispatch(raw)
	}

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	close(c.send)
	<-done
	conn.Close()
	mtxWSClients.Dec()
	h.Logger.Info("subscriber disconnected", "remote", r.RemoteAddr)
}

// dispatch routes one inbound frame. Non-JSON frames are keepalives; a JSON
// array is a batch of frames.
func (h *Hub) dispatch(raw []byte) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(trimmed, &batch); err == nil {
			for _, item := range batch {
				h.dispatch(item)
			}
			return
		}
	}
	typ, ok := bus.DecodeType(trimmed)
	if !ok {
		// keepalive
		return
	}
	if h.OnMessage != nil {
		h.OnMessage(typ, json.RawMessage(trimmed))
	}
}
