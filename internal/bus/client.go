package bus

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	reconnectBackoff  = 1 * time.Second
	keepaliveInterval = 15 * time.Second
)

// Client is the runner side of the bus: it dials the data service's /ws
// endpoint, reconnects forever with backoff and emits an application-level
// "ping" keepalive every 15 seconds.
type Client struct {
	URL    string
	Logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewClient(url string, logger *slog.Logger) *Client {
	return &Client{URL: url, Logger: logger}
}

// SendJSON writes one message on the current connection. Safe for concurrent
// use; fails when disconnected.
func (c *Client) SendJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return websocket.ErrCloseSent
	}
	return c.conn.WriteJSON(v)
}

func (c *Client) sendText(s string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return websocket.ErrCloseSent
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(s))
}

// Run dials and reads frames until the process exits. onConnect fires after
// every successful (re)connect; handle receives each raw frame. Malformed
// JSON is the caller's concern: frames are passed through as-is.
func (c *Client) Run(onConnect func(), handle func(raw []byte)) {
	for {
		conn, _, err := websocket.DefaultDialer.Dial(c.URL, nil)
		if err != nil {
			c.Logger.Error("bus connect failed", "url", c.URL, "error", err)
			time.Sleep(reconnectBackoff)
			continue
		}
		c.Logger.Info("bus connected", "url", c.URL)

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		stop := make(chan struct{})
		go c.keepalive(stop)

		if onConnect != nil {
			onConnect()
		}

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				c.Logger.Error("bus read error", "error", err)
				break
			}
			handle(raw)
		}

		close(stop)
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
		time.Sleep(reconnectBackoff)
	}
}

// keepalive stops when the connection closes.
func (c *Client) keepalive(stop chan struct{}) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.sendText("ping"); err != nil {
				return
			}
		}
	}
}

// DecodeType extracts the "type" field, returning false for non-JSON frames
// (treated as keepalives by both sides).
func DecodeType(raw []byte) (string, bool) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", false
	}
	return head.Type, true
}
