package hub

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var errClientClosed = errors.New("hub: websocket client closed")

// wsClient couples one websocket connection to a hub subscription. The
// sink hands marshalled frames to the send channel; writePump owns all
// writes to the connection.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.done) })
}

// HandleWebSocket upgrades the request and streams hub events until the
// peer disconnects. An optional ?productId= query filters the stream.
func HandleWebSocket(h *Hub) http.HandlerFunc {
	logger := log.New(log.Writer(), "[WS] ", log.LstdFlags)

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Printf("Upgrade failed: %v", err)
			return
		}

		productID := r.URL.Query().Get("productId")
		client := &wsClient{
			conn: conn,
			send: make(chan []byte, 16),
			done: make(chan struct{}),
		}

		sub := h.Subscribe(productID, func(ev *Event) error {
			data, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			select {
			case client.send <- data:
				return nil
			case <-client.done:
				return errClientClosed
			}
		})

		greeting, _ := json.Marshal(&Event{
			Type:      EventConnected,
			ProductID: productID,
			Payload:   map[string]string{"subscriberId": sub.ID},
			Timestamp: time.Now().UTC(),
		})
		client.send <- greeting

		go client.writePump(logger)
		go client.readPump(h, sub.ID, logger)
	}
}

func (c *wsClient) writePump(logger *log.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains control frames; the stream is server-push only.
func (c *wsClient) readPump(h *Hub, subID string, logger *log.Logger) {
	defer func() {
		h.Unsubscribe(subID)
		c.close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Printf("Read error: %v", err)
			}
			return
		}
	}
}
