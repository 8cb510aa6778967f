package eventserver

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/rkflash/internal/logging"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

// client is one connected WebSocket peer
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	remote string
}

// handleWebSocket upgrades the request and runs the client pumps
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, clientBuffer),
		remote: r.RemoteAddr,
	}
	if !s.add(c) {
		_ = conn.Close()
		return
	}
	logging.LogConnection(c.remote, "websocket_upgraded")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.writePump()
	}()
	c.readPump()
	s.remove(c)
}

// readPump discards anything the peer sends and notices when it goes away
func (c *client) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug("Event client read failed",
					zap.String("remote_addr", c.remote),
					zap.Error(err),
				)
			}
			return
		}
		logging.LogWebSocketMessage(c.remote, "received", msgType, data)
	}
}

// writePump sends queued messages and pings until the queue is closed
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		logging.LogConnection(c.remote, "websocket_closed")
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
