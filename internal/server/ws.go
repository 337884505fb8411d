package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scribblesense/scribblesense/internal/capture"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// sessionEvent is one message on a session stream.
type sessionEvent struct {
	Type    string              `json:"type"`
	Session capture.SessionInfo `json:"session"`
}

// wsConnection streams snapshots of one session to a client.
type wsConnection struct {
	conn      *websocket.Conn
	updates   <-chan capture.SessionInfo
	stop      func()
	server    *HTTPServer
	sessionID string
	closeOnce sync.Once
}

// handleSessionEvents upgrades to a WebSocket that receives the current
// session snapshot followed by every change. The stream ends when the
// session is removed.
func (h *HTTPServer) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	info, ok := h.lookupSession(w, r)
	if !ok {
		return
	}

	updates, stop, err := h.sessions.Watch(info.ID)
	if err != nil {
		h.sessionError(w, r, info, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		stop()
		h.logger.Error("WebSocket upgrade failed",
			slog.String("session_id", info.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	h.metrics.ConnectionOpened()
	h.logger.Debug("Session stream opened", slog.String("session_id", info.ID))

	c := &wsConnection{
		conn:      conn,
		updates:   updates,
		stop:      stop,
		server:    h,
		sessionID: info.ID,
	}

	go c.writePump()
	go c.readPump()
}

func (c *wsConnection) close() {
	c.closeOnce.Do(func() {
		c.stop()
		c.conn.Close()
		c.server.metrics.ConnectionClosed()
		c.server.logger.Debug("Session stream closed", slog.String("session_id", c.sessionID))
	})
}

func (c *wsConnection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case info, ok := <-c.updates:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session removed"))
				return
			}

			if err := c.conn.WriteJSON(sessionEvent{Type: "session", Session: info}); err != nil {
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

// readPump only handles control frames; clients send nothing.
func (c *wsConnection) readPump() {
	defer c.close()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.logger.Error("WebSocket read error", slog.String("error", err.Error()))
			}
			return
		}
	}
}
