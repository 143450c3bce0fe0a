package server

import (
	"encoding/json"
	"log"
	"time"

	"github.com/emilixs/Aicouncil/internal/broadcast"
	"github.com/emilixs/Aicouncil/pkg/blackboard"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// WatchSession streams a session's events over a WebSocket as JSON text
// frames. Only events emitted after the connection opens are sent. The server
// closes the connection after the SessionEnded event.
// GET /ws/sessions/:id
func (s *Server) WatchSession(c echo.Context) error {
	sessionID := c.Param("id")

	if _, err := s.store.LoadSession(c.Request().Context(), sessionID); err != nil {
		return writeError(c, err)
	}

	observer, err := s.observers.Observe(c.Request().Context(), sessionID)
	if err != nil {
		return writeError(c, err)
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		observer.Close()
		log.Printf("[Server] Failed to upgrade WebSocket for session %s: %v", sessionID, err)
		return nil
	}
	conn.SetReadLimit(s.opts.MaxMessageSize)

	go s.writePump(conn, observer)
	go s.readPump(conn, observer)

	return nil
}

// readPump only handles control frames; anything the client sends is ignored.
// It detaches the observer when the client goes away.
func (s *Server) readPump(conn *websocket.Conn, observer *broadcast.Observer) {
	defer func() {
		observer.Close()
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[Server] WebSocket error on session %s: %v", observer.SessionID, err)
			}
			return
		}
	}
}

// writePump is the only writer on the connection.
func (s *Server) writePump(conn *websocket.Conn, observer *broadcast.Observer) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		observer.Close()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-observer.Events():
			conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "event stream closed"))
				return
			}

			payload, err := json.Marshal(ev)
			if err != nil {
				log.Printf("[Server] Failed to marshal %s event: %v", ev.Type, err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

			if ev.Type == blackboard.EventSessionEnded {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
