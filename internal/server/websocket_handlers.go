package server

import (
	"encoding/json"

	"signbridge/internal/middleware"
	"signbridge/pkg/protocol"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// RequireUpgrade rejects plain HTTP requests to the realtime endpoint before
// a ticket is spent on them.
func (s *Server) RequireUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return c.Next()
}

// RealtimeHandler handles GET /api/ws. The connection carries change-feed
// subscriptions and the presence channel; see pkg/protocol for the frames.
func (s *Server) RealtimeHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		middleware.ActiveWebSockets.Inc()
		defer middleware.ActiveWebSockets.Dec()

		uid, ok := conn.Locals("userID").(uint)
		if !ok || uid == 0 {
			writeRejection(conn, "unauthorized")
			return
		}

		client, err := s.hub.Register(uid, conn)
		if err != nil {
			writeRejection(conn, err.Error())
			return
		}

		go client.WritePump()
		client.ReadPump()
	})
}

func writeRejection(conn *websocket.Conn, reason string) {
	frame, _ := json.Marshal(protocol.Frame{Type: protocol.FrameError, Error: reason})
	_ = conn.WriteMessage(websocket.TextMessage, frame)
	_ = conn.Close()
}
