package stream

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// Clients only listen; anything larger than a control frame is a misbehaving peer.
const maxInboundMessage = 512

// RegisterRoutes serves GET /ws/:session. Each connection receives the sync
// status snapshot for its session followed by every later status change.
func RegisterRoutes(r fiber.Router, hub *Hub) {
	r.Get("/ws/:session", websocket.New(func(c *websocket.Conn) {
		client := hub.Register(c.Params("session"))
		defer hub.Unregister(client)
		c.SetReadLimit(maxInboundMessage)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for msg := range client.Send {
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}
		}()

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
		hub.Unregister(client)
		<-done
	}))
}
