package api

import (
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

// handleReminderStream pushes sent reminders for ?user_id= (or everyone
// when omitted) until the client goes away
func (s *Server) handleReminderStream(c *websocket.Conn) {
	userID := c.Query("user_id")
	unsubscribe := s.hub.Subscribe(userID, c)
	defer unsubscribe()

	s.logger.Debug("Reminder stream opened", zap.String("user_id", userID))

	// Inbound frames are ignored; reading detects the close.
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}

	s.logger.Debug("Reminder stream closed", zap.String("user_id", userID))
}
