package web

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-navtest/pkg/hub"
)

// handleStatus returns the current status
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.Snapshot())
}

// handleHealth reports liveness and bridge connectivity
func (s *Server) handleHealth(c *fiber.Ctx) error {
	st := s.Snapshot()
	code := fiber.StatusOK
	if s.BridgeConnected != nil && !st.BridgeConnected {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"ok":               code == fiber.StatusOK,
		"bridge_connected": st.BridgeConnected,
		"clients":          s.statusHub.ClientCount(),
	})
}

// handleStatusWS streams status updates, starting with the current one
func (s *Server) handleStatusWS(c *websocket.Conn) {
	if err := c.WriteJSON(s.Snapshot()); err != nil {
		return
	}
	hub.NewClient(s.statusHub, c).Run()
}
