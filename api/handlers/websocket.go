package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/remote-agent-terminal/ptybridge/internal/ws"
)

// WebSocketHandler handles WebSocket connections for terminal sessions.
type WebSocketHandler struct {
	wsHandler *ws.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(wsHandler *ws.Handler) *WebSocketHandler {
	return &WebSocketHandler{
		wsHandler: wsHandler,
	}
}

// Attach handles the WebSocket upgrade. Every connection gets a fresh
// session that lives as long as the connection.
func (h *WebSocketHandler) Attach(c *gin.Context) {
	h.wsHandler.ServeHTTP(c.Writer, c.Request)
}

// RegisterRoutes registers the WebSocket route at path.
func (h *WebSocketHandler) RegisterRoutes(r gin.IRoutes, path string) {
	r.GET(path, h.Attach)
}
