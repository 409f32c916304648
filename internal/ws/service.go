package ws

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/remote-agent-terminal/ptybridge/internal/session"
)

// Service ties the connection registry, the WebSocket handler and the
// session manager together.
type Service struct {
	hub      *Hub
	sessions *session.Manager
	handler  *Handler
	logger   *zap.Logger
}

// NewService creates a new WebSocket service.
func NewService(sessions *session.Manager, checkOrigin func(r *http.Request) bool, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	hub := NewHub()
	return &Service{
		hub:      hub,
		sessions: sessions,
		handler:  NewHandler(hub, sessions, checkOrigin, logger),
		logger:   logger,
	}
}

// Handler returns the WebSocket handler.
func (s *Service) Handler() *Handler {
	return s.handler
}

// Hub returns the connection registry.
func (s *Service) Hub() *Hub {
	return s.hub
}

// Sessions returns the session manager.
func (s *Service) Sessions() *session.Manager {
	return s.sessions
}

// Close ends every session, killing its process, then closes the
// connections once their queued output is written.
func (s *Service) Close() {
	s.sessions.CloseAll()
	s.hub.Close()
	s.logger.Info("websocket service closed")
}
