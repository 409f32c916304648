package handlers

import (
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/remote-agent-terminal/ptybridge/internal/model"
	"github.com/remote-agent-terminal/ptybridge/internal/session"
)

// previewBytes bounds the output preview in session listings.
const previewBytes = 256

// SessionHandler handles HTTP requests for live session inspection.
type SessionHandler struct {
	sessionManager *session.Manager
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessionManager *session.Manager) *SessionHandler {
	return &SessionHandler{
		sessionManager: sessionManager,
	}
}

// SessionResponse represents a session in API responses.
type SessionResponse struct {
	model.SessionInfo
	Duration string `json:"duration"`
}

// toSessionResponse converts a session snapshot to SessionResponse.
func toSessionResponse(snap session.Snapshot) SessionResponse {
	info := model.SessionInfo{
		ID:          snap.ID,
		State:       snap.State.String(),
		Attempts:    snap.Attempts,
		Cols:        snap.Cols,
		Rows:        snap.Rows,
		Fallback:    snap.Fallback,
		Preview:     preview(snap.Tail),
		OutputBytes: snap.OutputBytes,
		CreatedAt:   snap.CreatedAt,
	}
	if snap.PID != 0 {
		pid := snap.PID
		info.PID = &pid
	}
	return SessionResponse{
		SessionInfo: info,
		Duration:    formatDuration(info.Duration()),
	}
}

// preview returns the end of the output as valid UTF-8.
func preview(tail []byte) string {
	if len(tail) > previewBytes {
		tail = tail[len(tail)-previewBytes:]
		// Skip a rune cut in half by the slice.
		for len(tail) > 0 && !utf8.RuneStart(tail[0]) {
			tail = tail[1:]
		}
	}
	return strings.ToValidUTF8(string(tail), "")
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return time.Duration(h*time.Hour + m*time.Minute + s*time.Second).String()
	}
	if m > 0 {
		return time.Duration(m*time.Minute + s*time.Second).String()
	}
	return time.Duration(s * time.Second).String()
}

// List handles GET /api/sessions - lists open sessions.
func (h *SessionHandler) List(c *gin.Context) {
	snaps := h.sessionManager.List()

	response := make([]SessionResponse, 0, len(snaps))
	for _, snap := range snaps {
		response = append(response, toSessionResponse(snap))
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": response,
		"total":    len(response),
	})
}

// Get handles GET /api/sessions/:id - gets one session.
func (h *SessionHandler) Get(c *gin.Context) {
	sessionID := c.Param("id")

	sess, ok := h.sessionManager.Get(sessionID)
	if !ok {
		sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", model.ErrSessionNotFound.Error()+": "+sessionID)
		return
	}

	c.JSON(http.StatusOK, toSessionResponse(sess.Snapshot()))
}

// Delete handles DELETE /api/sessions/:id - kills the session's process
// and closes its connection.
func (h *SessionHandler) Delete(c *gin.Context) {
	sessionID := c.Param("id")

	if !h.sessionManager.Close(sessionID) {
		sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", model.ErrSessionNotFound.Error()+": "+sessionID)
		return
	}

	c.Status(http.StatusNoContent)
}

// RegisterRoutes registers the session handler routes on a Gin router group.
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sessions := rg.Group("/sessions")
	{
		sessions.GET("", h.List)
		sessions.GET("/:id", h.Get)
		sessions.DELETE("/:id", h.Delete)
	}
}
