package ws

import (
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/remote-agent-terminal/ptybridge/internal/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Large enough for pastes.
	maxMessageSize = 64 * 1024
)

// Handler bridges WebSocket connections to terminal sessions.
type Handler struct {
	hub      *Hub
	sessions *session.Manager
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler. A nil checkOrigin accepts
// every origin.
func NewHandler(hub *Hub, sessions *session.Manager, checkOrigin func(r *http.Request) bool, logger *zap.Logger) *Handler {
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		hub:      hub,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		logger: logger.With(zap.String("component", "gateway")),
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.HandleConnection(w, r); err != nil {
		h.logger.Warn("connection rejected", zap.Error(err), zap.String("remote", r.RemoteAddr))
	}
}

// HandleConnection upgrades the request and runs a new session for it
// until either side goes away.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(h.hub, conn, h.logger)
	sess, err := h.sessions.Open(client)
	if err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session unavailable"),
			time.Now().Add(writeWait))
		conn.Close()
		return err
	}
	client.sessionID = sess.ID()
	client.logger = h.logger.With(zap.String("session_id", sess.ID()))
	h.hub.Register(client)

	client.logger.Info("client connected", zap.String("remote", r.RemoteAddr))

	// The writer must be draining before the first diagnostic can be queued.
	go h.writePump(client)
	sess.Start()
	go h.readPump(client, sess)

	return nil
}

// dispatch routes one inbound message to the session.
func dispatch(sess *session.Session, payload []byte) {
	frame := Decode(payload)
	switch frame.Kind {
	case FrameInput, FrameRaw:
		sess.Input(frame.Data)
	case FrameResize:
		sess.Resize(frame.Cols, frame.Rows)
	}
}

// readPump pumps messages from the WebSocket connection to the session.
func (h *Handler) readPump(client *Client, sess *session.Session) {
	defer func() {
		sess.Close()
		h.hub.Unregister(client)
		client.Conn().Close()
		client.logger.Info("client disconnected")
	}()

	client.Conn().SetReadLimit(maxMessageSize)
	client.Conn().SetReadDeadline(time.Now().Add(pongWait))
	client.Conn().SetPongHandler(func(string) error {
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				client.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		dispatch(sess, message)
	}
}

// writePump pumps queued output to the WebSocket connection. A failed
// write closes the socket; the session ends when readPump sees that.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	for {
		select {
		case message, ok := <-client.SendChan():
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The session closed the client; everything queued was sent.
				client.Conn().WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := client.Conn().WriteMessage(messageType(message), message); err != nil {
				client.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				client.logger.Debug("websocket ping failed", zap.Error(err))
				return
			}
		}
	}
}

// messageType picks text frames for terminal output and falls back to
// binary frames for bytes that are not valid UTF-8.
func messageType(data []byte) int {
	if utf8.Valid(data) {
		return websocket.TextMessage
	}
	return websocket.BinaryMessage
}
