package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/Strangers/internal/pkg/gateway"
	"github.com/Gopher0727/Strangers/internal/session"
)

type SessionHandler struct {
	sessions *session.Manager
	stream   *gateway.StreamHandler
}

func NewSessionHandler(sessions *session.Manager, stream *gateway.StreamHandler) *SessionHandler {
	return &SessionHandler{sessions: sessions, stream: stream}
}

// Create opens a new session and waits out its initial check.
func (h *SessionHandler) Create(c *gin.Context) {
	s, err := h.sessions.Create()
	if err != nil {
		Fail(c, err)
		return
	}
	if err := s.Ready(c.Request.Context()); err != nil {
		_ = h.sessions.Delete(c.Request.Context(), s.ID())
		Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session_id": s.ID()})
}

// Delete ends the current session.
func (h *SessionHandler) Delete(c *gin.Context) {
	s, ok := mustSession(c)
	if !ok {
		return
	}
	if err := h.sessions.Delete(c.Request.Context(), s.ID()); err != nil {
		Fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// State returns the full view state of the session.
func (h *SessionHandler) State(c *gin.Context) {
	s, ok := mustSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Snapshot(c.Request.Context()))
}

// Events upgrades to the websocket event stream of the session.
func (h *SessionHandler) Events(c *gin.Context) {
	s, ok := mustSession(c)
	if !ok {
		return
	}
	// Upgrade writes its own error response
	_ = h.stream.Serve(c.Writer, c.Request, s.ID())
}
