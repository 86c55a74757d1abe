package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/Strangers/internal/session"
)

// gin context keys shared with the middleware
const (
	SessionKey   = "session"
	SessionIDKey = "session_id"
	UserIDKey    = "user_id"
)

// SessionFrom returns the session resolved by the session middleware.
func SessionFrom(c *gin.Context) (*session.Session, bool) {
	v, ok := c.Get(SessionKey)
	if !ok {
		return nil, false
	}
	s, ok := v.(*session.Session)
	return s, ok
}

func mustSession(c *gin.Context) (*session.Session, bool) {
	s, ok := SessionFrom(c)
	if !ok {
		Fail(c, session.ErrNotFound)
	}
	return s, ok
}

// bound runs with a context that also ends when the session closes.
func bound(c *gin.Context, s *session.Session) (context.Context, context.CancelFunc) {
	return s.Bind(c.Request.Context())
}
