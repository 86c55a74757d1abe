package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type SocialHandler struct{}

func NewSocialHandler() *SocialHandler {
	return &SocialHandler{}
}

func (h *SocialHandler) Block(c *gin.Context) {
	h.update(c, true)
}

func (h *SocialHandler) Unblock(c *gin.Context) {
	h.update(c, false)
}

func (h *SocialHandler) update(c *gin.Context, block bool) {
	s, ok := mustSession(c)
	if !ok {
		return
	}
	ctx, cancel := bound(c, s)
	defer cancel()

	id := c.Param("id")
	var err error
	if block {
		err = s.Social.Block(ctx, id)
	} else {
		err = s.Social.Unblock(ctx, id)
	}
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id, "blocked": block})
}

func (h *SocialHandler) Connections(c *gin.Context) {
	s, ok := mustSession(c)
	if !ok {
		return
	}
	users, err := s.Social.Connections(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (h *SocialHandler) History(c *gin.Context) {
	s, ok := mustSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": s.Social.History()})
}

func (h *SocialHandler) Blocked(c *gin.Context) {
	s, ok := mustSession(c)
	if !ok {
		return
	}
	users, err := s.Social.BlockedUsers(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// Search matches the query against names and locations, leaving out the
// signed-in user.
func (h *SocialHandler) Search(c *gin.Context) {
	s, ok := mustSession(c)
	if !ok {
		return
	}
	selfID := ""
	if u := s.Auth.CurrentUser(); u != nil {
		selfID = u.ID
	}
	c.JSON(http.StatusOK, gin.H{"users": s.Social.Search(c.Query("q"), selfID)})
}

func (h *SocialHandler) ViewProfile(c *gin.Context) {
	s, ok := mustSession(c)
	if !ok {
		return
	}
	profile, err := s.Social.ViewProfile(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *SocialHandler) DismissProfile(c *gin.Context) {
	s, ok := mustSession(c)
	if !ok {
		return
	}
	s.Social.DismissProfile()
	c.Status(http.StatusNoContent)
}
