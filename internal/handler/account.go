package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/Strangers/internal/session"
)

type AccountHandler struct{}

func NewAccountHandler() *AccountHandler {
	return &AccountHandler{}
}

// Subscribe upgrades the signed-in user to pro.
func (h *AccountHandler) Subscribe(c *gin.Context) {
	s, ok := mustSession(c)
	if !ok {
		return
	}
	ctx, cancel := bound(c, s)
	defer cancel()

	user, err := s.Subscribe(ctx)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "pro": true})
}

func (h *AccountHandler) OpenUpgradePrompt(c *gin.Context) {
	s, ok := mustSession(c)
	if !ok {
		return
	}
	s.PromptUpgrade()
	c.JSON(http.StatusOK, gin.H{"open": s.UpgradePromptOpen()})
}

func (h *AccountHandler) DismissUpgradePrompt(c *gin.Context) {
	s, ok := mustSession(c)
	if !ok {
		return
	}
	s.DismissUpgradePrompt()
	c.Status(http.StatusNoContent)
}

func (h *AccountHandler) OpenProfileEditor(c *gin.Context) {
	s, ok := mustSession(c)
	if !ok {
		return
	}
	if err := s.OpenProfileEditor(); err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": s.Auth.CurrentUser()})
}

func (h *AccountHandler) CloseProfileEditor(c *gin.Context) {
	s, ok := mustSession(c)
	if !ok {
		return
	}
	s.CloseProfileEditor()
	c.Status(http.StatusNoContent)
}

func (h *AccountHandler) UpdateProfile(c *gin.Context) {
	s, ok := mustSession(c)
	if !ok {
		return
	}
	var form session.ProfileUpdate
	if err := c.ShouldBindJSON(&form); err != nil {
		badRequest(c)
		return
	}
	ctx, cancel := bound(c, s)
	defer cancel()

	user, err := s.UpdateProfile(ctx, form)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}
