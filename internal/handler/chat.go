package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/Strangers/internal/model"
)

type ChatHandler struct{}

func NewChatHandler() *ChatHandler {
	return &ChatHandler{}
}

type SendMessageRequest struct {
	Text string `json:"text"`
}

// Find searches for a stranger using the filters stored on the session.
func (h *ChatHandler) Find(c *gin.Context) {
	s, ok := mustSession(c)
	if !ok {
		return
	}
	ctx, cancel := bound(c, s)
	defer cancel()

	peer, err := s.Chat.FindPeer(ctx, s.Chat.Filters())
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"peer": peer, "chat": s.Chat.Snapshot()})
}

func (h *ChatHandler) Disconnect(c *gin.Context) {
	s, ok := mustSession(c)
	if !ok {
		return
	}
	if err := s.Chat.Disconnect(); err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Chat.Snapshot())
}

func (h *ChatHandler) Send(c *gin.Context) {
	s, ok := mustSession(c)
	if !ok {
		return
	}
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	msg, err := s.Chat.SendMessage(req.Text)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *ChatHandler) SendFile(c *gin.Context) {
	s, ok := mustSession(c)
	if !ok {
		return
	}
	var att model.Attachment
	if err := c.ShouldBindJSON(&att); err != nil {
		badRequest(c)
		return
	}
	msg, err := s.Chat.SendFile(att)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *ChatHandler) Call(c *gin.Context) {
	s, ok := mustSession(c)
	if !ok {
		return
	}
	if err := s.Chat.InitiateCall(); err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"voice": s.Chat.Snapshot().Voice})
}

func (h *ChatHandler) EndCall(c *gin.Context) {
	s, ok := mustSession(c)
	if !ok {
		return
	}
	if err := s.Chat.EndCall(); err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"voice": s.Chat.Snapshot().Voice})
}

func (h *ChatHandler) Filters(c *gin.Context) {
	s, ok := mustSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Chat.Filters())
}

// SetFilters stores the search filters. Only pro users may set them.
func (h *ChatHandler) SetFilters(c *gin.Context) {
	s, ok := mustSession(c)
	if !ok {
		return
	}
	var f model.Filters
	if err := c.ShouldBindJSON(&f); err != nil {
		badRequest(c)
		return
	}
	if err := s.Chat.SetFilters(f); err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Chat.Filters())
}
