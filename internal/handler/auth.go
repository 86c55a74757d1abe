package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/Strangers/internal/auth"
	"github.com/Gopher0727/Strangers/middleware/jwt"
)

type AuthHandler struct {
	tokens *jwt.TokenManager
}

func NewAuthHandler(tokens *jwt.TokenManager) *AuthHandler {
	return &AuthHandler{tokens: tokens}
}

type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type ResetRequest struct {
	Email string `json:"email"`
}

type NewPasswordRequest struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type NavigateRequest struct {
	Event auth.Event `json:"event"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	s, ok := mustSession(c)
	if !ok {
		return
	}
	var form auth.SignupForm
	if err := c.ShouldBindJSON(&form); err != nil {
		badRequest(c)
		return
	}
	ctx, cancel := bound(c, s)
	defer cancel()

	user, err := s.Auth.Register(ctx, form)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": user, "stage": s.Auth.Stage()})
}

func (h *AuthHandler) Verify(c *gin.Context) {
	s, ok := mustSession(c)
	if !ok {
		return
	}
	if err := s.Auth.VerifyEmail(c.Request.Context()); err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Email verified successfully! Please log in.",
		"stage":   s.Auth.Stage(),
	})
}

// Login signs in and mints a bearer token bound to the session.
func (h *AuthHandler) Login(c *gin.Context) {
	s, ok := mustSession(c)
	if !ok {
		return
	}
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	ctx, cancel := bound(c, s)
	defer cancel()

	user, err := s.Auth.Login(ctx, req.Identifier, req.Password)
	if err != nil {
		status, message := StatusFor(err)
		c.AbortWithStatusJSON(status, gin.H{"error": message, "stage": s.Auth.Stage()})
		return
	}
	token, err := h.tokens.GenerateToken(s.ID(), user.ID, user.Username)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

// Refresh reissues a bearer token close to or just past its expiry.
// The refreshed token must still match the session and its signed-in user.
func (h *AuthHandler) Refresh(c *gin.Context) {
	s, ok := mustSession(c)
	if !ok {
		return
	}
	raw := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	token, err := h.tokens.RefreshToken(raw)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	claims, err := h.tokens.ParseToken(token)
	user := s.Auth.CurrentUser()
	if err != nil || claims.SessionID != s.ID() || user == nil || user.ID != claims.UserID {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token has been revoked"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (h *AuthHandler) Navigate(c *gin.Context) {
	if _, ok := mustSession(c); !ok {
		return
	}
	var req NavigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	h.navigate(c, req.Event)
}

func (h *AuthHandler) navigateTo(ev auth.Event) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := mustSession(c); ok {
			h.navigate(c, ev)
		}
	}
}

// Forgot, Back, ShowSignup and ShowLogin are fixed navigation shortcuts.
func (h *AuthHandler) Forgot() gin.HandlerFunc     { return h.navigateTo(auth.EventForgotPassword) }
func (h *AuthHandler) Back() gin.HandlerFunc       { return h.navigateTo(auth.EventGoBack) }
func (h *AuthHandler) ShowSignup() gin.HandlerFunc { return h.navigateTo(auth.EventShowSignup) }
func (h *AuthHandler) ShowLogin() gin.HandlerFunc  { return h.navigateTo(auth.EventShowLogin) }

// ResetLink simulates clicking the emailed reset link.
func (h *AuthHandler) ResetLink() gin.HandlerFunc { return h.navigateTo(auth.EventSimulateClick) }

func (h *AuthHandler) navigate(c *gin.Context, ev auth.Event) {
	s, _ := SessionFrom(c)
	stage, err := s.Auth.Navigate(ev)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stage": stage})
}

func (h *AuthHandler) RequestReset(c *gin.Context) {
	s, ok := mustSession(c)
	if !ok {
		return
	}
	var req ResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	ctx, cancel := bound(c, s)
	defer cancel()

	res, err := s.Auth.RequestPasswordReset(ctx, req.Email)
	if err != nil {
		Fail(c, err)
		return
	}
	// Matched is not echoed so both outcomes look the same on the wire
	c.JSON(http.StatusOK, gin.H{"notice": res.Notice, "stage": s.Auth.Stage()})
}

func (h *AuthHandler) Reset(c *gin.Context) {
	s, ok := mustSession(c)
	if !ok {
		return
	}
	var req NewPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	ctx, cancel := bound(c, s)
	defer cancel()

	if _, err := s.Auth.ResetPassword(ctx, req.Password, req.ConfirmPassword); err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Password has been reset successfully. Please log in with your new password.",
		"stage":   s.Auth.Stage(),
	})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	s, ok := mustSession(c)
	if !ok {
		return
	}
	s.Logout()
	c.JSON(http.StatusOK, gin.H{"stage": s.Auth.Stage()})
}
