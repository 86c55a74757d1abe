package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/Strangers/internal/handler"
	"github.com/Gopher0727/Strangers/utils/ratelimit"
)

type Handlers struct {
	Session *handler.SessionHandler
	Auth    *handler.AuthHandler
	Chat    *handler.ChatHandler
	Social  *handler.SocialHandler
	Account *handler.AccountHandler
}

// RegisterRoutes registers all API routes
func RegisterRoutes(r *gin.Engine, mw *MiddlewareManager, h Handlers) {
	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	api.POST("/sessions", mw.RateLimiterByEndpoint(ratelimit.EndpointAPI), h.Session.Create)

	// 会话级路由
	scoped := api.Group("")
	scoped.Use(mw.Session(), mw.RateLimiterByEndpoint(ratelimit.EndpointAPI))
	{
		scoped.GET("/state", h.Session.State)
		scoped.DELETE("/sessions", h.Session.Delete)
		scoped.GET("/events", h.Session.Events)

		auth := scoped.Group("/auth")
		{
			submit := mw.RateLimiterByEndpoint(ratelimit.EndpointAuth)
			auth.POST("/register", submit, h.Auth.Register)
			auth.POST("/login", submit, h.Auth.Login)
			auth.POST("/verify", h.Auth.Verify)
			auth.POST("/navigate", h.Auth.Navigate)
			auth.POST("/signup", h.Auth.ShowSignup())
			auth.POST("/signin", h.Auth.ShowLogin())
			auth.POST("/back", h.Auth.Back())
			auth.POST("/forgot", submit, h.Auth.RequestReset)
			auth.POST("/forgot/open", h.Auth.Forgot())
			auth.POST("/reset-link", h.Auth.ResetLink())
			auth.POST("/reset", submit, h.Auth.Reset)
			auth.POST("/refresh", h.Auth.Refresh)
		}
	}

	// 需要登录
	protected := scoped.Group("")
	protected.Use(mw.JWTAuth())
	{
		protected.POST("/auth/logout", h.Auth.Logout)

		chat := protected.Group("/chat")
		{
			chat.POST("/find", mw.RateLimiterByEndpoint(ratelimit.EndpointSearch), h.Chat.Find)
			chat.POST("/disconnect", h.Chat.Disconnect)
			chat.POST("/messages", mw.RateLimiterByEndpoint(ratelimit.EndpointMessage), h.Chat.Send)
			chat.POST("/files", mw.RateLimiterByEndpoint(ratelimit.EndpointMessage), h.Chat.SendFile)
			chat.POST("/call", h.Chat.Call)
			chat.POST("/call/end", h.Chat.EndCall)
			chat.GET("/filters", h.Chat.Filters)
			chat.POST("/filters", h.Chat.SetFilters)
		}

		social := protected.Group("/social")
		{
			social.POST("/block/:id", h.Social.Block)
			social.DELETE("/block/:id", h.Social.Unblock)
			social.GET("/connections", h.Social.Connections)
			social.GET("/history", h.Social.History)
			social.GET("/blocked", h.Social.Blocked)
			social.GET("/search", h.Social.Search)
			social.POST("/view/:id", h.Social.ViewProfile)
			social.DELETE("/view", h.Social.DismissProfile)
		}

		protected.POST("/subscription", h.Account.Subscribe)
		protected.POST("/upgrade-prompt", h.Account.OpenUpgradePrompt)
		protected.DELETE("/upgrade-prompt", h.Account.DismissUpgradePrompt)
		protected.POST("/profile/editor", h.Account.OpenProfileEditor)
		protected.DELETE("/profile/editor", h.Account.CloseProfileEditor)
		protected.PUT("/profile", h.Account.UpdateProfile)
	}
}
