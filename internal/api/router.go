package api

import (
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/Gopher0727/Strangers/config"
	"github.com/Gopher0727/Strangers/internal/handler"
	"github.com/Gopher0727/Strangers/internal/pkg/gateway"
	"github.com/Gopher0727/Strangers/internal/session"
	"github.com/Gopher0727/Strangers/middleware/jwt"
	"github.com/Gopher0727/Strangers/utils/ratelimit"
)

// Deps is everything the view bridge serves from.
type Deps struct {
	Config   *config.Config
	Sessions *session.Manager
	Tokens   *jwt.TokenManager
	Stream   *gateway.StreamHandler
	// Limiter may be nil when rate limiting is off.
	Limiter ratelimit.Limiter
	Clock   clockwork.Clock
	Logger  *zap.Logger
}

// NewRouter builds the gin engine with middleware and routes installed.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Config.Server.Mode != "" {
		gin.SetMode(deps.Config.Server.Mode)
	}
	r := gin.New()

	mw := NewMiddlewareManager(deps.Tokens, deps.Sessions, deps.Limiter, deps.Logger, deps.Clock, &deps.Config.RateLimit)
	r.Use(mw.Recovery(), mw.Logger(), mw.CORS())

	RegisterRoutes(r, mw, Handlers{
		Session: handler.NewSessionHandler(deps.Sessions, deps.Stream),
		Auth:    handler.NewAuthHandler(deps.Tokens),
		Chat:    handler.NewChatHandler(),
		Social:  handler.NewSocialHandler(),
		Account: handler.NewAccountHandler(),
	})
	return r
}
