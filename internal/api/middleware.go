package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/Gopher0727/Strangers/config"
	"github.com/Gopher0727/Strangers/internal/handler"
	"github.com/Gopher0727/Strangers/internal/session"
	"github.com/Gopher0727/Strangers/middleware/jwt"
	logger "github.com/Gopher0727/Strangers/middleware/log"
	"github.com/Gopher0727/Strangers/utils/ratelimit"
)

const (
	SessionHeader = "X-Session-ID"
	TraceHeader   = "X-Trace-ID"
)

type MiddlewareManager struct {
	tokenManager *jwt.TokenManager
	sessions     *session.Manager
	rateLimiter  ratelimit.Limiter
	logger       *zap.Logger
	clock        clockwork.Clock
	rateLimitCfg *config.RateLimitConfig
}

// NewMiddlewareManager wires the HTTP middleware. A nil limiter turns rate
// limiting off.
func NewMiddlewareManager(
	tokenManager *jwt.TokenManager,
	sessions *session.Manager,
	limiter ratelimit.Limiter,
	log *zap.Logger,
	clock clockwork.Clock,
	rateLimitCfg *config.RateLimitConfig,
) *MiddlewareManager {
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if rateLimitCfg == nil {
		rateLimitCfg = &config.RateLimitConfig{}
	}
	return &MiddlewareManager{
		tokenManager: tokenManager,
		sessions:     sessions,
		rateLimiter:  limiter,
		logger:       log,
		clock:        clock,
		rateLimitCfg: rateLimitCfg,
	}
}

// Session resolves the session named by the X-Session-ID header or the
// session_id query parameter.
func (m *MiddlewareManager) Session() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(SessionHeader)
		if id == "" {
			id = c.Query("session_id")
		}
		if id == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "session id required"})
			return
		}
		s, err := m.sessions.Get(id)
		if err != nil {
			handler.Fail(c, err)
			return
		}
		c.Set(handler.SessionKey, s)
		c.Set(handler.SessionIDKey, s.ID())
		c.Request = c.Request.WithContext(logger.WithSessionID(c.Request.Context(), s.ID()))
		c.Next()
	}
}

// JWTAuth requires a bearer token issued to the current session for the
// user that is still signed in on it. Signing out revokes the token.
func (m *MiddlewareManager) JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := bearer(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		claims, err := m.tokenManager.ParseToken(tokenString)
		if err != nil {
			m.logger.Warn("token validation failed",
				zap.String("error", err.Error()),
				zap.String("ip", c.ClientIP()),
			)

			message := "invalid token"
			switch {
			case errors.Is(err, jwt.ErrExpiredToken):
				message = "token has expired"
			case errors.Is(err, jwt.ErrTokenNotYetValid):
				message = "token not yet valid"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
			return
		}

		s, ok := handler.SessionFrom(c)
		if !ok || claims.SessionID != s.ID() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token belongs to another session"})
			return
		}
		user := s.Auth.CurrentUser()
		if user == nil || user.ID != claims.UserID {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token has been revoked"})
			return
		}

		c.Set(handler.UserIDKey, claims.UserID)
		c.Set("username", claims.UserName)
		c.Next()
	}
}

func bearer(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		// browsers cannot set headers on websocket upgrades
		if token := c.Query("token"); token != "" {
			return token, nil
		}
		return "", errors.New("authorization header required")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errors.New("invalid authorization header format")
	}
	return parts[1], nil
}

// RateLimiterByEndpoint budgets requests per session and endpoint group.
func (m *MiddlewareManager) RateLimiterByEndpoint(endpoint ratelimit.Endpoint) gin.HandlerFunc {
	rule := ratelimit.RuleFor(endpoint, m.rateLimitCfg)

	return func(c *gin.Context) {
		if m.rateLimiter == nil {
			c.Next()
			return
		}
		ctx := c.Request.Context()

		var key string
		if id, exists := c.Get(handler.SessionIDKey); exists {
			key = fmt.Sprintf("session:%s:%s", id, endpoint)
		} else {
			key = fmt.Sprintf("ip:%s:%s", c.ClientIP(), endpoint)
		}

		allowed, err := m.rateLimiter.Allow(ctx, key, rule.Limit, rule.Window)
		if err != nil {
			m.logger.Error("rate limit check failed",
				zap.String("error", err.Error()),
				zap.String("key", key),
				zap.String("endpoint", string(endpoint)),
			)
			// the limiter already decided fail-open or fail-closed
			if allowed {
				c.Next()
			} else {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "rate limit check failed"})
			}
			return
		}

		if !allowed {
			remaining, _ := m.rateLimiter.GetRemaining(ctx, key, rule.Limit, rule.Window)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": int(rule.Window.Seconds()),
				"remaining":   remaining,
			})
			return
		}

		c.Next()
	}
}

// Logger tags each request with a trace id and logs its outcome.
func (m *MiddlewareManager) Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := m.clock.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		ctx := logger.WithTraceID(c.Request.Context(), c.GetHeader(TraceHeader))
		c.Request = c.Request.WithContext(ctx)
		c.Header(TraceHeader, logger.GetTraceID(ctx))

		c.Next()

		statusCode := c.Writer.Status()
		fields := []zap.Field{
			zap.String("trace_id", logger.GetTraceID(ctx)),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", statusCode),
			zap.Duration("latency", m.clock.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if id := c.GetString(handler.SessionIDKey); id != "" {
			fields = append(fields, zap.String("session_id", id))
		}
		if userID := c.GetString(handler.UserIDKey); userID != "" {
			fields = append(fields, zap.String("user_id", userID))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case statusCode >= 500:
			m.logger.Error("server error", fields...)
		case statusCode >= 400:
			m.logger.Warn("client error", fields...)
		default:
			m.logger.Info("request completed", fields...)
		}
	}
}

func (m *MiddlewareManager) CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Session-ID, X-Trace-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Trace-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (m *MiddlewareManager) Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				m.logger.Error("panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()

		c.Next()
	}
}
