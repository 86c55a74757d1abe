package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/Strangers/config"
	"github.com/Gopher0727/Strangers/internal/session"
	"github.com/Gopher0727/Strangers/middleware/jwt"
	"github.com/Gopher0727/Strangers/utils/ratelimit"
)

type testServer struct {
	t        *testing.T
	router   *gin.Engine
	sessions *session.Manager
	clock    *clockwork.FakeClock
}

func newTestServer(t *testing.T, mutate func(*config.Config), limiter func(clockwork.Clock) ratelimit.Limiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Server.Mode = gin.TestMode
	cfg.Latency = config.LatencyConfig{}
	if mutate != nil {
		mutate(cfg)
	}
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	sessions := session.NewManager(session.ManagerOptions{Config: cfg, Clock: clock})
	t.Cleanup(func() { _ = sessions.Close(t.Context()) })

	deps := Deps{
		Config:   cfg,
		Sessions: sessions,
		Tokens:   jwt.NewTokenManagerWithClock("test-secret", 24, 1, clock),
		Clock:    clock,
	}
	if limiter != nil {
		deps.Limiter = limiter(clock)
	}
	return &testServer{t: t, router: NewRouter(deps), sessions: sessions, clock: clock}
}

func (s *testServer) do(method, path, sessionID, token string, body any) (int, map[string]any) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w.Code, out
}

func (s *testServer) createSession() string {
	s.t.Helper()
	code, body := s.do(http.MethodPost, "/api/v1/sessions", "", "", nil)
	require.Equal(s.t, http.StatusCreated, code)
	id, _ := body["session_id"].(string)
	require.NotEmpty(s.t, id)
	return id
}

// signIn walks signup, verification and login and returns the bearer token.
func (s *testServer) signIn(id string) string {
	s.t.Helper()
	code, _ := s.do(http.MethodPost, "/api/v1/auth/signup", id, "", nil)
	require.Equal(s.t, http.StatusOK, code)
	code, _ = s.do(http.MethodPost, "/api/v1/auth/register", id, "", map[string]string{
		"username": "Dee",
		"email":    "d@e.com",
		"age":      "25",
		"location": "Rome",
		"password": "Abcdef1!",
	})
	require.Equal(s.t, http.StatusCreated, code)
	code, _ = s.do(http.MethodPost, "/api/v1/auth/verify", id, "", nil)
	require.Equal(s.t, http.StatusOK, code)

	code, body := s.do(http.MethodPost, "/api/v1/auth/login", id, "", map[string]string{
		"identifier": "Dee",
		"password":   "Abcdef1!",
	})
	require.Equal(s.t, http.StatusOK, code)
	token, _ := body["token"].(string)
	require.NotEmpty(s.t, token)
	return token
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil, nil)
	code, body := s.do(http.MethodGet, "/health", "", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestSessionResolution(t *testing.T) {
	s := newTestServer(t, nil, nil)

	code, _ := s.do(http.MethodGet, "/api/v1/state", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := s.do(http.MethodGet, "/api/v1/state", "nope", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Session not found.", body["error"])

	id := s.createSession()
	code, body = s.do(http.MethodGet, "/api/v1/state", id, "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, id, body["session_id"])
	assert.Equal(t, "login", body["stage"])

	code, _ = s.do(http.MethodDelete, "/api/v1/sessions", id, "", nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = s.do(http.MethodGet, "/api/v1/state", id, "", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAuthErrors(t *testing.T) {
	s := newTestServer(t, nil, nil)
	id := s.createSession()

	code, body := s.do(http.MethodPost, "/api/v1/auth/login", id, "", map[string]string{"identifier": "", "password": ""})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Please fill in all fields.", body["error"])

	code, body = s.do(http.MethodPost, "/api/v1/auth/login", id, "", map[string]string{"identifier": "x", "password": "y"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "No user is registered. Please sign up.", body["error"])

	code, _ = s.do(http.MethodPost, "/api/v1/auth/reset-link", id, "", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = s.do(http.MethodPost, "/api/v1/auth/signup", id, "", nil)
	require.Equal(t, http.StatusOK, code)
	code, body = s.do(http.MethodPost, "/api/v1/auth/register", id, "", map[string]string{
		"username": "Dee",
		"email":    "not-an-email",
		"age":      "12",
		"location": "Rome",
		"password": "Abcdef1!",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, body, "fields")
}

func TestNavigate(t *testing.T) {
	s := newTestServer(t, nil, nil)
	id := s.createSession()

	code, body := s.do(http.MethodPost, "/api/v1/auth/navigate", id, "", map[string]string{"event": "show-signup"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "signup", body["stage"])

	code, _ = s.do(http.MethodPost, "/api/v1/auth/navigate", id, "", map[string]string{"event": "show-signup"})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = s.do(http.MethodPost, "/api/v1/auth/navigate", "", "", map[string]string{"event": "show-login"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	s := newTestServer(t, nil, nil)
	id := s.createSession()

	code, body := s.do(http.MethodPost, "/api/v1/chat/find", id, "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "authorization header required", body["error"])

	code, body = s.do(http.MethodPost, "/api/v1/chat/find", id, "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "invalid token", body["error"])
}

func TestChatFlow(t *testing.T) {
	s := newTestServer(t, nil, nil)
	id := s.createSession()
	token := s.signIn(id)

	code, body := s.do(http.MethodPost, "/api/v1/chat/find", id, token, nil)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, body["peer"])
	chatState := body["chat"].(map[string]any)
	assert.Equal(t, "connected", chatState["status"])

	code, body = s.do(http.MethodPost, "/api/v1/chat/messages", id, token, map[string]string{"text": "  "})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Message cannot be empty.", body["error"])

	code, body = s.do(http.MethodPost, "/api/v1/chat/messages", id, token, map[string]string{"text": "hello"})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "hello", body["text"])
	assert.Equal(t, "me", body["sender"])

	code, _ = s.do(http.MethodPost, "/api/v1/chat/files", id, token, map[string]string{
		"name":      "cat.png",
		"mime_type": "image/png",
	})
	assert.Equal(t, http.StatusPaymentRequired, code)

	code, _ = s.do(http.MethodPost, "/api/v1/chat/disconnect", id, token, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestUpgradeGating(t *testing.T) {
	s := newTestServer(t, nil, nil)
	id := s.createSession()
	token := s.signIn(id)

	code, _ := s.do(http.MethodPost, "/api/v1/chat/filters", id, token, map[string]string{"gender": "Female"})
	assert.Equal(t, http.StatusPaymentRequired, code)

	_, state := s.do(http.MethodGet, "/api/v1/state", id, "", nil)
	assert.Equal(t, true, state["upgrade_prompt"])

	code, body := s.do(http.MethodPost, "/api/v1/subscription", id, token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["pro"])

	code, body = s.do(http.MethodPost, "/api/v1/chat/filters", id, token, map[string]string{"gender": "Female", "location": " tokyo "})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Female", body["gender"])
	assert.Equal(t, "tokyo", body["location"])

	code, body = s.do(http.MethodPost, "/api/v1/chat/find", id, token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Olivia", body["peer"].(map[string]any)["username"])

	code, body = s.do(http.MethodPost, "/api/v1/chat/files", id, token, map[string]string{
		"name":      "notes.txt",
		"mime_type": "text/plain",
	})
	assert.Equal(t, http.StatusUnsupportedMediaType, code)
	assert.Equal(t, "Unsupported file type. Please select an image or video.", body["error"])
}

func TestSocialRoutes(t *testing.T) {
	s := newTestServer(t, nil, nil)
	id := s.createSession()
	token := s.signIn(id)

	code, _ := s.do(http.MethodPost, "/api/v1/social/block/2", id, token, nil)
	require.Equal(t, http.StatusOK, code)
	code, body := s.do(http.MethodGet, "/api/v1/social/blocked", id, token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["users"], 1)

	code, _ = s.do(http.MethodPost, "/api/v1/social/block/missing", id, token, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = s.do(http.MethodPost, "/api/v1/social/view/2", id, token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["is_blocked"])

	code, _ = s.do(http.MethodDelete, "/api/v1/social/block/2", id, token, nil)
	require.Equal(t, http.StatusOK, code)
	code, body = s.do(http.MethodGet, "/api/v1/social/blocked", id, token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["users"])

	code, body = s.do(http.MethodGet, "/api/v1/social/search?q=paris", id, token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["users"], 2)
}

func TestLogoutRevokesToken(t *testing.T) {
	s := newTestServer(t, nil, nil)
	id := s.createSession()
	token := s.signIn(id)

	code, body := s.do(http.MethodPost, "/api/v1/auth/logout", id, token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "login", body["stage"])

	code, body = s.do(http.MethodPost, "/api/v1/chat/find", id, token, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "token has been revoked", body["error"])
}

func TestTokenIsBoundToSession(t *testing.T) {
	s := newTestServer(t, nil, nil)
	a := s.createSession()
	token := s.signIn(a)
	b := s.createSession()

	code, body := s.do(http.MethodGet, "/api/v1/social/history", b, token, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "token belongs to another session", body["error"])
}

func TestRateLimitPerSession(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := newTestServer(t,
		func(cfg *config.Config) {
			cfg.RateLimit.Enabled = true
			cfg.RateLimit.AuthPerMinute = 2
		},
		func(clock clockwork.Clock) ratelimit.Limiter {
			return ratelimit.NewWindowLimiter(client, clock, nil, false)
		},
	)
	a := s.createSession()
	b := s.createSession()

	login := map[string]string{"identifier": "x", "password": "y"}
	for range 2 {
		code, _ := s.do(http.MethodPost, "/api/v1/auth/login", a, "", login)
		assert.Equal(t, http.StatusNotFound, code)
	}
	code, body := s.do(http.MethodPost, "/api/v1/auth/login", a, "", login)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.EqualValues(t, 60, body["retry_after"])

	// budgets are per session
	code, _ = s.do(http.MethodPost, "/api/v1/auth/login", b, "", login)
	assert.Equal(t, http.StatusNotFound, code)
}
