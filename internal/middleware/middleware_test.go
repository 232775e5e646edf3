package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go-attendance/internal/domain"
	"go-attendance/internal/identity"
	"go-attendance/internal/middleware"
	"go-attendance/internal/shared/contextutil"
	"go-attendance/internal/shared/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redismock/v9"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const testSecret = "test-secret"

type fakeResolver struct {
	teams map[string][]string
	err   error
}

func (f *fakeResolver) Resolve(_ context.Context, userID, role string) (identity.Identity, error) {
	if f.err != nil {
		return identity.Identity{}, f.err
	}
	r, ok := identity.ParseRole(role)
	if !ok {
		return identity.Identity{}, fmt.Errorf("%w: %q", identity.ErrUnknownRole, role)
	}
	return identity.Identity{UserID: userID, Role: r, AssignedUsers: f.teams[userID]}, nil
}

type fakeEnforcer struct {
	allow map[string]bool
	err   error
}

func (f *fakeEnforcer) Enforce(req domain.EnforceRequest) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.allow[req.Role+":"+req.Resource+":"+req.Action], nil
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func newRouter(resolver identity.Resolver, enforcer middleware.RBACService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.ContextLogger(zap.NewNop()))
	r.GET("/probe",
		middleware.AuthMiddleware(testSecret, resolver),
		middleware.RBACAuthorize(enforcer, "attendance", "read"),
		func(c *gin.Context) {
			who, _ := identity.FromContext(c.Request.Context())
			response.Success(c, http.StatusOK, gin.H{
				"user_id":    who.UserID,
				"role":       who.Role,
				"team":       who.AssignedUsers,
				"request_id": contextutil.GetRequestID(c.Request.Context()),
			}, nil)
		},
	)
	return r
}

func TestAuthMiddleware(t *testing.T) {
	enforcer := &fakeEnforcer{allow: map[string]bool{
		"manager:attendance:read": true,
		"user:attendance:read":    true,
	}}
	resolver := &fakeResolver{teams: map[string][]string{"mgr-1": {"u-1", "u-2"}}}

	t.Run("valid token resolves identity", func(t *testing.T) {
		router := newRouter(resolver, enforcer)
		token := signToken(t, jwt.MapClaims{"user_id": "mgr-1", "role": "manager", "exp": time.Now().Add(time.Hour).Unix()})

		req := httptest.NewRequest(http.MethodGet, "/probe", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set(middleware.HeaderRequestID, "REQ-9")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		data := decodeEnvelope(t, w)["data"].(map[string]any)
		assert.Equal(t, "mgr-1", data["user_id"])
		assert.Equal(t, "manager", data["role"])
		assert.Len(t, data["team"], 2)
		assert.Equal(t, "REQ-9", data["request_id"])
		assert.Equal(t, "REQ-9", w.Header().Get(middleware.HeaderRequestID))
	})

	t.Run("cookie token", func(t *testing.T) {
		router := newRouter(resolver, enforcer)
		token := signToken(t, jwt.MapClaims{"user_id": "u-1", "role": "user"})

		req := httptest.NewRequest(http.MethodGet, "/probe", nil)
		req.AddCookie(&http.Cookie{Name: "access_token", Value: token})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))
	})

	t.Run("missing token", func(t *testing.T) {
		router := newRouter(resolver, enforcer)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/probe", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, false, decodeEnvelope(t, w)["ok"])
	})

	t.Run("expired token", func(t *testing.T) {
		router := newRouter(resolver, enforcer)
		token := signToken(t, jwt.MapClaims{"user_id": "u-1", "role": "user", "exp": time.Now().Add(-time.Hour).Unix()})

		req := httptest.NewRequest(http.MethodGet, "/probe", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		errBody := decodeEnvelope(t, w)["error"].(map[string]any)
		assert.Equal(t, middleware.ErrTokenExpired.Message, errBody["message"])
	})

	t.Run("wrong secret", func(t *testing.T) {
		router := newRouter(resolver, enforcer)
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "u-1", "role": "user"}).
			SignedString([]byte("other"))
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/probe", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown role", func(t *testing.T) {
		router := newRouter(resolver, enforcer)
		token := signToken(t, jwt.MapClaims{"user_id": "u-1", "role": "guest"})

		req := httptest.NewRequest(http.MethodGet, "/probe", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("resolver failure", func(t *testing.T) {
		router := newRouter(&fakeResolver{err: errors.New("db down")}, enforcer)
		token := signToken(t, jwt.MapClaims{"user_id": "u-1", "role": "user"})

		req := httptest.NewRequest(http.MethodGet, "/probe", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestRBACAuthorize(t *testing.T) {
	resolver := &fakeResolver{}
	token := signToken(t, jwt.MapClaims{"user_id": "u-1", "role": "user"})

	t.Run("denied", func(t *testing.T) {
		router := newRouter(resolver, &fakeEnforcer{allow: map[string]bool{}})
		req := httptest.NewRequest(http.MethodGet, "/probe", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		errBody := decodeEnvelope(t, w)["error"].(map[string]any)
		assert.Equal(t, "attendance:read", errBody["details"].(map[string]any)["required"])
	})

	t.Run("enforcer error", func(t *testing.T) {
		router := newRouter(resolver, &fakeEnforcer{err: errors.New("casbin")})
		req := httptest.NewRequest(http.MethodGet, "/probe", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("no identity", func(t *testing.T) {
		gin.SetMode(gin.TestMode)
		r := gin.New()
		r.GET("/open", middleware.RBACAuthorize(&fakeEnforcer{}, "attendance", "read"), func(c *gin.Context) {
			c.Status(http.StatusNoContent)
		})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/open", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestIdempotency(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cacheKey := "idemp:/mark:u-1:key-1"

	newIdempRouter := func(rdb *redismockClient) *gin.Engine {
		r := gin.New()
		r.POST("/mark",
			func(c *gin.Context) { c.Set(middleware.ContextUserID, "u-1"); c.Next() },
			middleware.Idempotency(rdb.client),
			func(c *gin.Context) {
				assert.Equal(t, cacheKey, c.GetString("idempotency_cache_key"))
				response.Success(c, http.StatusCreated, gin.H{"fresh": true}, nil)
			},
		)
		return r
	}

	t.Run("replays stored response", func(t *testing.T) {
		rdb := newRedismockClient()
		rdb.mock.ExpectGet(cacheKey).SetVal(`{"id":"rec-1"}`)

		req := httptest.NewRequest(http.MethodPost, "/mark", nil)
		req.Header.Set(middleware.HeaderIdempotencyKey, "key-1")
		w := httptest.NewRecorder()
		newIdempRouter(rdb).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "true", w.Header().Get("Idempotent-Replayed"))
		assert.Equal(t, "rec-1", decodeEnvelope(t, w)["data"].(map[string]any)["id"])
		assert.NoError(t, rdb.mock.ExpectationsWereMet())
	})

	t.Run("in flight duplicate", func(t *testing.T) {
		rdb := newRedismockClient()
		rdb.mock.ExpectGet(cacheKey).RedisNil()
		rdb.mock.ExpectSetNX(cacheKey+":lock", "locked", 30*time.Second).SetVal(false)

		req := httptest.NewRequest(http.MethodPost, "/mark", nil)
		req.Header.Set(middleware.HeaderIdempotencyKey, "key-1")
		w := httptest.NewRecorder()
		newIdempRouter(rdb).ServeHTTP(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, rdb.mock.ExpectationsWereMet())
	})

	t.Run("first request passes through", func(t *testing.T) {
		rdb := newRedismockClient()
		rdb.mock.ExpectGet(cacheKey).RedisNil()
		rdb.mock.ExpectSetNX(cacheKey+":lock", "locked", 30*time.Second).SetVal(true)

		req := httptest.NewRequest(http.MethodPost, "/mark", nil)
		req.Header.Set(middleware.HeaderIdempotencyKey, "key-1")
		w := httptest.NewRecorder()
		newIdempRouter(rdb).ServeHTTP(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.NoError(t, rdb.mock.ExpectationsWereMet())
	})
}

func TestRateLimitByUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/heartbeat",
		func(c *gin.Context) { c.Set(middleware.ContextUserID, c.GetHeader("X-User")); c.Next() },
		middleware.RateLimitByUser(rate.Every(time.Hour), 1),
		func(c *gin.Context) { c.Status(http.StatusNoContent) },
	)

	send := func(user string) int {
		req := httptest.NewRequest(http.MethodPost, "/heartbeat", nil)
		req.Header.Set("X-User", user)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, send("u-1"))
	assert.Equal(t, http.StatusTooManyRequests, send("u-1"))
	assert.Equal(t, http.StatusNoContent, send("u-2"))
	assert.Equal(t, http.StatusNoContent, send(""))
	assert.Equal(t, http.StatusNoContent, send(""))
}

type redismockClient struct {
	client *redis.Client
	mock   redismock.ClientMock
}

func newRedismockClient() *redismockClient {
	db, mock := redismock.NewClientMock()
	return &redismockClient{client: db, mock: mock}
}
