package middleware

import (
	"errors"
	"net/http"
	"strings"

	"go-attendance/internal/identity"
	"go-attendance/internal/shared/apperror"
	"go-attendance/internal/shared/contextutil"
	"go-attendance/internal/shared/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	ContextUserID   = "user_id"
	ContextRole     = "role"
	ContextIdentity = "identity"
)

var (
	ErrTokenMissing = apperror.New(apperror.CodeUnauthorized, "Token not found", http.StatusUnauthorized)
	ErrInvalidToken = apperror.New(apperror.CodeUnauthorized, "Invalid token", http.StatusUnauthorized)
	ErrTokenExpired = apperror.New(apperror.CodeUnauthorized, "Token has expired", http.StatusUnauthorized)
	ErrUnknownRole  = apperror.New(apperror.CodeForbidden, "Role is not allowed to use this service", http.StatusForbidden)
)

func abortWith(c *gin.Context, err error) {
	httpErr := apperror.ToHTTP(err)
	response.Error(c, httpErr.Status, httpErr.Code, httpErr.Message, nil)
	c.Abort()
}

// AuthMiddleware verifies the HS256 token from the Authorization header or
// the access_token cookie and resolves the caller identity. The identity is
// stored on the gin context and on the request context.
func AuthMiddleware(secret string, resolver identity.Resolver) gin.HandlerFunc {
	key := []byte(secret)

	return func(c *gin.Context) {
		tokenString, _ := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if tokenString == "" {
			if cookie, err := c.Cookie("access_token"); err == nil {
				tokenString = cookie
			}
		}
		if tokenString == "" {
			abortWith(c, ErrTokenMissing)
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
			return key, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			if errors.Is(err, jwt.ErrTokenExpired) {
				abortWith(c, ErrTokenExpired)
				return
			}
			abortWith(c, ErrInvalidToken)
			return
		}

		userID, _ := claims["user_id"].(string)
		role, _ := claims["role"].(string)
		if userID == "" {
			abortWith(c, ErrInvalidToken)
			return
		}

		ctx := c.Request.Context()
		log := contextutil.GetLogger(ctx, zap.L())

		who, err := resolver.Resolve(ctx, userID, role)
		if err != nil {
			if errors.Is(err, identity.ErrUnknownRole) {
				abortWith(c, ErrUnknownRole)
				return
			}
			log.Error("resolve caller identity failed", zap.String("user_id", userID), zap.Error(err))
			abortWith(c, apperror.ErrInternal)
			return
		}

		c.Set(ContextUserID, who.UserID)
		c.Set(ContextRole, string(who.Role))
		c.Set(ContextIdentity, who)

		ctx = identity.WithIdentity(ctx, who)
		ctx = contextutil.WithUserID(ctx, who.UserID)
		ctx = contextutil.WithLogger(ctx, log.With(zap.String("user_id", who.UserID)))
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
