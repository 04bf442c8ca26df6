package middlewares

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/castmatch/castmatch-server/internal/domain/identity"
	"github.com/castmatch/castmatch-server/internal/utils/platformerrors"
)

const principalContextKey = "principal"

// Gateway headers set by the API gateway after it authenticated the caller.
const (
	headerUserID    = "X-User-Id"
	headerUserRole  = "X-User-Role"
	headerUserEmail = "X-User-Email"
	headerUserName  = "X-User-Name"
)

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	Validate(ctx context.Context, raw string) (identity.Principal, error)
}

// AuthMiddleware authenticates bearer JWTs. When trustGateway is set, requests
// without a bearer token may authenticate through gateway identity headers.
func AuthMiddleware(validator TokenValidator, trustGateway bool, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c.GetHeader("Authorization")); ok {
			if validator == nil {
				platformerrors.WriteUnauthorized(c, "Bearer authentication is not configured")
				return
			}
			principal, err := validator.Validate(c.Request.Context(), token)
			if err != nil {
				logger.Debug().Err(err).Str("path", c.FullPath()).Msg("jwt validation failed")
				platformerrors.WriteUnauthorized(c, "Invalid or expired token")
				return
			}
			setPrincipal(c, principal)
			c.Next()
			return
		}

		if trustGateway {
			if principal, ok := principalFromGatewayHeaders(c); ok {
				setPrincipal(c, principal)
				c.Next()
				return
			}
		}

		logger.Debug().
			Str("path", c.FullPath()).
			Str("method", c.Request.Method).
			Msg("unauthenticated request")
		platformerrors.WriteUnauthorized(c, "Authentication required")
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func principalFromGatewayHeaders(c *gin.Context) (identity.Principal, bool) {
	id := strings.TrimSpace(c.GetHeader(headerUserID))
	if id == "" {
		return identity.Principal{}, false
	}
	return identity.Principal{
		ID:    id,
		Role:  identity.ParseRole(c.GetHeader(headerUserRole)),
		Email: strings.TrimSpace(c.GetHeader(headerUserEmail)),
		Name:  strings.TrimSpace(c.GetHeader(headerUserName)),
	}, true
}

// PrincipalFromContext returns the authenticated principal, if any.
func PrincipalFromContext(c *gin.Context) (identity.Principal, bool) {
	val, ok := c.Get(principalContextKey)
	if !ok {
		return identity.Principal{}, false
	}
	principal, ok := val.(identity.Principal)
	return principal, ok && principal.ID != ""
}

func setPrincipal(c *gin.Context, principal identity.Principal) {
	c.Set(principalContextKey, principal)
	c.Set("user_id", principal.ID)
	c.Request = c.Request.WithContext(identity.WithPrincipal(c.Request.Context(), principal))
}
