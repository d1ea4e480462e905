package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pkgerrors "codearena/pkg/errors"
	"codearena/pkg/utils/contextkey"
	"codearena/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	userIDHeader   = "X-User-Id"
	userRoleHeader = "X-User-Role"

	userIDContextKey   = "user_id"
	userRoleContextKey = "user_role"

	// RoleAdmin grants access to leaderboard and disqualification management.
	RoleAdmin = "admin"

	IdentityModeHeader = "header"
	IdentityModeJWT    = "jwt"
)

// IdentityConfig selects how the caller identity is established.
// In header mode the service sits behind a gateway that already authenticated the caller.
type IdentityConfig struct {
	Mode      string `yaml:"mode"`
	JWTSecret string `yaml:"jwtSecret"`
	JWTIssuer string `yaml:"jwtIssuer"`
}

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Role   string
}

type accessClaims struct {
	Role      string `json:"role"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// IdentityMiddleware resolves the caller and stores it in both the gin and request contexts.
// Requests without an identity pass through anonymously; use RequireUser to enforce one.
func IdentityMiddleware(cfg IdentityConfig) gin.HandlerFunc {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = IdentityModeHeader
	}
	return func(c *gin.Context) {
		var (
			id  Identity
			err error
		)
		switch mode {
		case IdentityModeJWT:
			raw := extractBearerToken(c.GetHeader("Authorization"))
			if raw != "" {
				id, err = ParseAccessToken(raw, cfg.JWTSecret, cfg.JWTIssuer)
			}
		default:
			id = Identity{
				UserID: strings.TrimSpace(c.GetHeader(userIDHeader)),
				Role:   strings.TrimSpace(c.GetHeader(userRoleHeader)),
			}
		}
		if err != nil {
			response.AbortWithError(c, err)
			return
		}
		if id.UserID != "" {
			c.Set(userIDContextKey, id.UserID)
			c.Set(userRoleContextKey, id.Role)
			ctx := context.WithValue(c.Request.Context(), contextkey.UserID, id.UserID)
			ctx = context.WithValue(ctx, contextkey.UserRole, id.Role)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

// RequireUser rejects anonymous requests with 401.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if UserID(c) == "" {
			response.AbortWithErrorCode(c, pkgerrors.Unauthorized, "")
			return
		}
		c.Next()
	}
}

// RequireRole rejects callers whose role is not in roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if UserID(c) == "" {
			response.AbortWithErrorCode(c, pkgerrors.Unauthorized, "")
			return
		}
		if !hasRole(Role(c), roles) {
			response.AbortWithErrorCode(c, pkgerrors.Forbidden, "insufficient role")
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated user id or "".
func UserID(c *gin.Context) string {
	return c.GetString(userIDContextKey)
}

// Role returns the authenticated user role or "".
func Role(c *gin.Context) string {
	return c.GetString(userRoleContextKey)
}

// ParseAccessToken validates an HS256 access token and returns its identity.
func ParseAccessToken(raw, secret, issuer string) (Identity, error) {
	if secret == "" {
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	parsed, err := jwt.ParseWithClaims(raw, &accessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, pkgerrors.New(pkgerrors.TokenExpired)
		}
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*accessClaims)
	if !ok || !parsed.Valid {
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if issuer != "" && claims.Issuer != issuer {
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if claims.TokenType != "access" || claims.Subject == "" {
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	return Identity{UserID: claims.Subject, Role: claims.Role}, nil
}

func extractBearerToken(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func hasRole(role string, allowed []string) bool {
	for _, item := range allowed {
		if strings.EqualFold(role, item) {
			return true
		}
	}
	return false
}
