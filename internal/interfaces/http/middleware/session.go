package middleware

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/compliancesync/backend/internal/domain/identity"
	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/compliancesync/backend/internal/infrastructure/logger"
	"github.com/compliancesync/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session context keys
const (
	SessionTenantIDKey = "session_tenant_id"
	SessionUserIDKey   = "session_user_id"
	SessionRoleKey     = "session_role"
	AuthHeaderKey      = "Authorization"
	BearerPrefix       = "Bearer "
)

// SessionClaims are the claims of a platform session token. dest is the
// shop's admin URL, sub the platform user id.
type SessionClaims struct {
	jwt.RegisteredClaims
	Dest string `json:"dest"`
	SID  string `json:"sid,omitempty"`
}

// ShopDomain returns the host of dest
func (c *SessionClaims) ShopDomain() (string, error) {
	u, err := url.Parse(c.Dest)
	if err != nil || u.Host == "" {
		return "", errors.New("dest claim is not a shop URL")
	}
	return identity.NormalizeShopDomain(u.Host), nil
}

// SessionConfig holds configuration for session authentication
type SessionConfig struct {
	// Secret is the app's API secret, the HS256 signing key of session tokens
	Secret string
	// APIKey is the expected audience; empty skips the audience check
	APIKey  string
	Tenants identity.TenantRepository
	Users   identity.UserRepository
	// Leeway tolerates clock skew on exp and nbf
	Leeway time.Duration
	Logger *zap.Logger
}

// Session authenticates requests carrying a platform session token and
// resolves the tenant (by dest) and user (by sub). Inactive tenants and
// users without a membership are rejected.
func Session(cfg SessionConfig) gin.HandlerFunc {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Leeway == 0 {
		cfg.Leeway = 5 * time.Second
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithExpirationRequired(),
	}
	if cfg.APIKey != "" {
		opts = append(opts, jwt.WithAudience(cfg.APIKey))
	}
	parser := jwt.NewParser(opts...)
	keyFunc := func(*jwt.Token) (any, error) { return []byte(cfg.Secret), nil }

	return func(c *gin.Context) {
		header := c.GetHeader(AuthHeaderKey)
		if !strings.HasPrefix(header, BearerPrefix) || len(header) == len(BearerPrefix) {
			abortAuth(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, "Missing session token")
			return
		}

		claims := &SessionClaims{}
		if _, err := parser.ParseWithClaims(strings.TrimPrefix(header, BearerPrefix), claims, keyFunc); err != nil {
			log.Debug("Session token rejected", zap.Error(err), zap.String("path", c.Request.URL.Path))
			if errors.Is(err, jwt.ErrTokenExpired) {
				abortAuth(c, http.StatusUnauthorized, dto.ErrCodeTokenExpired, "Session token has expired")
				return
			}
			abortAuth(c, http.StatusUnauthorized, dto.ErrCodeTokenInvalid, "Invalid session token")
			return
		}

		shop, err := claims.ShopDomain()
		if err != nil {
			abortAuth(c, http.StatusUnauthorized, dto.ErrCodeTokenInvalid, "Invalid session token")
			return
		}
		shopifyUserID, err := strconv.ParseInt(claims.Subject, 10, 64)
		if err != nil || shopifyUserID <= 0 {
			abortAuth(c, http.StatusUnauthorized, dto.ErrCodeTokenInvalid, "Session token has no user")
			return
		}

		ctx := c.Request.Context()
		tenant, err := cfg.Tenants.FindByShopDomain(ctx, shop)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				abortAuth(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, "Shop is not installed")
				return
			}
			log.Error("Tenant lookup failed", zap.String("shop_domain", shop), zap.Error(err))
			abortAuth(c, http.StatusServiceUnavailable, dto.ErrCodeUnavailable, "Authentication temporarily unavailable")
			return
		}
		if !tenant.IsActive() {
			abortAuth(c, http.StatusForbidden, dto.ErrCodeForbidden, "Shop is "+string(tenant.Status))
			return
		}

		user, err := cfg.Users.FindByShopifyUserID(ctx, tenant.ID, shopifyUserID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				abortAuth(c, http.StatusForbidden, dto.ErrCodeForbidden, "User does not belong to this shop")
				return
			}
			log.Error("User lookup failed", zap.String("tenant_id", tenant.ID.String()), zap.Error(err))
			abortAuth(c, http.StatusServiceUnavailable, dto.ErrCodeUnavailable, "Authentication temporarily unavailable")
			return
		}

		c.Set(SessionTenantIDKey, tenant.ID)
		c.Set(SessionUserIDKey, user.ID)
		c.Set(SessionRoleKey, user.Role)

		ctx = logger.WithTenantID(ctx, tenant.ID)
		ctx = logger.WithUserID(ctx, user.ID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func abortAuth(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, dto.NewErrorResponseWithRequestID(code, message, c.GetString(RequestIDKey)))
}

// GetTenantID returns the authenticated tenant
func GetTenantID(c *gin.Context) (uuid.UUID, bool) {
	return getUUID(c, SessionTenantIDKey)
}

// GetUserID returns the authenticated user
func GetUserID(c *gin.Context) (uuid.UUID, bool) {
	return getUUID(c, SessionUserIDKey)
}

// GetRole returns the authenticated user's role
func GetRole(c *gin.Context) identity.Role {
	if v, ok := c.Get(SessionRoleKey); ok {
		if r, ok := v.(identity.Role); ok {
			return r
		}
	}
	return ""
}

func getUUID(c *gin.Context, key string) (uuid.UUID, bool) {
	if v, ok := c.Get(key); ok {
		if id, ok := v.(uuid.UUID); ok && id != uuid.Nil {
			return id, true
		}
	}
	return uuid.Nil, false
}
