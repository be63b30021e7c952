package middleware

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"patchwatch/internal/auth"
	"patchwatch/internal/httpx"
	"patchwatch/internal/model"
	"patchwatch/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Context keys set by the auth middleware
const (
	ContextUserKey    = "current_user"
	ContextSessionKey = "current_session"
	ContextHostKey    = "current_host"
)

// CurrentUser returns the authenticated user from the request context
func CurrentUser(c *gin.Context) *model.User {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return nil
	}
	user, _ := v.(*model.User)
	return user
}

// CurrentSession returns the validated session from the request context
func CurrentSession(c *gin.Context) *model.UserSession {
	v, ok := c.Get(ContextSessionKey)
	if !ok {
		return nil
	}
	sess, _ := v.(*model.UserSession)
	return sess
}

// CurrentHost returns the agent-authenticated host from the request context
func CurrentHost(c *gin.Context) *model.Host {
	v, ok := c.Get(ContextHostKey)
	if !ok {
		return nil
	}
	host, _ := v.(*model.Host)
	return host
}

func bearerToken(c *gin.Context) (string, *httpx.AppError) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", httpx.ErrUnauthorized("missing authorization header").WithReason(httpx.ReasonMissingToken)
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", httpx.ErrUnauthorized("invalid authorization header format").WithReason(httpx.ReasonMissingToken)
	}
	return parts[1], nil
}

func failValidation(c *gin.Context, result *session.ValidationResult) {
	appErr := httpx.ErrUnauthorized(result.Message)
	switch result.Status {
	case session.StatusNotFound:
		appErr = appErr.WithReason(httpx.ReasonSessionNotFound)
	case session.StatusRevoked:
		appErr = appErr.WithReason(httpx.ReasonSessionRevoked)
	case session.StatusExpired:
		appErr = appErr.WithReason(httpx.ReasonSessionExpired)
	case session.StatusInactive:
		appErr = appErr.WithReason(httpx.ReasonSessionInactive)
	case session.StatusTokenMismatch:
		appErr = appErr.WithReason(httpx.ReasonTokenMismatch)
	case session.StatusUserInactive:
		appErr = appErr.WithReason(httpx.ReasonUserInactive)
	}
	httpx.FailErr(c, appErr)
	c.Abort()
}

// AuthRequired validates the bearer JWT against the session table. A
// structurally valid token is not enough: the session row must exist,
// be unrevoked, unexpired, within the inactivity window, and match the
// stored token hash, and the owning user must be active.
func AuthRequired(db *gorm.DB, sessions *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, appErr := bearerToken(c)
		if appErr != nil {
			httpx.FailErr(c, appErr)
			c.Abort()
			return
		}

		claims, err := auth.ParseToken(tokenString)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				httpx.FailErr(c, httpx.ErrTokenExpired("token expired"))
			} else {
				httpx.FailErr(c, httpx.ErrInvalidToken("invalid token"))
			}
			c.Abort()
			return
		}

		result, err := sessions.Validate(claims.SessionID, tokenString)
		if err != nil {
			httpx.FailErr(c, httpx.ErrDatabaseError("failed to validate session", err))
			c.Abort()
			return
		}
		if !result.Valid() {
			failValidation(c, result)
			return
		}

		// Activity bump failures must not reject the request.
		if err := sessions.TouchActivity(result.Session.ID); err != nil {
			logrus.WithError(err).Warn("Failed to touch session activity")
		}
		if err := db.Model(result.User).Update("last_login", time.Now().UTC()).Error; err != nil {
			logrus.WithError(err).Warn("Failed to touch user last_login")
		}

		c.Set(ContextUserKey, result.User)
		c.Set(ContextSessionKey, result.Session)
		c.Next()
	}
}

// OptionalAuth resolves the user when a valid bearer token is present
// and silently continues anonymously otherwise.
func OptionalAuth(sessions *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, appErr := bearerToken(c)
		if appErr != nil {
			c.Next()
			return
		}

		claims, err := auth.ParseToken(tokenString)
		if err != nil {
			c.Next()
			return
		}

		result, err := sessions.Validate(claims.SessionID, tokenString)
		if err == nil && result.Valid() {
			c.Set(ContextUserKey, result.User)
			c.Set(ContextSessionKey, result.Session)
		}
		c.Next()
	}
}

// AgentAuth authenticates agent requests by API credentials. The host
// is loaded by API ID and the key compared; check-ins for unknown or
// mismatched credentials are rejected without detail.
func AgentAuth(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiID := c.GetHeader("X-API-ID")
		apiKey := c.GetHeader("X-API-KEY")
		if apiID == "" || apiKey == "" {
			httpx.FailErr(c, httpx.ErrUnauthorized("missing api credentials").WithReason(httpx.ReasonMissingToken))
			c.Abort()
			return
		}

		var host model.Host
		if err := db.Where("api_id = ?", apiID).First(&host).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				httpx.FailErr(c, httpx.ErrUnauthorized("invalid api credentials").WithReason(httpx.ReasonBadCredentials))
			} else {
				httpx.FailErr(c, httpx.ErrDatabaseError("failed to load host", err))
			}
			c.Abort()
			return
		}
		if subtle.ConstantTimeCompare([]byte(host.APIKey), []byte(apiKey)) != 1 {
			httpx.FailErr(c, httpx.ErrUnauthorized("invalid api credentials").WithReason(httpx.ReasonBadCredentials))
			c.Abort()
			return
		}

		c.Set(ContextHostKey, &host)
		c.Next()
	}
}

// RequirePermission gates a route on a capability of the user's role.
// Unknown roles and unknown capabilities both deny: a role without a
// permission row has no capabilities at all. Runs after AuthRequired.
func RequirePermission(db *gorm.DB, capability model.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			httpx.FailErr(c, httpx.ErrUnauthorized("not authenticated").WithReason(httpx.ReasonMissingToken))
			c.Abort()
			return
		}

		var perm model.RolePermission
		if err := db.Where("role = ?", user.Role).First(&perm).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				logrus.WithFields(logrus.Fields{
					"role":       user.Role,
					"capability": capability,
				}).Warn("Role has no permission row, denying")
				httpx.FailErr(c, httpx.ErrForbidden("permission denied"))
			} else {
				httpx.FailErr(c, httpx.ErrDatabaseError("failed to load permissions", err))
			}
			c.Abort()
			return
		}

		if !perm.Has(capability) {
			httpx.FailErr(c, httpx.ErrForbidden("permission denied"))
			c.Abort()
			return
		}

		c.Next()
	}
}
