package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"patchwatch/internal/auth"
	"patchwatch/internal/model"
)

// ValidationStatus tags the outcome of a session validation. Every
// non-valid status maps to a distinct 401 payload upstream.
type ValidationStatus string

const (
	StatusValid         ValidationStatus = "valid"
	StatusNotFound      ValidationStatus = "session_not_found"
	StatusRevoked       ValidationStatus = "session_revoked"
	StatusExpired       ValidationStatus = "session_expired"
	StatusInactive      ValidationStatus = "session_inactive"
	StatusTokenMismatch ValidationStatus = "token_mismatch"
	StatusUserInactive  ValidationStatus = "user_inactive"
)

// ValidationResult carries the tagged outcome plus the resolved session
// and user when valid.
type ValidationResult struct {
	Status  ValidationStatus
	Message string
	Session *model.UserSession
	User    *model.User
}

// Valid reports whether validation succeeded
func (r *ValidationResult) Valid() bool {
	return r.Status == StatusValid
}

// CreatedSession is returned exactly once at login; the plaintext
// tokens are never recoverable afterwards.
type CreatedSession struct {
	SessionID    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Manager owns the session lifecycle: created → active → (revoked | expired).
// Terminal states are final.
type Manager struct {
	db         *gorm.DB
	logger     *logrus.Entry
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	inactivity time.Duration
}

// Config holds the manager's tunables
type Config struct {
	Issuer                   string
	AccessExpireMinutes      int
	RefreshExpireDays        int
	InactivityTimeoutMinutes int
}

// NewManager creates a session manager
func NewManager(db *gorm.DB, cfg Config, logger *logrus.Entry) *Manager {
	return &Manager{
		db:         db,
		logger:     logger.WithField("component", "session-manager"),
		issuer:     cfg.Issuer,
		accessTTL:  time.Duration(cfg.AccessExpireMinutes) * time.Minute,
		refreshTTL: time.Duration(cfg.RefreshExpireDays) * 24 * time.Hour,
		inactivity: time.Duration(cfg.InactivityTimeoutMinutes) * time.Minute,
	}
}

// InactivityTimeout returns the global inactivity window
func (m *Manager) InactivityTimeout() time.Duration {
	return m.inactivity
}

// Create mints a new session for the user: a signed access token
// embedding {uid, sid}, an opaque refresh token, and a session row
// storing only SHA-256 hashes of both.
func (m *Manager) Create(user *model.User, ip, userAgent string) (*CreatedSession, error) {
	sessionID := uuid.NewString()
	now := time.Now().UTC()
	accessExpiry := now.Add(m.accessTTL)

	accessToken, err := auth.GenerateToken(user.ID, sessionID, accessExpiry, m.issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	refreshToken, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	row := model.UserSession{
		ID:               sessionID,
		UserID:           user.ID,
		AccessTokenHash:  auth.HashSessionToken(accessToken),
		RefreshTokenHash: auth.HashSessionToken(refreshToken),
		IPAddress:        ip,
		UserAgent:        userAgent,
		LastActivity:     now,
		ExpiresAt:        now.Add(m.refreshTTL),
	}
	if err := m.db.Create(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	return &CreatedSession{
		SessionID:    sessionID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    accessExpiry,
	}, nil
}

// Validate resolves a session ID and presented access token into a
// tagged result. Check order matters and short-circuits: existence →
// revoked → hard expiry → inactivity → token hash → user active.
func (m *Manager) Validate(sessionID, accessToken string) (*ValidationResult, error) {
	var sess model.UserSession
	if err := m.db.Where("id = ?", sessionID).First(&sess).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &ValidationResult{Status: StatusNotFound, Message: "Session not found"}, nil
		}
		return nil, err
	}

	result, err := m.check(&sess)
	if err != nil || result != nil {
		return result, err
	}

	if sess.AccessTokenHash != auth.HashSessionToken(accessToken) {
		return &ValidationResult{Status: StatusTokenMismatch, Message: "Token mismatch"}, nil
	}

	return m.resolveUser(&sess)
}

// check runs the state checks shared by Validate and Refresh: revoked,
// hard expiry, inactivity. A nil result means the session passed.
func (m *Manager) check(sess *model.UserSession) (*ValidationResult, error) {
	now := time.Now().UTC()

	if sess.IsRevoked {
		return &ValidationResult{Status: StatusRevoked, Message: "Session revoked"}, nil
	}

	if now.After(sess.ExpiresAt) {
		if err := m.Revoke(sess.ID); err != nil {
			return nil, err
		}
		return &ValidationResult{Status: StatusExpired, Message: "Session expired"}, nil
	}

	if now.Sub(sess.LastActivity) > m.inactivity {
		if err := m.Revoke(sess.ID); err != nil {
			return nil, err
		}
		msg := fmt.Sprintf("Session inactive for more than %d minutes", int(m.inactivity.Minutes()))
		return &ValidationResult{Status: StatusInactive, Message: msg}, nil
	}

	return nil, nil
}

// resolveUser loads the owning user and enforces is_active, revoking
// the session when the user has been deactivated.
func (m *Manager) resolveUser(sess *model.UserSession) (*ValidationResult, error) {
	var user model.User
	if err := m.db.First(&user, sess.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if rerr := m.Revoke(sess.ID); rerr != nil {
				return nil, rerr
			}
			return &ValidationResult{Status: StatusUserInactive, Message: "User account is inactive"}, nil
		}
		return nil, err
	}
	if !user.IsActive {
		if err := m.Revoke(sess.ID); err != nil {
			return nil, err
		}
		return &ValidationResult{Status: StatusUserInactive, Message: "User account is inactive"}, nil
	}

	return &ValidationResult{Status: StatusValid, Session: sess, User: &user}, nil
}

// TouchActivity unconditionally bumps last_activity; called once per
// authenticated request after validation succeeds.
func (m *Manager) TouchActivity(sessionID string) error {
	return m.db.Model(&model.UserSession{}).
		Where("id = ?", sessionID).
		Update("last_activity", time.Now().UTC()).Error
}

// Refresh rotates the access token: look up by refresh token hash,
// re-run the session checks, then mint a new access token and overwrite
// the stored hash. The previous access token is thereby invalidated.
func (m *Manager) Refresh(refreshToken string) (*CreatedSession, *ValidationResult, error) {
	var sess model.UserSession
	hash := auth.HashSessionToken(refreshToken)
	if err := m.db.Where("refresh_token_hash = ?", hash).First(&sess).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &ValidationResult{Status: StatusNotFound, Message: "Session not found"}, nil
		}
		return nil, nil, err
	}

	if result, err := m.check(&sess); err != nil {
		return nil, nil, err
	} else if result != nil {
		return nil, result, nil
	}

	result, err := m.resolveUser(&sess)
	if err != nil {
		return nil, nil, err
	}
	if !result.Valid() {
		return nil, result, nil
	}

	now := time.Now().UTC()
	accessExpiry := now.Add(m.accessTTL)
	accessToken, err := auth.GenerateToken(sess.UserID, sess.ID, accessExpiry, m.issuer)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	updates := map[string]interface{}{
		"access_token_hash": auth.HashSessionToken(accessToken),
		"last_activity":     now,
	}
	if err := m.db.Model(&model.UserSession{}).Where("id = ?", sess.ID).Updates(updates).Error; err != nil {
		return nil, nil, err
	}

	return &CreatedSession{
		SessionID:   sess.ID,
		AccessToken: accessToken,
		ExpiresAt:   accessExpiry,
	}, result, nil
}

// Revoke marks a session revoked. Idempotent; revoked is terminal.
func (m *Manager) Revoke(sessionID string) error {
	return m.db.Model(&model.UserSession{}).
		Where("id = ?", sessionID).
		Update("is_revoked", true).Error
}

// RevokeAllForUser revokes every session of a user, e.g. on deactivation
func (m *Manager) RevokeAllForUser(userID int) error {
	return m.db.Model(&model.UserSession{}).
		Where("user_id = ? AND is_revoked = ?", userID, false).
		Update("is_revoked", true).Error
}

// CleanupExpired deletes sessions that are past hard expiry or revoked.
// Meant for the periodic cleanup worker, not the request path.
func (m *Manager) CleanupExpired() (int64, error) {
	res := m.db.Where("expires_at < ? OR is_revoked = ?", time.Now().UTC(), true).
		Delete(&model.UserSession{})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		m.logger.Infof("Removed %d expired sessions", res.RowsAffected)
	}
	return res.RowsAffected, nil
}
