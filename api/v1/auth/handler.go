package auth

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"patchwatch/api/v1/middleware"
	"patchwatch/internal/auth"
	"patchwatch/internal/httpx"
	"patchwatch/internal/model"
	"patchwatch/internal/session"
	"patchwatch/internal/settings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// LoginRequest represents login request body; identity accepts either a
// username or an email address.
type LoginRequest struct {
	Identity string `json:"identity" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// VerifyTFARequest represents the second login step for TFA users
type VerifyTFARequest struct {
	Username string `json:"username" binding:"required"`
	Token    string `json:"token" binding:"required"`
}

// RefreshRequest represents refresh token request body
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// SignupRequest represents self-service signup request body
type SignupRequest struct {
	Username string `json:"username" binding:"required,min=3,max=64"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// SessionResponse represents a successful login/refresh response
type SessionResponse struct {
	Token        string   `json:"token"`
	RefreshToken string   `json:"refreshToken,omitempty"`
	ExpireAt     string   `json:"expireAt"`
	User         UserInfo `json:"user"`
}

// TFARequiredResponse tells the client to continue with verify-tfa
type TFARequiredResponse struct {
	TFARequired bool   `json:"tfaRequired"`
	Username    string `json:"username"`
}

// UserInfo represents user information in response
type UserInfo struct {
	ID         int    `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	IsActive   bool   `json:"isActive"`
	TFAEnabled bool   `json:"tfaEnabled"`
}

func userInfo(u *model.User) UserInfo {
	return UserInfo{
		ID:         u.ID,
		Username:   u.Username,
		Email:      u.Email,
		Role:       u.Role,
		IsActive:   u.IsActive,
		TFAEnabled: u.TFAEnabled,
	}
}

// Handler handles the auth API
type Handler struct {
	db       *gorm.DB
	sessions *session.Manager
	settings *settings.Service
}

// NewHandler creates a new auth handler
func NewHandler(db *gorm.DB, sessions *session.Manager, settingsSvc *settings.Service) *Handler {
	return &Handler{db: db, sessions: sessions, settings: settingsSvc}
}

func (h *Handler) findByIdentity(identity string) (*model.User, error) {
	var user model.User
	err := h.db.Where("username = ? OR email = ?", identity, identity).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (h *Handler) issueSession(c *gin.Context, user *model.User) {
	created, err := h.sessions.Create(user, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		httpx.FailErr(c, httpx.ErrInternalError("failed to create session", err))
		return
	}

	now := time.Now().UTC()
	if err := h.db.Model(user).Update("last_login", now).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to update user", err))
		return
	}

	httpx.OK(c, SessionResponse{
		Token:        created.AccessToken,
		RefreshToken: created.RefreshToken,
		ExpireAt:     created.ExpiresAt.Format(time.RFC3339),
		User:         userInfo(user),
	})
}

// Login handles POST /api/v1/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	user, err := h.findByIdentity(req.Identity)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Unknown identity and wrong password answer identically.
			httpx.FailErr(c, httpx.ErrUnauthorized("invalid credentials").WithReason(httpx.ReasonBadCredentials))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("database error", err))
		return
	}

	if err := auth.ComparePassword(user.PasswordHash, req.Password); err != nil {
		httpx.FailErr(c, httpx.ErrUnauthorized("invalid credentials").WithReason(httpx.ReasonBadCredentials))
		return
	}

	if !user.IsActive {
		httpx.FailErr(c, httpx.ErrUnauthorized("user account is inactive").WithReason(httpx.ReasonUserInactive))
		return
	}

	if user.TFAEnabled {
		httpx.OK(c, TFARequiredResponse{TFARequired: true, Username: user.Username})
		return
	}

	h.issueSession(c, user)
}

// VerifyTFA handles POST /api/v1/auth/verify-tfa. Accepts either a
// current TOTP code or an unused backup code.
func (h *Handler) VerifyTFA(c *gin.Context) {
	var req VerifyTFARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	var user model.User
	if err := h.db.Where("username = ?", req.Username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.FailErr(c, httpx.ErrUnauthorized("invalid credentials").WithReason(httpx.ReasonBadCredentials))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("database error", err))
		return
	}
	if !user.TFAEnabled || !user.IsActive {
		httpx.FailErr(c, httpx.ErrUnauthorized("invalid credentials").WithReason(httpx.ReasonBadCredentials))
		return
	}

	if auth.VerifyTOTP(user.TFASecret, req.Token) {
		h.issueSession(c, &user)
		return
	}

	ok, err := h.consumeBackupCode(&user, req.Token)
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to verify backup code", err))
		return
	}
	if !ok {
		httpx.FailErr(c, httpx.ErrUnauthorized("invalid two-factor code").WithReason(httpx.ReasonBadCredentials))
		return
	}

	h.issueSession(c, &user)
}

// consumeBackupCode removes a matching backup code in a single guarded
// update. The WHERE clause re-checks the stored code set, so a racing
// double-submit of the same code succeeds at most once.
func (h *Handler) consumeBackupCode(user *model.User, code string) (bool, error) {
	if len(user.TFABackupCodes) == 0 {
		return false, nil
	}

	var codes []string
	if err := json.Unmarshal(user.TFABackupCodes, &codes); err != nil {
		return false, err
	}

	remaining := make([]string, 0, len(codes))
	found := false
	for _, stored := range codes {
		if !found && stored == code {
			found = true
			continue
		}
		remaining = append(remaining, stored)
	}
	if !found {
		return false, nil
	}

	updated, err := json.Marshal(remaining)
	if err != nil {
		return false, err
	}

	res := h.db.Model(&model.User{}).
		Where("id = ? AND tfa_backup_codes = ?", user.ID, string(user.TFABackupCodes)).
		Update("tfa_backup_codes", string(updated))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Refresh handles POST /api/v1/auth/refresh
func (h *Handler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	created, result, err := h.sessions.Refresh(req.RefreshToken)
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to refresh session", err))
		return
	}
	if created == nil {
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
		case session.StatusUserInactive:
			appErr = appErr.WithReason(httpx.ReasonUserInactive)
		}
		httpx.FailErr(c, appErr)
		return
	}

	httpx.OK(c, SessionResponse{
		Token:    created.AccessToken,
		ExpireAt: created.ExpiresAt.Format(time.RFC3339),
		User:     userInfo(result.User),
	})
}

// Logout handles POST /api/v1/auth/logout
func (h *Handler) Logout(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	if sess == nil {
		httpx.FailErr(c, httpx.ErrUnauthorized("not authenticated").WithReason(httpx.ReasonMissingToken))
		return
	}
	if err := h.sessions.Revoke(sess.ID); err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to revoke session", err))
		return
	}
	httpx.OKMsg(c, "logged out", nil)
}

// Signup handles POST /api/v1/auth/signup, gated by the signup_enabled
// setting.
func (h *Handler) Signup(c *gin.Context) {
	if !h.settings.SignupEnabled() {
		httpx.FailErr(c, httpx.ErrForbidden("signup is disabled"))
		return
	}

	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		httpx.FailErr(c, httpx.ErrInternalError("failed to hash password", err))
		return
	}

	user := model.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         "user",
		IsActive:     true,
	}
	if err := h.db.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			httpx.FailErr(c, httpx.ErrAlreadyExists("username or email already taken"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to create user", err))
		return
	}

	h.issueSession(c, &user)
}

// Me handles GET /api/v1/auth/me
func (h *Handler) Me(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if user == nil {
		httpx.FailErr(c, httpx.ErrUnauthorized("not authenticated").WithReason(httpx.ReasonMissingToken))
		return
	}
	httpx.OK(c, userInfo(user))
}

// Admin user CRUD

// CreateUserRequest represents admin user creation request
type CreateUserRequest struct {
	Username string `json:"username" binding:"required,min=3,max=64"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Role     string `json:"role"`
}

// UpdateUserRequest represents admin user update request
type UpdateUserRequest struct {
	Email    *string `json:"email"`
	Password *string `json:"password"`
	Role     *string `json:"role"`
	IsActive *bool   `json:"isActive"`
}

// ListUsers handles GET /api/v1/auth/admin/users
func (h *Handler) ListUsers(c *gin.Context) {
	var users []model.User
	if err := h.db.Order("id").Find(&users).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to list users", err))
		return
	}
	items := make([]UserInfo, 0, len(users))
	for i := range users {
		items = append(items, userInfo(&users[i]))
	}
	httpx.OK(c, items)
}

// CreateUser handles POST /api/v1/auth/admin/users
func (h *Handler) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}
	if req.Role == "" {
		req.Role = "user"
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		httpx.FailErr(c, httpx.ErrInternalError("failed to hash password", err))
		return
	}

	user := model.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         req.Role,
		IsActive:     true,
	}
	if err := h.db.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			httpx.FailErr(c, httpx.ErrAlreadyExists("username or email already taken"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to create user", err))
		return
	}
	httpx.OK(c, userInfo(&user))
}

// UpdateUser handles PUT /api/v1/auth/admin/users/:id. Deactivating a
// user revokes all of their sessions.
func (h *Handler) UpdateUser(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid user id"))
		return
	}

	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	var user model.User
	if err := h.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.FailErr(c, httpx.ErrNotFound("user not found"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to load user", err))
		return
	}

	updates := map[string]interface{}{}
	if req.Email != nil {
		updates["email"] = *req.Email
	}
	if req.Role != nil {
		updates["role"] = *req.Role
	}
	if req.Password != nil {
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			httpx.FailErr(c, httpx.ErrInternalError("failed to hash password", err))
			return
		}
		updates["password_hash"] = hash
	}
	deactivating := req.IsActive != nil && !*req.IsActive && user.IsActive
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	if len(updates) > 0 {
		if err := h.db.Model(&user).Updates(updates).Error; err != nil {
			httpx.FailErr(c, httpx.ErrDatabaseError("failed to update user", err))
			return
		}
	}

	if deactivating {
		if err := h.sessions.RevokeAllForUser(user.ID); err != nil {
			httpx.FailErr(c, httpx.ErrDatabaseError("failed to revoke sessions", err))
			return
		}
	}

	httpx.OK(c, userInfo(&user))
}

// DeleteUser handles DELETE /api/v1/auth/admin/users/:id
func (h *Handler) DeleteUser(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid user id"))
		return
	}

	self := middleware.CurrentUser(c)
	if self != nil && self.ID == id {
		httpx.FailErr(c, httpx.ErrStateConflict("cannot delete your own account"))
		return
	}

	if err := h.sessions.RevokeAllForUser(id); err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to revoke sessions", err))
		return
	}
	res := h.db.Delete(&model.User{}, id)
	if res.Error != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to delete user", res.Error))
		return
	}
	if res.RowsAffected == 0 {
		httpx.FailErr(c, httpx.ErrNotFound("user not found"))
		return
	}
	httpx.OKMsg(c, "user deleted", nil)
}
