package autoenrollment

import (
	"errors"
	"strconv"
	"time"

	"patchwatch/api/v1/middleware"
	"patchwatch/internal/agentscript"
	"patchwatch/internal/enrollment"
	"patchwatch/internal/httpx"
	"patchwatch/internal/model"
	"patchwatch/internal/settings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Enrollment credential headers
const (
	HeaderTokenKey    = "X-Enrollment-Key"
	HeaderTokenSecret = "X-Enrollment-Secret"
)

// CreateTokenRequest represents token creation request body
type CreateTokenRequest struct {
	Name               string   `json:"name" binding:"required"`
	AllowedIPRanges    []string `json:"allowedIpRanges"`
	MaxHostsPerDay     int      `json:"maxHostsPerDay"`
	ExpiresAt          *string  `json:"expiresAt"`
	DefaultHostGroupID *int     `json:"defaultHostGroupId"`
}

// CreateTokenResponse carries the one-time plaintext secret
type CreateTokenResponse struct {
	Token       *model.AutoEnrollmentToken `json:"token"`
	TokenSecret string                     `json:"tokenSecret"`
}

// EnrollRequest represents single host enrollment request body
type EnrollRequest struct {
	FriendlyName string `json:"friendlyName" binding:"required"`
	MachineID    string `json:"machineId"`
}

// EnrollResponse carries the new host's credentials
type EnrollResponse struct {
	HostID    int    `json:"hostId"`
	MachineID string `json:"machineId"`
	APIID     string `json:"apiId"`
	APIKey    string `json:"apiKey"`
}

// BulkEnrollRequest represents bulk enrollment request body
type BulkEnrollRequest struct {
	Hosts []enrollment.BulkHostRequest `json:"hosts" binding:"required,min=1"`
}

// ExistingHostResponse identifies the already enrolled host on a
// machine_id conflict. No credentials are re-disclosed.
type ExistingHostResponse struct {
	HostID       int    `json:"hostId"`
	MachineID    string `json:"machineId"`
	FriendlyName string `json:"friendlyName"`
}

// Handler handles the auto-enrollment API
type Handler struct {
	db       *gorm.DB
	service  *enrollment.Service
	scripts  *agentscript.Service
	settings *settings.Service
}

// NewHandler creates a new auto-enrollment handler
func NewHandler(db *gorm.DB, service *enrollment.Service, scripts *agentscript.Service, settingsSvc *settings.Service) *Handler {
	return &Handler{db: db, service: service, scripts: scripts, settings: settingsSvc}
}

// CreateToken handles POST /api/v1/auto-enrollment/tokens
func (h *Handler) CreateToken(c *gin.Context) {
	var req CreateTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	params := enrollment.TokenParams{
		Name:               req.Name,
		AllowedIPRanges:    req.AllowedIPRanges,
		MaxHostsPerDay:     req.MaxHostsPerDay,
		DefaultHostGroupID: req.DefaultHostGroupID,
	}
	if req.ExpiresAt != nil {
		expires, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			httpx.FailErr(c, httpx.ErrParamInvalid("expiresAt must be RFC3339"))
			return
		}
		params.ExpiresAt = &expires
	}
	if user := middleware.CurrentUser(c); user != nil {
		params.CreatedByUserID = &user.ID
	}

	created, err := h.service.CreateToken(params)
	if err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	httpx.OK(c, CreateTokenResponse{Token: created.Token, TokenSecret: created.Secret})
}

// ListTokens handles GET /api/v1/auto-enrollment/tokens
func (h *Handler) ListTokens(c *gin.Context) {
	var tokens []model.AutoEnrollmentToken
	if err := h.db.Order("id").Find(&tokens).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to list tokens", err))
		return
	}
	httpx.OK(c, tokens)
}

// DeleteToken handles DELETE /api/v1/auto-enrollment/tokens/:id
func (h *Handler) DeleteToken(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid token id"))
		return
	}

	res := h.db.Delete(&model.AutoEnrollmentToken{}, id)
	if res.Error != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to delete token", res.Error))
		return
	}
	if res.RowsAffected == 0 {
		httpx.FailErr(c, httpx.ErrNotFound("token not found"))
		return
	}
	httpx.OKMsg(c, "token deleted", nil)
}

// authenticate resolves the enrollment credential headers into a token
func (h *Handler) authenticate(c *gin.Context) *model.AutoEnrollmentToken {
	key := c.GetHeader(HeaderTokenKey)
	secret := c.GetHeader(HeaderTokenSecret)
	if key == "" || secret == "" {
		httpx.FailErr(c, httpx.ErrUnauthorized("missing enrollment credentials").WithReason(httpx.ReasonMissingToken))
		return nil
	}

	token, err := h.service.ValidateToken(key, secret, c.ClientIP())
	if err != nil {
		h.failValidation(c, err)
		return nil
	}
	return token
}

func (h *Handler) failValidation(c *gin.Context, err error) {
	switch {
	case errors.Is(err, enrollment.ErrTokenNotFound),
		errors.Is(err, enrollment.ErrBadSecret):
		httpx.FailErr(c, httpx.ErrUnauthorized("invalid enrollment credentials").WithReason(httpx.ReasonBadCredentials))
	case errors.Is(err, enrollment.ErrTokenInactive):
		httpx.FailErr(c, httpx.ErrForbidden("enrollment token is inactive"))
	case errors.Is(err, enrollment.ErrTokenExpired):
		httpx.FailErr(c, httpx.ErrForbidden("enrollment token has expired"))
	case errors.Is(err, enrollment.ErrIPNotAllowed):
		httpx.FailErr(c, httpx.ErrForbidden("caller IP not allowed for this token"))
	case errors.Is(err, enrollment.ErrDailyLimit):
		httpx.FailErr(c, httpx.ErrRateLimited("daily enrollment limit reached"))
	default:
		httpx.FailErr(c, httpx.ErrInternalError("failed to validate enrollment token", err))
	}
}

// Enroll handles POST /api/v1/auto-enrollment/enroll
func (h *Handler) Enroll(c *gin.Context) {
	token := h.authenticate(c)
	if token == nil {
		return
	}

	var req EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	host, err := h.service.Enroll(token, req.FriendlyName, req.MachineID)
	if err != nil {
		var exists *enrollment.HostExistsError
		if errors.As(err, &exists) {
			httpx.FailErr(c, httpx.ErrAlreadyExists("host already enrolled").WithData(ExistingHostResponse{
				HostID:       exists.Host.ID,
				MachineID:    exists.Host.MachineID,
				FriendlyName: exists.Host.FriendlyName,
			}))
			return
		}
		if errors.Is(err, enrollment.ErrDailyLimit) {
			httpx.FailErr(c, httpx.ErrRateLimited("daily enrollment limit reached"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to enroll host", err))
		return
	}

	httpx.OK(c, EnrollResponse{
		HostID:    host.ID,
		MachineID: host.MachineID,
		APIID:     host.APIID,
		APIKey:    host.APIKey,
	})
}

// EnrollBulk handles POST /api/v1/auto-enrollment/enroll/bulk
func (h *Handler) EnrollBulk(c *gin.Context) {
	token := h.authenticate(c)
	if token == nil {
		return
	}

	var req BulkEnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	result, err := h.service.EnrollBulk(token, req.Hosts)
	if err != nil {
		if errors.Is(err, enrollment.ErrDailyLimit) {
			httpx.FailErr(c, httpx.ErrRateLimited("daily enrollment limit would be exceeded"))
			return
		}
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	httpx.OK(c, result)
}

// ProxmoxLXC handles GET /api/v1/auto-enrollment/proxmox-lxc: the
// install script preconfigured with the enrollment credentials so a
// container can bootstrap itself with one curl.
func (h *Handler) ProxmoxLXC(c *gin.Context) {
	token := h.authenticate(c)
	if token == nil {
		return
	}

	script, err := h.scripts.InstallScript()
	if err != nil {
		if errors.Is(err, agentscript.ErrScriptNotFound) {
			httpx.FailErr(c, httpx.ErrNotFound("install script not found"))
			return
		}
		httpx.FailErr(c, httpx.ErrInternalError("failed to load install script", err))
		return
	}

	vars := []agentscript.EnvVar{
		{Name: "ENROLLMENT_KEY", Value: token.TokenKey},
		{Name: "ENROLLMENT_SECRET", Value: c.GetHeader(HeaderTokenSecret)},
	}
	if url := h.settings.ServerURL(); url != "" {
		vars = append(vars, agentscript.EnvVar{Name: "PATCHWATCH_URL", Value: url})
	}
	if flags := h.settings.CurlFlags(); flags != "" {
		vars = append(vars, agentscript.EnvVar{Name: "CURL_FLAGS", Value: flags})
	}

	c.Header("Content-Type", "text/x-shellscript; charset=utf-8")
	c.String(200, agentscript.Render(script, vars))
}
