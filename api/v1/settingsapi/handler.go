package settingsapi

import (
	"strconv"

	"patchwatch/internal/httpx"
	"patchwatch/internal/model"
	"patchwatch/internal/settings"

	"github.com/gin-gonic/gin"
)

// UpdateRequest represents settings update request; only the provided
// keys are written.
type UpdateRequest struct {
	ServerURL              *string `json:"serverUrl"`
	PollingIntervalMinutes *int    `json:"pollingIntervalMinutes"`
	StaleMultiplier        *int    `json:"staleMultiplier"`
	SignupEnabled          *bool   `json:"signupEnabled"`
	CurlFlags              *string `json:"curlFlags"`
}

// SettingsResponse is the typed view over the settings table
type SettingsResponse struct {
	ServerURL              string `json:"serverUrl"`
	PollingIntervalMinutes int    `json:"pollingIntervalMinutes"`
	StaleMultiplier        int    `json:"staleMultiplier"`
	SignupEnabled          bool   `json:"signupEnabled"`
	CurlFlags              string `json:"curlFlags"`
}

// Handler handles the settings API
type Handler struct {
	settings *settings.Service
}

// NewHandler creates a new settings handler
func NewHandler(settingsSvc *settings.Service) *Handler {
	return &Handler{settings: settingsSvc}
}

func (h *Handler) view() SettingsResponse {
	return SettingsResponse{
		ServerURL:              h.settings.ServerURL(),
		PollingIntervalMinutes: h.settings.PollingIntervalMinutes(),
		StaleMultiplier:        h.settings.StaleMultiplier(),
		SignupEnabled:          h.settings.SignupEnabled(),
		CurlFlags:              h.settings.CurlFlags(),
	}
}

// Get handles GET /api/v1/settings
func (h *Handler) Get(c *gin.Context) {
	httpx.OK(c, h.view())
}

// Update handles PUT /api/v1/settings
func (h *Handler) Update(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	writes := map[string]string{}
	if req.ServerURL != nil {
		writes[model.SettingServerURL] = *req.ServerURL
	}
	if req.PollingIntervalMinutes != nil {
		if *req.PollingIntervalMinutes < 1 {
			httpx.FailErr(c, httpx.ErrParamIllegal("pollingIntervalMinutes must be positive"))
			return
		}
		writes[model.SettingPollingIntervalMinutes] = strconv.Itoa(*req.PollingIntervalMinutes)
	}
	if req.StaleMultiplier != nil {
		if *req.StaleMultiplier < 1 {
			httpx.FailErr(c, httpx.ErrParamIllegal("staleMultiplier must be positive"))
			return
		}
		writes[model.SettingStaleMultiplier] = strconv.Itoa(*req.StaleMultiplier)
	}
	if req.SignupEnabled != nil {
		writes[model.SettingSignupEnabled] = strconv.FormatBool(*req.SignupEnabled)
	}
	if req.CurlFlags != nil {
		writes[model.SettingCurlFlags] = *req.CurlFlags
	}

	for key, value := range writes {
		if err := h.settings.Set(key, value); err != nil {
			httpx.FailErr(c, httpx.ErrDatabaseError("failed to save setting", err))
			return
		}
	}

	httpx.OK(c, h.view())
}
