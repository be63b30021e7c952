package dashboard

import (
	"time"

	"patchwatch/api/v1/middleware"
	"patchwatch/internal/httpx"
	"patchwatch/internal/model"
	"patchwatch/internal/settings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StatsResponse aggregates fleet-wide dashboard numbers
type StatsResponse struct {
	TotalHosts         int64 `json:"totalHosts"`
	PendingHosts       int64 `json:"pendingHosts"`
	ActiveHosts        int64 `json:"activeHosts"`
	InactiveHosts      int64 `json:"inactiveHosts"`
	HostsNeedingUpdate int64 `json:"hostsNeedingUpdate"`
	OutdatedPackages   int64 `json:"outdatedPackages"`
	SecurityUpdates    int64 `json:"securityUpdates"`
	TotalPackages      int64 `json:"totalPackages"`
	TotalRepositories  int64 `json:"totalRepositories"`
	ErroredCheckIns24h int64 `json:"erroredCheckIns24h"`
}

// PreferenceRequest is one card in a preferences update
type PreferenceRequest struct {
	CardID   string `json:"cardId" binding:"required"`
	Enabled  bool   `json:"enabled"`
	Position int    `json:"position"`
}

// UpdatePreferencesRequest replaces the caller's card layout
type UpdatePreferencesRequest struct {
	Cards []PreferenceRequest `json:"cards" binding:"required"`
}

// Handler handles the dashboard API
type Handler struct {
	db       *gorm.DB
	settings *settings.Service
}

// NewHandler creates a new dashboard handler
func NewHandler(db *gorm.DB, settingsSvc *settings.Service) *Handler {
	return &Handler{db: db, settings: settingsSvc}
}

func (h *Handler) staleCutoff(now time.Time) time.Time {
	interval := time.Duration(h.settings.PollingIntervalMinutes()) * time.Minute
	return now.Add(-interval * time.Duration(h.settings.StaleMultiplier()))
}

// Stats handles GET /api/v1/dashboard/stats
func (h *Handler) Stats(c *gin.Context) {
	var stats StatsResponse
	now := time.Now().UTC()
	cutoff := h.staleCutoff(now)

	counts := []struct {
		dest  *int64
		query *gorm.DB
	}{
		{&stats.TotalHosts, h.db.Model(&model.Host{})},
		{&stats.PendingHosts, h.db.Model(&model.Host{}).Where("status = ?", model.HostStatusPending)},
		{&stats.ActiveHosts, h.db.Model(&model.Host{}).Where("status = ? AND last_update >= ?", model.HostStatusActive, cutoff)},
		{&stats.InactiveHosts, h.db.Model(&model.Host{}).Where("status = ? AND (last_update IS NULL OR last_update < ?)", model.HostStatusActive, cutoff)},
		{&stats.HostsNeedingUpdate, h.db.Model(&model.HostPackage{}).Where("needs_update = ?", true).Distinct("host_id")},
		{&stats.OutdatedPackages, h.db.Model(&model.HostPackage{}).Where("needs_update = ?", true)},
		{&stats.SecurityUpdates, h.db.Model(&model.HostPackage{}).Where("needs_update = ? AND is_security_update = ?", true, true)},
		{&stats.TotalPackages, h.db.Model(&model.Package{})},
		{&stats.TotalRepositories, h.db.Model(&model.Repository{})},
		{&stats.ErroredCheckIns24h, h.db.Model(&model.UpdateHistory{}).
			Where("status = ? AND created_at >= ?", model.UpdateHistoryStatusError, now.Add(-24*time.Hour))},
	}
	for _, cnt := range counts {
		if err := cnt.query.Count(cnt.dest).Error; err != nil {
			httpx.FailErr(c, httpx.ErrDatabaseError("failed to aggregate stats", err))
			return
		}
	}

	httpx.OK(c, stats)
}

// GetPreferences handles GET /api/v1/dashboard/preferences
func (h *Handler) GetPreferences(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if user == nil {
		httpx.FailErr(c, httpx.ErrUnauthorized("not authenticated").WithReason(httpx.ReasonMissingToken))
		return
	}

	var prefs []model.DashboardPreference
	if err := h.db.Where("user_id = ?", user.ID).
		Order("position").
		Find(&prefs).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to load preferences", err))
		return
	}
	httpx.OK(c, prefs)
}

// UpdatePreferences handles PUT /api/v1/dashboard/preferences: upserts
// the caller's card layout in one transaction.
func (h *Handler) UpdatePreferences(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if user == nil {
		httpx.FailErr(c, httpx.ErrUnauthorized("not authenticated").WithReason(httpx.ReasonMissingToken))
		return
	}

	var req UpdatePreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		for _, card := range req.Cards {
			pref := model.DashboardPreference{
				UserID:   user.ID,
				CardID:   card.CardID,
				Enabled:  card.Enabled,
				Position: card.Position,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}, {Name: "card_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"enabled", "position"}),
			}).Create(&pref).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to save preferences", err))
		return
	}

	h.GetPreferences(c)
}
