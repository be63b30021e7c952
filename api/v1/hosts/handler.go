package hosts

import (
	"errors"
	"strconv"
	"time"

	"patchwatch/api/v1/middleware"
	"patchwatch/internal/agentscript"
	"patchwatch/internal/auth"
	"patchwatch/internal/httpx"
	"patchwatch/internal/model"
	"patchwatch/internal/reconcile"
	"patchwatch/internal/settings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DerivedStatusInactive is the read-time classification for hosts whose
// last check-in is older than stale_multiplier polling intervals. It is
// never persisted.
const DerivedStatusInactive = "inactive"

// CreateRequest represents admin host creation request
type CreateRequest struct {
	FriendlyName string `json:"friendlyName" binding:"required"`
	MachineID    string `json:"machineId"`
	HostGroupID  *int   `json:"hostGroupId"`
	AutoUpdate   *bool  `json:"autoUpdate"`
}

// CredentialsResponse carries a host's API credential pair; the key is
// shown here and on regeneration only.
type CredentialsResponse struct {
	HostID int    `json:"hostId"`
	APIID  string `json:"apiId"`
	APIKey string `json:"apiKey"`
}

// ListRequest represents host list request
type ListRequest struct {
	Page     int    `form:"page"`
	PageSize int    `form:"pageSize"`
	Name     string `form:"name"`
	Status   string `form:"status"`
	GroupID  *int   `form:"groupId"`
}

// HostItem is a host row with the derived status applied
type HostItem struct {
	model.Host
	DerivedStatus string `json:"derived_status"`
}

// BulkDeleteRequest represents bulk host deletion request
type BulkDeleteRequest struct {
	IDs []int `json:"ids" binding:"required,min=1"`
}

// AssignGroupRequest represents group assignment request
type AssignGroupRequest struct {
	HostGroupID *int `json:"hostGroupId"`
}

// PingResponse answers the agent heartbeat
type PingResponse struct {
	CrontabUpdate bool `json:"crontabUpdate"`
}

// Handler handles the hosts API
type Handler struct {
	db       *gorm.DB
	engine   *reconcile.Engine
	scripts  *agentscript.Service
	settings *settings.Service
}

// NewHandler creates a new hosts handler
func NewHandler(db *gorm.DB, engine *reconcile.Engine, scripts *agentscript.Service, settingsSvc *settings.Service) *Handler {
	return &Handler{db: db, engine: engine, scripts: scripts, settings: settingsSvc}
}

// staleCutoff returns the last_update age beyond which a host counts as
// inactive.
func (h *Handler) staleCutoff() time.Duration {
	interval := time.Duration(h.settings.PollingIntervalMinutes()) * time.Minute
	return interval * time.Duration(h.settings.StaleMultiplier())
}

func (h *Handler) derivedStatus(host *model.Host, now time.Time) string {
	if host.Status == model.HostStatusActive &&
		(host.LastUpdate == nil || now.Sub(*host.LastUpdate) > h.staleCutoff()) {
		return DerivedStatusInactive
	}
	return string(host.Status)
}

// Create handles POST /api/v1/hosts/create
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	apiID, apiKey, err := auth.GenerateAPICredentials()
	if err != nil {
		httpx.FailErr(c, httpx.ErrInternalError("failed to generate credentials", err))
		return
	}

	machineID := req.MachineID
	if machineID == "" {
		machineID = "pending-" + uuid.NewString()
	}

	host := model.Host{
		MachineID:    machineID,
		FriendlyName: req.FriendlyName,
		APIID:        apiID,
		APIKey:       apiKey,
		Status:       model.HostStatusPending,
		HostGroupID:  req.HostGroupID,
	}
	if req.AutoUpdate != nil {
		host.AutoUpdate = *req.AutoUpdate
	}
	if err := h.db.Create(&host).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			httpx.FailErr(c, httpx.ErrAlreadyExists("host with this name or machine id already exists"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to create host", err))
		return
	}

	httpx.OK(c, CredentialsResponse{HostID: host.ID, APIID: apiID, APIKey: apiKey})
}

// Update handles POST /api/v1/hosts/update: the agent check-in. The
// reconciliation engine owns the transaction; this handler only binds
// and translates.
func (h *Handler) Update(c *gin.Context) {
	host := middleware.CurrentHost(c)
	if host == nil {
		httpx.FailErr(c, httpx.ErrUnauthorized("agent authentication required").WithReason(httpx.ReasonMissingToken))
		return
	}

	var report reconcile.Report
	if err := c.ShouldBindJSON(&report); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	result, err := h.engine.Process(host.ID, &report)
	if err != nil {
		httpx.FailErr(c, httpx.ErrInternalError("failed to process report", err))
		return
	}
	httpx.OK(c, result)
}

// Ping handles POST /api/v1/hosts/ping: a lightweight heartbeat that
// does not touch package state.
func (h *Handler) Ping(c *gin.Context) {
	host := middleware.CurrentHost(c)
	if host == nil {
		httpx.FailErr(c, httpx.ErrUnauthorized("agent authentication required").WithReason(httpx.ReasonMissingToken))
		return
	}

	httpx.OK(c, PingResponse{CrontabUpdate: host.AutoUpdate})
}

// Info handles GET /api/v1/hosts/info: the agent's view of its own host
// row.
func (h *Handler) Info(c *gin.Context) {
	host := middleware.CurrentHost(c)
	if host == nil {
		httpx.FailErr(c, httpx.ErrUnauthorized("agent authentication required").WithReason(httpx.ReasonMissingToken))
		return
	}
	httpx.OK(c, HostItem{Host: *host, DerivedStatus: h.derivedStatus(host, time.Now().UTC())})
}

// List handles GET /api/v1/hosts
func (h *Handler) List(c *gin.Context) {
	var req ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize < 1 {
		req.PageSize = 15
	}

	query := h.db.Model(&model.Host{})
	if req.Name != "" {
		query = query.Where("friendly_name LIKE ? OR hostname LIKE ?", "%"+req.Name+"%", "%"+req.Name+"%")
	}
	if req.GroupID != nil {
		query = query.Where("host_group_id = ?", *req.GroupID)
	}

	now := time.Now().UTC()
	cutoff := now.Add(-h.staleCutoff())
	switch req.Status {
	case string(model.HostStatusPending):
		query = query.Where("status = ?", model.HostStatusPending)
	case string(model.HostStatusActive):
		query = query.Where("status = ? AND last_update >= ?", model.HostStatusActive, cutoff)
	case DerivedStatusInactive:
		query = query.Where("status = ? AND (last_update IS NULL OR last_update < ?)", model.HostStatusActive, cutoff)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to count hosts", err))
		return
	}

	var hosts []model.Host
	if err := query.Preload("HostGroup").
		Order("friendly_name").
		Offset((req.Page - 1) * req.PageSize).
		Limit(req.PageSize).
		Find(&hosts).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to list hosts", err))
		return
	}

	items := make([]HostItem, 0, len(hosts))
	for i := range hosts {
		items = append(items, HostItem{
			Host:          hosts[i],
			DerivedStatus: h.derivedStatus(&hosts[i], now),
		})
	}
	httpx.OKItems(c, items, total, req.Page, req.PageSize)
}

// Get handles GET /api/v1/hosts/:id
func (h *Handler) Get(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid host id"))
		return
	}

	var host model.Host
	if err := h.db.Preload("HostGroup").First(&host, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.FailErr(c, httpx.ErrNotFound("host not found"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to load host", err))
		return
	}
	httpx.OK(c, HostItem{Host: host, DerivedStatus: h.derivedStatus(&host, time.Now().UTC())})
}

// deleteHosts removes hosts and their dependents in one transaction
func (h *Handler) deleteHosts(ids []int) (int64, error) {
	var deleted int64
	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("host_id IN ?", ids).Delete(&model.HostPackage{}).Error; err != nil {
			return err
		}
		if err := tx.Where("host_id IN ?", ids).Delete(&model.HostRepository{}).Error; err != nil {
			return err
		}
		if err := tx.Where("host_id IN ?", ids).Delete(&model.UpdateHistory{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&model.Host{}, ids)
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	return deleted, err
}

// Delete handles DELETE /api/v1/hosts/:id
func (h *Handler) Delete(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid host id"))
		return
	}

	deleted, err := h.deleteHosts([]int{id})
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to delete host", err))
		return
	}
	if deleted == 0 {
		httpx.FailErr(c, httpx.ErrNotFound("host not found"))
		return
	}
	httpx.OKMsg(c, "host deleted", nil)
}

// BulkDelete handles POST /api/v1/hosts/bulk-delete
func (h *Handler) BulkDelete(c *gin.Context) {
	var req BulkDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	deleted, err := h.deleteHosts(req.IDs)
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to delete hosts", err))
		return
	}
	httpx.OK(c, gin.H{"deleted": deleted})
}

// RegenerateCredentials handles POST /api/v1/hosts/:id/regenerate-credentials.
// The old pair stops working immediately.
func (h *Handler) RegenerateCredentials(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid host id"))
		return
	}

	var host model.Host
	if err := h.db.First(&host, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.FailErr(c, httpx.ErrNotFound("host not found"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to load host", err))
		return
	}

	apiID, apiKey, err := auth.GenerateAPICredentials()
	if err != nil {
		httpx.FailErr(c, httpx.ErrInternalError("failed to generate credentials", err))
		return
	}

	updates := map[string]interface{}{"api_id": apiID, "api_key": apiKey}
	if err := h.db.Model(&host).Updates(updates).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to update host", err))
		return
	}

	httpx.OK(c, CredentialsResponse{HostID: host.ID, APIID: apiID, APIKey: apiKey})
}

// AssignGroup handles POST /api/v1/hosts/:id/group. A null group ID
// detaches the host.
func (h *Handler) AssignGroup(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid host id"))
		return
	}

	var req AssignGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	if req.HostGroupID != nil {
		var group model.HostGroup
		if err := h.db.First(&group, *req.HostGroupID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				httpx.FailErr(c, httpx.ErrNotFound("host group not found"))
				return
			}
			httpx.FailErr(c, httpx.ErrDatabaseError("failed to load host group", err))
			return
		}
	}

	res := h.db.Model(&model.Host{}).Where("id = ?", id).Update("host_group_id", req.HostGroupID)
	if res.Error != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to update host", res.Error))
		return
	}
	if res.RowsAffected == 0 {
		httpx.FailErr(c, httpx.ErrNotFound("host not found"))
		return
	}
	httpx.OKMsg(c, "group assigned", nil)
}

// agentEnv builds the env block injected into served scripts
func (h *Handler) agentEnv() []agentscript.EnvVar {
	vars := []agentscript.EnvVar{}
	if url := h.settings.ServerURL(); url != "" {
		vars = append(vars, agentscript.EnvVar{Name: "PATCHWATCH_URL", Value: url})
	}
	if flags := h.settings.CurlFlags(); flags != "" {
		vars = append(vars, agentscript.EnvVar{Name: "CURL_FLAGS", Value: flags})
	}
	return vars
}

func (h *Handler) serveScript(c *gin.Context, script string, vars []agentscript.EnvVar) {
	c.Header("Content-Type", "text/x-shellscript; charset=utf-8")
	c.String(200, agentscript.Render(script, vars))
}

// DownloadAgent handles GET /api/v1/hosts/agent/download[?version=]
func (h *Handler) DownloadAgent(c *gin.Context) {
	script, err := h.scripts.AgentScript(c.Query("version"))
	if err != nil {
		if errors.Is(err, agentscript.ErrScriptNotFound) {
			httpx.FailErr(c, httpx.ErrNotFound("agent script not found"))
			return
		}
		httpx.FailErr(c, httpx.ErrInternalError("failed to load agent script", err))
		return
	}
	h.serveScript(c, script, h.agentEnv())
}

// InstallScript handles GET /api/v1/hosts/install. Agent-authenticated,
// so the host's own credentials are injected for first configuration.
func (h *Handler) InstallScript(c *gin.Context) {
	host := middleware.CurrentHost(c)
	if host == nil {
		httpx.FailErr(c, httpx.ErrUnauthorized("agent authentication required").WithReason(httpx.ReasonMissingToken))
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

	vars := append(h.agentEnv(),
		agentscript.EnvVar{Name: "API_ID", Value: host.APIID},
		agentscript.EnvVar{Name: "API_KEY", Value: host.APIKey},
	)
	h.serveScript(c, script, vars)
}

// RemoveScript handles GET /api/v1/hosts/remove
func (h *Handler) RemoveScript(c *gin.Context) {
	script, err := h.scripts.RemoveScript()
	if err != nil {
		if errors.Is(err, agentscript.ErrScriptNotFound) {
			httpx.FailErr(c, httpx.ErrNotFound("remove script not found"))
			return
		}
		httpx.FailErr(c, httpx.ErrInternalError("failed to load remove script", err))
		return
	}
	h.serveScript(c, script, h.agentEnv())
}
