package packages

import (
	"errors"
	"strconv"

	"patchwatch/internal/httpx"
	"patchwatch/internal/model"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ListRequest represents package list request
type ListRequest struct {
	Page         int    `form:"page"`
	PageSize     int    `form:"pageSize"`
	Name         string `form:"name"`
	NeedsUpdate  *bool  `form:"needsUpdate"`
	SecurityOnly bool   `form:"securityOnly"`
}

// PackageItem is a catalog package with fleet-wide counters
type PackageItem struct {
	model.Package
	HostCount       int64 `json:"host_count"`
	UpdateCount     int64 `json:"update_count"`
	SecurityUpdates int64 `json:"security_updates"`
}

// Handler handles the packages API
type Handler struct {
	db *gorm.DB
}

// NewHandler creates a new packages handler
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

// List handles GET /api/v1/packages
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
		req.PageSize = 25
	}

	query := h.db.Model(&model.Package{})
	if req.Name != "" {
		query = query.Where("name LIKE ?", "%"+req.Name+"%")
	}
	if req.NeedsUpdate != nil {
		sub := h.db.Model(&model.HostPackage{}).
			Select("package_id").
			Where("needs_update = ?", *req.NeedsUpdate)
		query = query.Where("id IN (?)", sub)
	}
	if req.SecurityOnly {
		sub := h.db.Model(&model.HostPackage{}).
			Select("package_id").
			Where("needs_update = ? AND is_security_update = ?", true, true)
		query = query.Where("id IN (?)", sub)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to count packages", err))
		return
	}

	var pkgs []model.Package
	if err := query.Order("name").
		Offset((req.Page - 1) * req.PageSize).
		Limit(req.PageSize).
		Find(&pkgs).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to list packages", err))
		return
	}

	items := make([]PackageItem, 0, len(pkgs))
	for _, p := range pkgs {
		item := PackageItem{Package: p}
		base := h.db.Model(&model.HostPackage{}).Where("package_id = ?", p.ID)
		if err := base.Count(&item.HostCount).Error; err != nil {
			httpx.FailErr(c, httpx.ErrDatabaseError("failed to count host packages", err))
			return
		}
		if err := h.db.Model(&model.HostPackage{}).
			Where("package_id = ? AND needs_update = ?", p.ID, true).
			Count(&item.UpdateCount).Error; err != nil {
			httpx.FailErr(c, httpx.ErrDatabaseError("failed to count updates", err))
			return
		}
		if err := h.db.Model(&model.HostPackage{}).
			Where("package_id = ? AND needs_update = ? AND is_security_update = ?", p.ID, true, true).
			Count(&item.SecurityUpdates).Error; err != nil {
			httpx.FailErr(c, httpx.ErrDatabaseError("failed to count security updates", err))
			return
		}
		items = append(items, item)
	}
	httpx.OKItems(c, items, total, req.Page, req.PageSize)
}

// Hosts handles GET /api/v1/packages/:id/hosts: the hosts carrying a
// given package.
func (h *Handler) Hosts(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid package id"))
		return
	}

	var pkg model.Package
	if err := h.db.First(&pkg, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.FailErr(c, httpx.ErrNotFound("package not found"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to load package", err))
		return
	}

	var rows []model.HostPackage
	if err := h.db.Preload("Host").
		Where("package_id = ?", id).
		Find(&rows).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to list host packages", err))
		return
	}
	httpx.OK(c, rows)
}
