package repositories

import (
	"errors"
	"strconv"

	"patchwatch/internal/httpx"
	"patchwatch/internal/model"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ListRequest represents repository list request
type ListRequest struct {
	Page     int    `form:"page"`
	PageSize int    `form:"pageSize"`
	URL      string `form:"url"`
}

// RepositoryItem is a repository with its host count
type RepositoryItem struct {
	model.Repository
	HostCount int64 `json:"host_count"`
}

// Handler handles the repositories API
type Handler struct {
	db *gorm.DB
}

// NewHandler creates a new repositories handler
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

// List handles GET /api/v1/repositories
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

	query := h.db.Model(&model.Repository{})
	if req.URL != "" {
		query = query.Where("url LIKE ?", "%"+req.URL+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to count repositories", err))
		return
	}

	var repos []model.Repository
	if err := query.Order("url").
		Offset((req.Page - 1) * req.PageSize).
		Limit(req.PageSize).
		Find(&repos).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to list repositories", err))
		return
	}

	items := make([]RepositoryItem, 0, len(repos))
	for _, r := range repos {
		item := RepositoryItem{Repository: r}
		if err := h.db.Model(&model.HostRepository{}).
			Where("repository_id = ?", r.ID).
			Count(&item.HostCount).Error; err != nil {
			httpx.FailErr(c, httpx.ErrDatabaseError("failed to count host repositories", err))
			return
		}
		items = append(items, item)
	}
	httpx.OKItems(c, items, total, req.Page, req.PageSize)
}

// Hosts handles GET /api/v1/repositories/:id/hosts
func (h *Handler) Hosts(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid repository id"))
		return
	}

	var repo model.Repository
	if err := h.db.First(&repo, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.FailErr(c, httpx.ErrNotFound("repository not found"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to load repository", err))
		return
	}

	var rows []model.HostRepository
	if err := h.db.Preload("Host").
		Where("repository_id = ?", id).
		Find(&rows).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to list host repositories", err))
		return
	}
	httpx.OK(c, rows)
}
