package groups

import (
	"errors"
	"strconv"

	"patchwatch/internal/httpx"
	"patchwatch/internal/model"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// CreateRequest represents host group creation request
type CreateRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Color       string `json:"color"`
}

// UpdateRequest represents host group update request
type UpdateRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Color       *string `json:"color"`
}

// GroupItem is a group row with its host count
type GroupItem struct {
	model.HostGroup
	HostCount int64 `json:"host_count"`
}

// Handler handles the host groups API
type Handler struct {
	db *gorm.DB
}

// NewHandler creates a new host groups handler
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

// List handles GET /api/v1/host-groups
func (h *Handler) List(c *gin.Context) {
	var groups []model.HostGroup
	if err := h.db.Order("name").Find(&groups).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to list host groups", err))
		return
	}

	items := make([]GroupItem, 0, len(groups))
	for _, g := range groups {
		var count int64
		if err := h.db.Model(&model.Host{}).Where("host_group_id = ?", g.ID).Count(&count).Error; err != nil {
			httpx.FailErr(c, httpx.ErrDatabaseError("failed to count hosts", err))
			return
		}
		items = append(items, GroupItem{HostGroup: g, HostCount: count})
	}
	httpx.OK(c, items)
}

// Create handles POST /api/v1/host-groups
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	group := model.HostGroup{
		Name:        req.Name,
		Description: req.Description,
		Color:       req.Color,
	}
	if err := h.db.Create(&group).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			httpx.FailErr(c, httpx.ErrAlreadyExists("host group name already taken"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to create host group", err))
		return
	}
	httpx.OK(c, group)
}

// Update handles PUT /api/v1/host-groups/:id
func (h *Handler) Update(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid group id"))
		return
	}

	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	var group model.HostGroup
	if err := h.db.First(&group, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.FailErr(c, httpx.ErrNotFound("host group not found"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to load host group", err))
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Color != nil {
		updates["color"] = *req.Color
	}
	if len(updates) > 0 {
		if err := h.db.Model(&group).Updates(updates).Error; err != nil {
			httpx.FailErr(c, httpx.ErrDatabaseError("failed to update host group", err))
			return
		}
	}
	httpx.OK(c, group)
}

// Delete handles DELETE /api/v1/host-groups/:id. Member hosts are
// detached, not deleted.
func (h *Handler) Delete(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid group id"))
		return
	}

	err = h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Host{}).
			Where("host_group_id = ?", id).
			Update("host_group_id", nil).Error; err != nil {
			return err
		}
		res := tx.Delete(&model.HostGroup{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.FailErr(c, httpx.ErrNotFound("host group not found"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to delete host group", err))
		return
	}
	httpx.OKMsg(c, "host group deleted", nil)
}
