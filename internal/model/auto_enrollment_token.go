package model

import (
	"time"

	"gorm.io/datatypes"
)

// AutoEnrollmentToken lets scripts self-register hosts without an
// interactive login. The secret is stored only as a bcrypt hash; the
// plaintext is returned exactly once at creation.
type AutoEnrollmentToken struct {
	BaseModel
	Name               string         `gorm:"type:varchar(128);not null" json:"name"`
	TokenKey           string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"token_key"`
	TokenSecretHash    string         `gorm:"type:varchar(255);not null" json:"-"`
	AllowedIPRanges    datatypes.JSON `gorm:"type:json" json:"allowed_ip_ranges,omitempty"`
	MaxHostsPerDay     int            `gorm:"default:10" json:"max_hosts_per_day"`
	HostsCreatedToday  int            `gorm:"default:0" json:"hosts_created_today"`
	LastResetDate      string         `gorm:"type:varchar(10)" json:"last_reset_date"`
	LastUsedAt         *time.Time     `json:"last_used_at"`
	ExpiresAt          *time.Time     `json:"expires_at"`
	DefaultHostGroupID *int           `json:"default_host_group_id"`
	DefaultHostGroup   *HostGroup     `gorm:"foreignKey:DefaultHostGroupID;constraint:OnDelete:SET NULL" json:"-"`
	IsActive           bool           `gorm:"default:true" json:"is_active"`
	CreatedByUserID    *int           `json:"created_by_user_id"`
}

// TableName specifies the table name for AutoEnrollmentToken model
func (AutoEnrollmentToken) TableName() string {
	return "auto_enrollment_tokens"
}
