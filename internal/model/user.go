package model

import (
	"time"

	"gorm.io/datatypes"
)

// User represents a dashboard user
type User struct {
	BaseModel
	Username       string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	Email          string         `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	PasswordHash   string         `gorm:"type:varchar(255);not null" json:"-"`
	Role           string         `gorm:"type:varchar(32);default:'user';index" json:"role"`
	IsActive       bool           `gorm:"default:true" json:"is_active"`
	TFAEnabled     bool           `gorm:"default:false" json:"tfa_enabled"`
	TFASecret      string         `gorm:"type:varchar(64)" json:"-"`
	TFABackupCodes datatypes.JSON `gorm:"type:json" json:"-"`
	LastLogin      *time.Time     `json:"last_login"`
}

// TableName specifies the table name for User model
func (User) TableName() string {
	return "users"
}
