package model

import (
	"time"
)

// UserSession represents a server-side session row backing a JWT.
// The session ID doubles as the "sid" claim embedded in the access token.
// Both tokens are stored only as SHA-256 hex digests.
type UserSession struct {
	ID               string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID           int       `gorm:"index;not null" json:"user_id"`
	User             User      `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	RefreshTokenHash string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"-"`
	AccessTokenHash  string    `gorm:"type:varchar(64);not null" json:"-"`
	IPAddress        string    `gorm:"type:varchar(64)" json:"ip_address"`
	UserAgent        string    `gorm:"type:varchar(512)" json:"user_agent"`
	LastActivity     time.Time `gorm:"not null" json:"last_activity"`
	ExpiresAt        time.Time `gorm:"index;not null" json:"expires_at"`
	IsRevoked        bool      `gorm:"default:false" json:"is_revoked"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for UserSession model
func (UserSession) TableName() string {
	return "user_sessions"
}
