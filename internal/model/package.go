package model

import "time"

// Package represents an entry in the global package catalog, unique by name
type Package struct {
	BaseModel
	Name          string `gorm:"type:varchar(255);uniqueIndex;not null" json:"name"`
	Description   string `gorm:"type:varchar(512)" json:"description"`
	LatestVersion string `gorm:"type:varchar(128)" json:"latest_version"`
}

// TableName specifies the table name for Package model
func (Package) TableName() string {
	return "packages"
}

// HostPackage joins a host to a catalog package with per-host version state.
// Exactly one row exists per (host_id, package_id).
type HostPackage struct {
	BaseModel
	HostID           int       `gorm:"uniqueIndex:idx_host_package;not null" json:"host_id"`
	Host             Host      `gorm:"foreignKey:HostID;constraint:OnDelete:CASCADE" json:"-"`
	PackageID        int       `gorm:"uniqueIndex:idx_host_package;not null" json:"package_id"`
	Package          Package   `gorm:"foreignKey:PackageID" json:"package,omitempty"`
	CurrentVersion   string    `gorm:"type:varchar(128)" json:"current_version"`
	AvailableVersion string    `gorm:"type:varchar(128)" json:"available_version"`
	NeedsUpdate      bool      `gorm:"default:false;index" json:"needs_update"`
	IsSecurityUpdate bool      `gorm:"default:false" json:"is_security_update"`
	LastChecked      time.Time `json:"last_checked"`
}

// TableName specifies the table name for HostPackage model
func (HostPackage) TableName() string {
	return "host_packages"
}
