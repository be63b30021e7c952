package model

import "time"

// Repository represents a package source, deduplicated by
// (url, distribution, components)
type Repository struct {
	BaseModel
	URL          string `gorm:"type:varchar(512);uniqueIndex:idx_repo_key;not null" json:"url"`
	Distribution string `gorm:"type:varchar(128);uniqueIndex:idx_repo_key" json:"distribution"`
	Components   string `gorm:"type:varchar(255);uniqueIndex:idx_repo_key" json:"components"`
	IsSecure     bool   `gorm:"default:true" json:"is_secure"`
}

// TableName specifies the table name for Repository model
func (Repository) TableName() string {
	return "repositories"
}

// HostRepository joins a host to a repository it has configured
type HostRepository struct {
	BaseModel
	HostID       int        `gorm:"uniqueIndex:idx_host_repository;not null" json:"host_id"`
	Host         Host       `gorm:"foreignKey:HostID;constraint:OnDelete:CASCADE" json:"-"`
	RepositoryID int        `gorm:"uniqueIndex:idx_host_repository;not null" json:"repository_id"`
	Repository   Repository `gorm:"foreignKey:RepositoryID" json:"repository,omitempty"`
	IsEnabled    bool       `gorm:"default:true" json:"is_enabled"`
	LastChecked  time.Time  `json:"last_checked"`
}

// TableName specifies the table name for HostRepository model
func (HostRepository) TableName() string {
	return "host_repositories"
}
