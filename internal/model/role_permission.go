package model

// Capability is a closed set of permission checks; middleware resolves a
// user's role against its RolePermission row for one of these.
type Capability string

const (
	CapViewHosts      Capability = "view_hosts"
	CapManageHosts    Capability = "manage_hosts"
	CapViewPackages   Capability = "view_packages"
	CapManagePackages Capability = "manage_packages"
	CapViewUsers      Capability = "view_users"
	CapManageUsers    Capability = "manage_users"
	CapViewReports    Capability = "view_reports"
	CapManageSettings Capability = "manage_settings"
	CapManageTokens   Capability = "manage_tokens"
)

// RolePermission holds one row per role with a boolean per capability.
// A role without a row is treated as having no capabilities at all.
type RolePermission struct {
	BaseModel
	Role              string `gorm:"type:varchar(32);uniqueIndex;not null" json:"role"`
	CanViewHosts      bool   `gorm:"default:false" json:"can_view_hosts"`
	CanManageHosts    bool   `gorm:"default:false" json:"can_manage_hosts"`
	CanViewPackages   bool   `gorm:"default:false" json:"can_view_packages"`
	CanManagePackages bool   `gorm:"default:false" json:"can_manage_packages"`
	CanViewUsers      bool   `gorm:"default:false" json:"can_view_users"`
	CanManageUsers    bool   `gorm:"default:false" json:"can_manage_users"`
	CanViewReports    bool   `gorm:"default:false" json:"can_view_reports"`
	CanManageSettings bool   `gorm:"default:false" json:"can_manage_settings"`
	CanManageTokens   bool   `gorm:"default:false" json:"can_manage_tokens"`
}

// TableName specifies the table name for RolePermission model
func (RolePermission) TableName() string {
	return "role_permissions"
}

// Has reports whether the role grants the given capability.
func (p *RolePermission) Has(c Capability) bool {
	switch c {
	case CapViewHosts:
		return p.CanViewHosts
	case CapManageHosts:
		return p.CanManageHosts
	case CapViewPackages:
		return p.CanViewPackages
	case CapManagePackages:
		return p.CanManagePackages
	case CapViewUsers:
		return p.CanViewUsers
	case CapManageUsers:
		return p.CanManageUsers
	case CapViewReports:
		return p.CanViewReports
	case CapManageSettings:
		return p.CanManageSettings
	case CapManageTokens:
		return p.CanManageTokens
	default:
		return false
	}
}
