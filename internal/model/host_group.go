package model

// HostGroup represents a named grouping of hosts
type HostGroup struct {
	BaseModel
	Name        string `gorm:"type:varchar(128);uniqueIndex;not null" json:"name"`
	Description string `gorm:"type:varchar(512)" json:"description"`
	Color       string `gorm:"type:varchar(16)" json:"color"`
}

// TableName specifies the table name for HostGroup model
func (HostGroup) TableName() string {
	return "host_groups"
}
