package model

// AgentVersion stores a distributable agent script revision
type AgentVersion struct {
	BaseModel
	Version   string `gorm:"type:varchar(32);uniqueIndex;not null" json:"version"`
	Script    string `gorm:"type:text" json:"-"`
	IsDefault bool   `gorm:"default:false;index" json:"is_default"`
	Notes     string `gorm:"type:varchar(512)" json:"notes"`
}

// TableName specifies the table name for AgentVersion model
func (AgentVersion) TableName() string {
	return "agent_versions"
}
