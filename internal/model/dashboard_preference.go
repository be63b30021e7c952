package model

// DashboardPreference stores per-user dashboard card layout
type DashboardPreference struct {
	BaseModel
	UserID   int    `gorm:"uniqueIndex:idx_user_card;not null" json:"user_id"`
	User     User   `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	CardID   string `gorm:"type:varchar(64);uniqueIndex:idx_user_card;not null" json:"card_id"`
	Enabled  bool   `gorm:"default:true" json:"enabled"`
	Position int    `gorm:"default:0" json:"position"`
}

// TableName specifies the table name for DashboardPreference model
func (DashboardPreference) TableName() string {
	return "dashboard_preferences"
}
