package model

// UpdateHistoryStatus represents the outcome of a reconciliation attempt
type UpdateHistoryStatus string

const (
	UpdateHistoryStatusSuccess UpdateHistoryStatus = "success"
	UpdateHistoryStatusError   UpdateHistoryStatus = "error"
)

// UpdateHistory is an append-only audit row written per agent check-in
type UpdateHistory struct {
	BaseModel
	HostID            int                 `gorm:"index;not null" json:"host_id"`
	Host              Host                `gorm:"foreignKey:HostID;constraint:OnDelete:CASCADE" json:"-"`
	Status            UpdateHistoryStatus `gorm:"type:varchar(16);not null" json:"status"`
	PackagesProcessed int                 `json:"packages_processed"`
	UpdatesAvailable  int                 `json:"updates_available"`
	SecurityUpdates   int                 `json:"security_updates"`
	ErrorMessage      string              `gorm:"type:varchar(1024)" json:"error_message,omitempty"`
}

// TableName specifies the table name for UpdateHistory model
func (UpdateHistory) TableName() string {
	return "update_history"
}
