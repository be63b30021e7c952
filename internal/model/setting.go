package model

// Setting is a key/value application setting row
type Setting struct {
	BaseModel
	Key   string `gorm:"type:varchar(128);uniqueIndex;not null" json:"key"`
	Value string `gorm:"type:varchar(1024)" json:"value"`
}

// TableName specifies the table name for Setting model
func (Setting) TableName() string {
	return "settings"
}

// Well-known setting keys
const (
	SettingServerURL              = "server_url"
	SettingPollingIntervalMinutes = "polling_interval_minutes"
	SettingStaleMultiplier        = "stale_multiplier"
	SettingSignupEnabled          = "signup_enabled"
	SettingCurlFlags              = "curl_flags"
)
