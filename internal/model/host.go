package model

import (
	"time"

	"gorm.io/datatypes"
)

// HostStatus represents the persisted host lifecycle state.
// "inactive" is never stored; staleness is derived at read time from
// last_update age.
type HostStatus string

const (
	HostStatusPending HostStatus = "pending"
	HostStatusActive  HostStatus = "active"
)

// Host represents a managed machine reporting package state via the agent
type Host struct {
	BaseModel
	MachineID    string     `gorm:"type:varchar(255);uniqueIndex;not null" json:"machine_id"`
	FriendlyName string     `gorm:"type:varchar(255);uniqueIndex;not null" json:"friendly_name"`
	APIID        string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"api_id"`
	APIKey       string     `gorm:"type:varchar(128);not null" json:"-"`
	Status       HostStatus `gorm:"type:varchar(16);default:'pending';index" json:"status"`
	LastUpdate   *time.Time `gorm:"index" json:"last_update"`

	// System snapshot, reported by the agent; fields absent from a
	// report are left untouched.
	Hostname          string         `gorm:"type:varchar(255)" json:"hostname"`
	OSType            string         `gorm:"type:varchar(64)" json:"os_type"`
	OSVersion         string         `gorm:"type:varchar(128)" json:"os_version"`
	KernelVersion     string         `gorm:"type:varchar(128)" json:"kernel_version"`
	Architecture      string         `gorm:"type:varchar(32)" json:"architecture"`
	CPUModel          string         `gorm:"type:varchar(255)" json:"cpu_model"`
	CPUCores          int            `json:"cpu_cores"`
	MemoryBytes       int64          `json:"memory_bytes"`
	DiskBytes         int64          `json:"disk_bytes"`
	IPAddress         string         `gorm:"type:varchar(64)" json:"ip_address"`
	GatewayIP         string         `gorm:"type:varchar(64)" json:"gateway_ip"`
	DNSServers        string         `gorm:"type:varchar(255)" json:"dns_servers"`
	NetworkInterfaces datatypes.JSON `gorm:"type:json" json:"network_interfaces,omitempty"`
	AgentVersion      string         `gorm:"type:varchar(32)" json:"agent_version"`
	AutoUpdate        bool           `gorm:"default:false" json:"auto_update"`

	HostGroupID *int       `gorm:"index" json:"host_group_id"`
	HostGroup   *HostGroup `gorm:"foreignKey:HostGroupID;constraint:OnDelete:SET NULL" json:"host_group,omitempty"`
}

// TableName specifies the table name for Host model
func (Host) TableName() string {
	return "hosts"
}
