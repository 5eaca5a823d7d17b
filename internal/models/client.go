// Package models defines the persisted and wire types of healdash.
package models

import "time"

// ClientStatus is the reachability state of a monitored host.
type ClientStatus string

const (
	ClientOnline  ClientStatus = "online"
	ClientOffline ClientStatus = "offline"
	ClientWarning ClientStatus = "warning"
)

// MonitoringTemplate selects which checks are shown for a client.
type MonitoringTemplate struct {
	CPU       bool `json:"cpu"`
	GPU       bool `json:"gpu"`
	RAM       bool `json:"ram"`
	Drives    bool `json:"drives"`
	Services  bool `json:"services"`
	Network   bool `json:"network"`
	Processes bool `json:"processes"`
}

// DefaultTemplate enables every check.
func DefaultTemplate() MonitoringTemplate {
	return MonitoringTemplate{CPU: true, GPU: true, RAM: true, Drives: true, Services: true, Network: true, Processes: true}
}

// Client groups services under one monitored host.
// Agents that report without a known id are matched by IPAddress.
type Client struct {
	ID                 string             `gorm:"primaryKey" json:"id"`
	Name               string             `gorm:"index;not null" json:"name"`
	IPAddress          string             `gorm:"index" json:"ip_address"`
	OperatingSystem    string             `json:"operating_system"`
	MonitoringTemplate MonitoringTemplate `gorm:"serializer:json" json:"monitoring_template"`
	Status             ClientStatus       `gorm:"default:'offline'" json:"status"`
	LastSeen           time.Time          `json:"last_seen"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

func (Client) TableName() string { return "clients" }
