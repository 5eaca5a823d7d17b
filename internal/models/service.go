package models

import "time"

// ServiceStatus is the lifecycle state of a monitored service.
type ServiceStatus string

const (
	StatusRunning ServiceStatus = "Running"
	StatusStopped ServiceStatus = "Stopped"
	StatusPaused  ServiceStatus = "Paused"
)

// Valid reports whether s is one of the known lifecycle states.
func (s ServiceStatus) Valid() bool {
	switch s {
	case StatusRunning, StatusStopped, StatusPaused:
		return true
	}
	return false
}

// Service is one monitored Windows-style service or daemon.
//
// Gauges are never negative. A Stopped service reports zero uptime after the
// next simulator tick.
type Service struct {
	ID           string        `gorm:"primaryKey" json:"id"`
	ClientID     string        `gorm:"index" json:"client_id"`
	Name         string        `gorm:"not null" json:"name"`
	DisplayName  string        `json:"display_name"`
	Status       ServiceStatus `json:"status"`
	CPUUsage     float64       `json:"cpu_usage"`    // percent 0-100
	MemoryUsage  float64       `json:"memory_usage"` // MB
	DiskIO       float64       `json:"disk_io"`
	NetworkStats float64       `json:"network_stats"`
	Uptime       int64         `json:"uptime"` // seconds
	LastRestart  time.Time     `json:"last_restart"`
	ErrorCount   int           `json:"error_count"`

	WebhookURL          string `json:"webhook_url,omitempty"`
	WebhookEnabled      bool   `json:"webhook_enabled"`
	StartWebhookURL     string `json:"start_webhook_url,omitempty"`
	StartWebhookEnabled bool   `json:"start_webhook_enabled"`
	StopWebhookURL      string `json:"stop_webhook_url,omitempty"`
	StopWebhookEnabled  bool   `json:"stop_webhook_enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Service) TableName() string { return "services" }

// ServicePatch is a partial update. Nil fields are left untouched.
type ServicePatch struct {
	Name         *string        `json:"name,omitempty"`
	DisplayName  *string        `json:"display_name,omitempty"`
	Status       *ServiceStatus `json:"status,omitempty"`
	CPUUsage     *float64       `json:"cpu_usage,omitempty"`
	MemoryUsage  *float64       `json:"memory_usage,omitempty"`
	DiskIO       *float64       `json:"disk_io,omitempty"`
	NetworkStats *float64       `json:"network_stats,omitempty"`
	Uptime       *int64         `json:"uptime,omitempty"`
	LastRestart  *time.Time     `json:"last_restart,omitempty"`
	ErrorCount   *int           `json:"error_count,omitempty"`

	WebhookURL          *string `json:"webhook_url,omitempty"`
	WebhookEnabled      *bool   `json:"webhook_enabled,omitempty"`
	StartWebhookURL     *string `json:"start_webhook_url,omitempty"`
	StartWebhookEnabled *bool   `json:"start_webhook_enabled,omitempty"`
	StopWebhookURL      *string `json:"stop_webhook_url,omitempty"`
	StopWebhookEnabled  *bool   `json:"stop_webhook_enabled,omitempty"`
}

// Apply merges the non-nil fields of p into s.
func (p ServicePatch) Apply(s *Service) {
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.DisplayName != nil {
		s.DisplayName = *p.DisplayName
	}
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.CPUUsage != nil {
		s.CPUUsage = *p.CPUUsage
	}
	if p.MemoryUsage != nil {
		s.MemoryUsage = *p.MemoryUsage
	}
	if p.DiskIO != nil {
		s.DiskIO = *p.DiskIO
	}
	if p.NetworkStats != nil {
		s.NetworkStats = *p.NetworkStats
	}
	if p.Uptime != nil {
		s.Uptime = *p.Uptime
	}
	if p.LastRestart != nil {
		s.LastRestart = *p.LastRestart
	}
	if p.ErrorCount != nil {
		s.ErrorCount = *p.ErrorCount
	}
	if p.WebhookURL != nil {
		s.WebhookURL = *p.WebhookURL
	}
	if p.WebhookEnabled != nil {
		s.WebhookEnabled = *p.WebhookEnabled
	}
	if p.StartWebhookURL != nil {
		s.StartWebhookURL = *p.StartWebhookURL
	}
	if p.StartWebhookEnabled != nil {
		s.StartWebhookEnabled = *p.StartWebhookEnabled
	}
	if p.StopWebhookURL != nil {
		s.StopWebhookURL = *p.StopWebhookURL
	}
	if p.StopWebhookEnabled != nil {
		s.StopWebhookEnabled = *p.StopWebhookEnabled
	}
}

// Ptr returns a pointer to v. Handy when building patches.
func Ptr[T any](v T) *T { return &v }
