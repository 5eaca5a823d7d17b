package models

import "time"

// DashboardConfigID is the fixed key of the singleton dashboard config row.
const DashboardConfigID = "default"

// DashboardConfig is the operator-editable singleton read by the workflow engine.
type DashboardConfig struct {
	ID                   string    `gorm:"primaryKey" json:"id"`
	WebhookURL           string    `json:"n8n_webhook_url"`
	WebhookEnabled       bool      `json:"webhook_enabled"`
	SSHHost              string    `json:"ssh_host"`
	SSHPort              int       `json:"ssh_port"`
	AlertThresholdCPU    float64   `json:"alert_threshold_cpu"`
	AlertThresholdMemory float64   `json:"alert_threshold_memory"`
	MonitoringInterval   int       `json:"monitoring_interval"` // seconds
	AutoHealingEnabled   bool      `json:"auto_healing_enabled"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func (DashboardConfig) TableName() string { return "dashboard_config" }

// WebhookConfig holds the per-service webhook endpoints, keyed by service id.
type WebhookConfig struct {
	ServiceID    string    `gorm:"primaryKey" json:"service_id"`
	URL          string    `json:"url"`
	Enabled      bool      `json:"enabled"`
	StartURL     string    `json:"start_url"`
	StartEnabled bool      `json:"start_enabled"`
	StopURL      string    `json:"stop_url"`
	StopEnabled  bool      `json:"stop_enabled"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (WebhookConfig) TableName() string { return "webhook_config" }

// Patch converts the config into the service fields it mirrors.
func (w WebhookConfig) Patch() ServicePatch {
	return ServicePatch{
		WebhookURL:          Ptr(w.URL),
		WebhookEnabled:      Ptr(w.Enabled),
		StartWebhookURL:     Ptr(w.StartURL),
		StartWebhookEnabled: Ptr(w.StartEnabled),
		StopWebhookURL:      Ptr(w.StopURL),
		StopWebhookEnabled:  Ptr(w.StopEnabled),
	}
}
