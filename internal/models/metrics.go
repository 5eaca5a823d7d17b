package models

import "time"

// DriveInfo describes one logical drive. Sizes are in MB.
// Used + Free == Total and Percentage == Used/Total*100 at all times;
// mutate through SetUsed to keep that true.
type DriveInfo struct {
	Name       string  `json:"name"`
	Total      float64 `json:"total"`
	Used       float64 `json:"used"`
	Free       float64 `json:"free"`
	Percentage float64 `json:"percentage"`
}

// SetUsed clamps used to [0, Total] and recomputes Free and Percentage.
func (d *DriveInfo) SetUsed(used float64) {
	if used < 0 {
		used = 0
	}
	if used > d.Total {
		used = d.Total
	}
	d.Used = used
	d.Free = d.Total - used
	if d.Total > 0 {
		d.Percentage = used / d.Total * 100
	} else {
		d.Percentage = 0
	}
}

// SystemMetrics is one host-level telemetry sample for a client.
type SystemMetrics struct {
	ID              string      `gorm:"primaryKey" json:"id"`
	ClientID        string      `gorm:"index" json:"client_id"`
	CPUUsage        float64     `json:"cpu_usage"`
	GPUUsage        *float64    `json:"gpu_usage,omitempty"`
	RAMUsage        float64     `json:"ram_usage"` // MB
	RAMTotal        float64     `json:"ram_total"` // MB
	Drives          []DriveInfo `gorm:"serializer:json" json:"drives"`
	NetworkUpload   float64     `json:"network_upload"`
	NetworkDownload float64     `json:"network_download"`
	Timestamp       time.Time   `gorm:"index" json:"timestamp"`
}

func (SystemMetrics) TableName() string { return "system_metrics" }

// MonitoringData is a free-form telemetry document accepted by the ingest endpoint.
type MonitoringData struct {
	ID        string         `gorm:"primaryKey" json:"id"`
	ClientID  string         `gorm:"index" json:"client_id"`
	Source    string         `json:"source"`
	Payload   map[string]any `gorm:"serializer:json" json:"payload"`
	Timestamp time.Time      `gorm:"index" json:"timestamp"`
}

func (MonitoringData) TableName() string { return "monitoring_data" }

// AgentReport is the body an agent POSTs to the data plane every interval.
// Unknown agents are registered as clients by IP.
type AgentReport struct {
	Hostname        string      `json:"hostname"`
	IP              string      `json:"ip" binding:"required"`
	OS              string      `json:"os"`
	AgentVersion    string      `json:"agent_version"`
	CPUUsage        float64     `json:"cpu_usage"`
	RAMUsage        float64     `json:"ram_usage"` // MB
	RAMTotal        float64     `json:"ram_total"` // MB
	Drives          []DriveInfo `json:"drives"`
	NetworkUpload   float64     `json:"network_upload"`   // KB/s
	NetworkDownload float64     `json:"network_download"` // KB/s
	TCPConnections  int         `json:"tcp_connections"`
	UDPConnections  int         `json:"udp_connections"`
	CollectedAt     time.Time   `json:"collected_at"`
}

// SystemMetrics converts the report into a sample for clientID.
func (r AgentReport) SystemMetrics(clientID string) SystemMetrics {
	ts := r.CollectedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return SystemMetrics{
		ClientID:        clientID,
		CPUUsage:        r.CPUUsage,
		RAMUsage:        r.RAMUsage,
		RAMTotal:        r.RAMTotal,
		Drives:          r.Drives,
		NetworkUpload:   r.NetworkUpload,
		NetworkDownload: r.NetworkDownload,
		Timestamp:       ts,
	}
}
