package models

import "time"

// LogLevel is the severity of a ServiceLog.
type LogLevel string

const (
	LevelInfo     LogLevel = "INFO"
	LevelWarning  LogLevel = "WARNING"
	LevelError    LogLevel = "ERROR"
	LevelCritical LogLevel = "CRITICAL"
)

// Valid reports whether l is a known level.
func (l LogLevel) Valid() bool {
	switch l {
	case LevelInfo, LevelWarning, LevelError, LevelCritical:
		return true
	}
	return false
}

// IsError reports whether a log at this level counts towards a service's error_count.
func (l LogLevel) IsError() bool { return l == LevelError || l == LevelCritical }

// ServiceLog is an immutable event record. ServiceID is nil for system-level entries.
type ServiceLog struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	ServiceID *string   `gorm:"index" json:"service_id"`
	Level     LogLevel  `gorm:"index" json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`
}

func (ServiceLog) TableName() string { return "service_logs" }

// AlertType is the visual category of a dashboard alert.
type AlertType string

const (
	AlertError   AlertType = "error"
	AlertWarning AlertType = "warning"
	AlertSuccess AlertType = "success"
	AlertInfo    AlertType = "info"
)

// Alert is a transient, user-facing notification. Alerts are not persisted.
type Alert struct {
	ID        string    `json:"id"`
	Type      AlertType `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
