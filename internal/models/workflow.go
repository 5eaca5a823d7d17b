package models

import "time"

// ResolutionStatus is the state of a remediation attempt.
type ResolutionStatus string

const (
	ResolutionInProgress ResolutionStatus = "in_progress"
	ResolutionSuccess    ResolutionStatus = "success"
	ResolutionFailed     ResolutionStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s ResolutionStatus) Terminal() bool {
	return s == ResolutionSuccess || s == ResolutionFailed
}

// WorkflowHistory records one remediation attempt.
// CompletedAt is nil exactly while ResolutionStatus is in_progress.
type WorkflowHistory struct {
	ID                string           `gorm:"primaryKey" json:"id"`
	ServiceID         *string          `gorm:"index" json:"service_id"`
	ProblemIdentified string           `json:"problem_identified"`
	CommandsExecuted  []string         `gorm:"serializer:json" json:"commands_executed"`
	ResolutionStatus  ResolutionStatus `gorm:"index" json:"resolution_status"`
	StartedAt         time.Time        `gorm:"index" json:"started_at"`
	CompletedAt       *time.Time       `json:"completed_at"`
}

func (WorkflowHistory) TableName() string { return "workflow_history" }

// Clone returns a deep copy so callers never share the commands slice.
func (w WorkflowHistory) Clone() WorkflowHistory {
	out := w
	out.CommandsExecuted = append([]string{}, w.CommandsExecuted...)
	if w.ServiceID != nil {
		id := *w.ServiceID
		out.ServiceID = &id
	}
	if w.CompletedAt != nil {
		t := *w.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
