// Package healing is the self-healing workflow engine: it diagnoses a
// service, records a workflow row, optionally notifies an external
// automation, applies remediation through the registry and finalizes the row.
package healing

import (
	"fmt"
	"strings"

	"github.com/vesaa/healdash/internal/models"
)

// Thresholds decide when a service needs healing.
type Thresholds struct {
	CPU    float64 // percent
	Memory float64 // MB
	Errors int
}

// DefaultThresholds match the dashboard defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{CPU: 80, Memory: 1000, Errors: 5}
}

// Diagnosis lists the conditions that hold for one service snapshot.
type Diagnosis struct {
	NotRunning bool
	HighErrors bool
	HighCPU    bool
	HighMemory bool
	// Problem joins the condition texts in the order above.
	Problem string
}

// Any reports whether at least one condition holds.
func (d Diagnosis) Any() bool {
	return d.NotRunning || d.HighErrors || d.HighCPU || d.HighMemory
}

// Diagnose evaluates s against th.
func Diagnose(s models.Service, th Thresholds) Diagnosis {
	var d Diagnosis
	var parts []string
	if s.Status != models.StatusRunning {
		d.NotRunning = true
		parts = append(parts, fmt.Sprintf("Service is %s", s.Status))
	}
	if s.ErrorCount > th.Errors {
		d.HighErrors = true
		parts = append(parts, fmt.Sprintf("High error count: %d errors in 24h", s.ErrorCount))
	}
	if s.CPUUsage > th.CPU {
		d.HighCPU = true
		parts = append(parts, fmt.Sprintf("CPU usage critical: %.1f%%", s.CPUUsage))
	}
	if s.MemoryUsage > th.Memory {
		d.HighMemory = true
		parts = append(parts, fmt.Sprintf("Memory usage high: %.0f MB", s.MemoryUsage))
	}
	d.Problem = strings.Join(parts, ", ")
	return d
}

// remediation commands, one set per condition.
func restartCommands(name string) []string {
	return []string{
		fmt.Sprintf(`Restart-Service -Name "%s" -Force`, name),
		fmt.Sprintf(`Start-Service -Name "%s"`, name),
	}
}

func reniceCommand(name string) string {
	return fmt.Sprintf(`Get-Process | Where-Object {$_.Name -like "*%s*"} | Set-ProcessPriority -Priority Normal`, name)
}

func memoryRestartCommand(name string) string {
	return fmt.Sprintf(`Restart-Service -Name "%s" -Force`, name)
}

func clearLogCommand(name string) string {
	return fmt.Sprintf(`Clear-EventLog -LogName Application -Source "%s"`, name)
}
