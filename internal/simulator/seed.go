package simulator

import (
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/vesaa/healdash/internal/models"
)

var windowsServices = []struct{ name, display string }{
	{"wuauserv", "Windows Update"},
	{"spooler", "Print Spooler"},
	{"W32Time", "Windows Time"},
	{"EventLog", "Windows Event Log"},
	{"Dnscache", "DNS Client"},
	{"MSSQLSERVER", "SQL Server"},
	{"W3SVC", "IIS Admin Service"},
	{"BITS", "Background Intelligent Transfer Service"},
	{"Schedule", "Task Scheduler"},
	{"Winmgmt", "Windows Management Instrumentation"},
	{"WSearch", "Windows Search"},
	{"CryptSvc", "Cryptographic Services"},
}

// DefaultClient is the host the seeded services belong to. It has no agent,
// so LastSeen stays zero and its telemetry comes from the demo loop.
func DefaultClient(now time.Time) models.Client {
	return models.Client{
		ID:                 "default-client",
		Name:               "Local Windows Server",
		IPAddress:          "127.0.0.1",
		OperatingSystem:    "Windows Server 2022",
		MonitoringTemplate: models.DefaultTemplate(),
		Status:             models.ClientOnline,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// SeedServices builds up to n well-known Windows services for clientID.
// Roughly 15% start Stopped, 5% Paused, and about 30% carry unhealthy gauges.
func SeedServices(clientID string, n int, r *rand.Rand, now time.Time) []models.Service {
	if n > len(windowsServices) {
		n = len(windowsServices)
	}
	created := now.Add(-30 * 24 * time.Hour)
	out := make([]models.Service, 0, n)
	for i := 0; i < n; i++ {
		status := models.StatusRunning
		switch x := r.Float64(); {
		case x > 0.85:
			status = models.StatusStopped
		case x > 0.80:
			status = models.StatusPaused
		}
		healthy := r.Float64() > 0.3

		s := models.Service{
			ID:           uuid.NewString(),
			ClientID:     clientID,
			Name:         windowsServices[i].name,
			DisplayName:  windowsServices[i].display,
			Status:       status,
			DiskIO:       r.Float64() * 50,
			NetworkStats: r.Float64() * 1000,
			LastRestart:  now.Add(-time.Duration(r.Float64() * float64(7*24*time.Hour))),
			CreatedAt:    created.Add(time.Duration(i) * time.Millisecond),
			UpdatedAt:    now,
		}
		if healthy {
			s.CPUUsage = r.Float64() * 30
			s.MemoryUsage = 100 + r.Float64()*500
			s.ErrorCount = r.IntN(5)
		} else {
			s.CPUUsage = 60 + r.Float64()*40
			s.MemoryUsage = 800 + r.Float64()*1200
			s.ErrorCount = 5 + r.IntN(20)
		}
		if status == models.StatusRunning {
			s.Uptime = r.Int64N(7 * 86400)
		}
		out = append(out, s)
	}
	return out
}
