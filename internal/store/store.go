// Package store is the persistence boundary of healdash.
//
// Client is implemented three ways: GormStore (relational, SQLite),
// RedisStore (JSON documents in Redis) and MemoryStore (offline). Open picks
// one from config at startup; nothing else in the tree names a backend.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/vesaa/healdash/internal/config"
	"github.com/vesaa/healdash/internal/models"
)

// ErrNotFound is returned when a keyed lookup, update or delete misses.
var ErrNotFound = errors.New("store: record not found")

// Client is the capability set the rest of the system needs from a backend.
// List methods return newest first unless noted; limit <= 0 means no limit.
type Client interface {
	ListClients(ctx context.Context) ([]models.Client, error)
	GetClient(ctx context.Context, id string) (*models.Client, error)
	FindClientByIP(ctx context.Context, ip string) (*models.Client, error)
	SaveClient(ctx context.Context, c *models.Client) error
	DeleteClient(ctx context.Context, id string) error

	// ListServices returns services oldest first (created_at ascending).
	ListServices(ctx context.Context) ([]models.Service, error)
	SaveService(ctx context.Context, s *models.Service) error
	DeleteService(ctx context.Context, id string) error

	InsertLog(ctx context.Context, l *models.ServiceLog) error
	ListLogs(ctx context.Context, limit int) ([]models.ServiceLog, error)

	InsertWorkflow(ctx context.Context, w *models.WorkflowHistory) error
	UpdateWorkflow(ctx context.Context, w *models.WorkflowHistory) error
	ListWorkflows(ctx context.Context, limit int) ([]models.WorkflowHistory, error)

	GetDashboardConfig(ctx context.Context) (*models.DashboardConfig, error)
	SaveDashboardConfig(ctx context.Context, c *models.DashboardConfig) error
	GetWebhookConfig(ctx context.Context, serviceID string) (*models.WebhookConfig, error)
	SaveWebhookConfig(ctx context.Context, c *models.WebhookConfig) error

	InsertSystemMetrics(ctx context.Context, m *models.SystemMetrics) error
	ListSystemMetrics(ctx context.Context, clientID string, limit int) ([]models.SystemMetrics, error)
	InsertMonitoringData(ctx context.Context, d *models.MonitoringData) error
	LatestMonitoringData(ctx context.Context, limit int) ([]models.MonitoringData, error)

	Close() error
}

// Open builds the backend selected by cfg.DBDriver.
func Open(cfg *config.Config) (Client, error) {
	switch cfg.DBDriver {
	case "sqlite", "":
		return OpenGorm(cfg.DBPath)
	case "redis":
		return OpenRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported db_driver %q (use 'sqlite', 'redis' or 'memory')", cfg.DBDriver)
	}
}
