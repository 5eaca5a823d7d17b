package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/glebarez/sqlite"
	"github.com/vesaa/healdash/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormStore persists to a relational database through GORM.
// SQLite (pure Go driver) is the only dialect wired today.
type GormStore struct {
	db *gorm.DB
}

// OpenGorm opens the SQLite database at path and runs AutoMigrate.
// Use ":memory:" or "file::memory:?cache=shared" for throwaway databases.
func OpenGorm(path string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.Client{},
		&models.Service{},
		&models.ServiceLog{},
		&models.WorkflowHistory{},
		&models.DashboardConfig{},
		&models.WebhookConfig{},
		&models.SystemMetrics{},
		&models.MonitoringData{},
	); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}

	slog.Info("database opened", "component", "db", "driver", "sqlite", "path", path)
	return &GormStore{db: db}, nil
}

// notFound maps GORM's sentinel onto ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func withLimit(q *gorm.DB, limit int) *gorm.DB {
	if limit > 0 {
		return q.Limit(limit)
	}
	return q
}

func (g *GormStore) ListClients(ctx context.Context) ([]models.Client, error) {
	var out []models.Client
	err := g.db.WithContext(ctx).Order("created_at desc").Find(&out).Error
	return out, err
}

func (g *GormStore) GetClient(ctx context.Context, id string) (*models.Client, error) {
	var c models.Client
	if err := g.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (g *GormStore) FindClientByIP(ctx context.Context, ip string) (*models.Client, error) {
	var c models.Client
	if err := g.db.WithContext(ctx).Where("ip_address = ?", ip).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (g *GormStore) SaveClient(ctx context.Context, c *models.Client) error {
	return g.db.WithContext(ctx).Save(c).Error
}

func (g *GormStore) DeleteClient(ctx context.Context, id string) error {
	res := g.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Client{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *GormStore) ListServices(ctx context.Context) ([]models.Service, error) {
	var out []models.Service
	err := g.db.WithContext(ctx).Order("created_at asc").Order("id asc").Find(&out).Error
	return out, err
}

func (g *GormStore) SaveService(ctx context.Context, s *models.Service) error {
	return g.db.WithContext(ctx).Save(s).Error
}

func (g *GormStore) DeleteService(ctx context.Context, id string) error {
	res := g.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Service{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *GormStore) InsertLog(ctx context.Context, l *models.ServiceLog) error {
	return g.db.WithContext(ctx).Create(l).Error
}

func (g *GormStore) ListLogs(ctx context.Context, limit int) ([]models.ServiceLog, error) {
	var out []models.ServiceLog
	err := withLimit(g.db.WithContext(ctx).Order("timestamp desc"), limit).Find(&out).Error
	return out, err
}

func (g *GormStore) InsertWorkflow(ctx context.Context, w *models.WorkflowHistory) error {
	return g.db.WithContext(ctx).Create(w).Error
}

func (g *GormStore) UpdateWorkflow(ctx context.Context, w *models.WorkflowHistory) error {
	res := g.db.WithContext(ctx).Model(&models.WorkflowHistory{}).Where("id = ?", w.ID).
		Select("commands_executed", "resolution_status", "completed_at").
		Updates(w)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *GormStore) ListWorkflows(ctx context.Context, limit int) ([]models.WorkflowHistory, error) {
	var out []models.WorkflowHistory
	err := withLimit(g.db.WithContext(ctx).Order("started_at desc"), limit).Find(&out).Error
	return out, err
}

func (g *GormStore) GetDashboardConfig(ctx context.Context) (*models.DashboardConfig, error) {
	var c models.DashboardConfig
	if err := g.db.WithContext(ctx).Where("id = ?", models.DashboardConfigID).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (g *GormStore) SaveDashboardConfig(ctx context.Context, c *models.DashboardConfig) error {
	c.ID = models.DashboardConfigID
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(c).Error
}

func (g *GormStore) GetWebhookConfig(ctx context.Context, serviceID string) (*models.WebhookConfig, error) {
	var c models.WebhookConfig
	if err := g.db.WithContext(ctx).Where("service_id = ?", serviceID).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (g *GormStore) SaveWebhookConfig(ctx context.Context, c *models.WebhookConfig) error {
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(c).Error
}

func (g *GormStore) InsertSystemMetrics(ctx context.Context, m *models.SystemMetrics) error {
	return g.db.WithContext(ctx).Create(m).Error
}

func (g *GormStore) ListSystemMetrics(ctx context.Context, clientID string, limit int) ([]models.SystemMetrics, error) {
	var out []models.SystemMetrics
	q := g.db.WithContext(ctx).Where("client_id = ?", clientID).Order("timestamp desc")
	err := withLimit(q, limit).Find(&out).Error
	return out, err
}

func (g *GormStore) InsertMonitoringData(ctx context.Context, d *models.MonitoringData) error {
	return g.db.WithContext(ctx).Create(d).Error
}

func (g *GormStore) LatestMonitoringData(ctx context.Context, limit int) ([]models.MonitoringData, error) {
	var out []models.MonitoringData
	err := withLimit(g.db.WithContext(ctx).Order("timestamp desc"), limit).Find(&out).Error
	return out, err
}

// Close releases the underlying connection pool.
func (g *GormStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
