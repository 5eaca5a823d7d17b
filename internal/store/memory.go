package store

import (
	"context"
	"sort"
	"sync"

	"github.com/vesaa/healdash/internal/models"
)

// MemoryStore keeps everything in process memory. It is the offline backend
// and the default in tests.
type MemoryStore struct {
	mu        sync.RWMutex
	clients   map[string]models.Client
	services  map[string]models.Service
	logs      []models.ServiceLog
	workflows map[string]models.WorkflowHistory
	dashboard *models.DashboardConfig
	webhooks  map[string]models.WebhookConfig
	metrics   []models.SystemMetrics
	data      []models.MonitoringData
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clients:   make(map[string]models.Client),
		services:  make(map[string]models.Service),
		workflows: make(map[string]models.WorkflowHistory),
		webhooks:  make(map[string]models.WebhookConfig),
	}
}

func (m *MemoryStore) ListClients(_ context.Context) ([]models.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Client, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) GetClient(_ context.Context, id string) (*models.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *MemoryStore) FindClientByIP(_ context.Context, ip string) (*models.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.clients {
		if c.IPAddress == ip {
			c := c
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) SaveClient(_ context.Context, c *models.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.ID] = *c
	return nil
}

func (m *MemoryStore) DeleteClient(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[id]; !ok {
		return ErrNotFound
	}
	delete(m.clients, id)
	return nil
}

func (m *MemoryStore) ListServices(_ context.Context) ([]models.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Service, 0, len(m.services))
	for _, s := range m.services {
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) SaveService(_ context.Context, s *models.Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[s.ID] = *s
	return nil
}

func (m *MemoryStore) DeleteService(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.services[id]; !ok {
		return ErrNotFound
	}
	delete(m.services, id)
	return nil
}

func (m *MemoryStore) InsertLog(_ context.Context, l *models.ServiceLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, *l)
	return nil
}

func (m *MemoryStore) ListLogs(_ context.Context, limit int) ([]models.ServiceLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(m.logs, limit), nil
}

func (m *MemoryStore) InsertWorkflow(_ context.Context, w *models.WorkflowHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[w.ID] = w.Clone()
	return nil
}

func (m *MemoryStore) UpdateWorkflow(_ context.Context, w *models.WorkflowHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[w.ID]; !ok {
		return ErrNotFound
	}
	m.workflows[w.ID] = w.Clone()
	return nil
}

func (m *MemoryStore) ListWorkflows(_ context.Context, limit int) ([]models.WorkflowHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.WorkflowHistory, 0, len(m.workflows))
	for _, w := range m.workflows {
		out = append(out, w.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) GetDashboardConfig(_ context.Context) (*models.DashboardConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.dashboard == nil {
		return nil, ErrNotFound
	}
	c := *m.dashboard
	return &c, nil
}

func (m *MemoryStore) SaveDashboardConfig(_ context.Context, c *models.DashboardConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.dashboard = &cp
	return nil
}

func (m *MemoryStore) GetWebhookConfig(_ context.Context, serviceID string) (*models.WebhookConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.webhooks[serviceID]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *MemoryStore) SaveWebhookConfig(_ context.Context, c *models.WebhookConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhooks[c.ServiceID] = *c
	return nil
}

func (m *MemoryStore) InsertSystemMetrics(_ context.Context, sm *models.SystemMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = append(m.metrics, *sm)
	return nil
}

func (m *MemoryStore) ListSystemMetrics(_ context.Context, clientID string, limit int) ([]models.SystemMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.SystemMetrics
	for i := len(m.metrics) - 1; i >= 0; i-- {
		if m.metrics[i].ClientID != clientID {
			continue
		}
		out = append(out, m.metrics[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) InsertMonitoringData(_ context.Context, d *models.MonitoringData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append(m.data, *d)
	return nil
}

func (m *MemoryStore) LatestMonitoringData(_ context.Context, limit int) ([]models.MonitoringData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(m.data, limit), nil
}

func (m *MemoryStore) Close() error { return nil }

// newestFirst copies an append-ordered slice in reverse, up to limit items.
func newestFirst[T any](in []T, limit int) []T {
	n := len(in)
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]T, 0, n)
	for i := len(in) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, in[i])
	}
	return out
}
