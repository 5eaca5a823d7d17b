package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vesaa/healdash/internal/models"
)

// Collection names. They double as Redis key namespaces and match the
// relational table names.
const (
	collClients   = "clients"
	collServices  = "services"
	collLogs      = "service_logs"
	collWorkflows = "workflow_history"
	collDashboard = "dashboard_config"
	collWebhooks  = "webhook_config"
	collMetrics   = "system_metrics"
	collData      = "monitoring_data"
)

// RedisStore keeps each record as a JSON document under
// "<prefix><collection>:id:<id>" and indexes it in the sorted set
// "<prefix><collection>:idx" scored by its sort timestamp.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// OpenRedis connects to addr and verifies the connection with PING.
func OpenRedis(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis %s: %w", addr, err)
	}
	slog.Info("database opened", "component", "db", "driver", "redis", "addr", addr)
	return NewRedisStore(client), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: "healdash:"}
}

func (r *RedisStore) docKey(coll, id string) string { return r.prefix + coll + ":id:" + id }
func (r *RedisStore) idxKey(coll string) string     { return r.prefix + coll + ":idx" }

func score(t time.Time) float64 { return float64(t.UnixNano()) }

// put writes the document and its index entry in one transaction.
func (r *RedisStore) put(ctx context.Context, coll, id string, at time.Time, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", coll, err)
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.docKey(coll, id), data, 0)
		p.ZAdd(ctx, r.idxKey(coll), redis.Z{Score: score(at), Member: id})
		return nil
	})
	return err
}

func (r *RedisStore) get(ctx context.Context, coll, id string, v any) error {
	data, err := r.client.Get(ctx, r.docKey(coll, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to get %s from redis: %w", coll, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", coll, err)
	}
	return nil
}

func (r *RedisStore) exists(ctx context.Context, coll, id string) (bool, error) {
	n, err := r.client.Exists(ctx, r.docKey(coll, id)).Result()
	return n > 0, err
}

func (r *RedisStore) del(ctx context.Context, coll, id string) error {
	var n *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		n = p.Del(ctx, r.docKey(coll, id))
		p.ZRem(ctx, r.idxKey(coll), id)
		return nil
	})
	if err != nil {
		return err
	}
	if n.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// ids returns index members ordered by score, newest first unless asc.
func (r *RedisStore) ids(ctx context.Context, coll string, limit int, asc bool) ([]string, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	if asc {
		return r.client.ZRange(ctx, r.idxKey(coll), 0, stop).Result()
	}
	return r.client.ZRevRange(ctx, r.idxKey(coll), 0, stop).Result()
}

// list loads documents for the given ids, skipping ones deleted in between.
func list[T any](ctx context.Context, r *RedisStore, coll string, ids []string) ([]T, error) {
	out := make([]T, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.docKey(coll, id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s from redis: %w", coll, err)
	}
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var item T
		if err := json.Unmarshal([]byte(s), &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", coll, err)
		}
		out = append(out, item)
	}
	return out, nil
}

func (r *RedisStore) ListClients(ctx context.Context) ([]models.Client, error) {
	ids, err := r.ids(ctx, collClients, 0, false)
	if err != nil {
		return nil, err
	}
	return list[models.Client](ctx, r, collClients, ids)
}

func (r *RedisStore) GetClient(ctx context.Context, id string) (*models.Client, error) {
	var c models.Client
	if err := r.get(ctx, collClients, id, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *RedisStore) FindClientByIP(ctx context.Context, ip string) (*models.Client, error) {
	clients, err := r.ListClients(ctx)
	if err != nil {
		return nil, err
	}
	for i := range clients {
		if clients[i].IPAddress == ip {
			return &clients[i], nil
		}
	}
	return nil, ErrNotFound
}

func (r *RedisStore) SaveClient(ctx context.Context, c *models.Client) error {
	return r.put(ctx, collClients, c.ID, c.CreatedAt, c)
}

func (r *RedisStore) DeleteClient(ctx context.Context, id string) error {
	return r.del(ctx, collClients, id)
}

func (r *RedisStore) ListServices(ctx context.Context) ([]models.Service, error) {
	ids, err := r.ids(ctx, collServices, 0, true)
	if err != nil {
		return nil, err
	}
	return list[models.Service](ctx, r, collServices, ids)
}

func (r *RedisStore) SaveService(ctx context.Context, s *models.Service) error {
	return r.put(ctx, collServices, s.ID, s.CreatedAt, s)
}

func (r *RedisStore) DeleteService(ctx context.Context, id string) error {
	return r.del(ctx, collServices, id)
}

func (r *RedisStore) InsertLog(ctx context.Context, l *models.ServiceLog) error {
	return r.put(ctx, collLogs, l.ID, l.Timestamp, l)
}

func (r *RedisStore) ListLogs(ctx context.Context, limit int) ([]models.ServiceLog, error) {
	ids, err := r.ids(ctx, collLogs, limit, false)
	if err != nil {
		return nil, err
	}
	return list[models.ServiceLog](ctx, r, collLogs, ids)
}

func (r *RedisStore) InsertWorkflow(ctx context.Context, w *models.WorkflowHistory) error {
	return r.put(ctx, collWorkflows, w.ID, w.StartedAt, w)
}

func (r *RedisStore) UpdateWorkflow(ctx context.Context, w *models.WorkflowHistory) error {
	ok, err := r.exists(ctx, collWorkflows, w.ID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return r.put(ctx, collWorkflows, w.ID, w.StartedAt, w)
}

func (r *RedisStore) ListWorkflows(ctx context.Context, limit int) ([]models.WorkflowHistory, error) {
	ids, err := r.ids(ctx, collWorkflows, limit, false)
	if err != nil {
		return nil, err
	}
	return list[models.WorkflowHistory](ctx, r, collWorkflows, ids)
}

func (r *RedisStore) GetDashboardConfig(ctx context.Context) (*models.DashboardConfig, error) {
	var c models.DashboardConfig
	if err := r.get(ctx, collDashboard, models.DashboardConfigID, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *RedisStore) SaveDashboardConfig(ctx context.Context, c *models.DashboardConfig) error {
	c.ID = models.DashboardConfigID
	return r.put(ctx, collDashboard, c.ID, c.UpdatedAt, c)
}

func (r *RedisStore) GetWebhookConfig(ctx context.Context, serviceID string) (*models.WebhookConfig, error) {
	var c models.WebhookConfig
	if err := r.get(ctx, collWebhooks, serviceID, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *RedisStore) SaveWebhookConfig(ctx context.Context, c *models.WebhookConfig) error {
	return r.put(ctx, collWebhooks, c.ServiceID, c.UpdatedAt, c)
}

// InsertSystemMetrics indexes samples per client so ListSystemMetrics stays a range read.
func (r *RedisStore) InsertSystemMetrics(ctx context.Context, m *models.SystemMetrics) error {
	return r.put(ctx, collMetrics+":"+m.ClientID, m.ID, m.Timestamp, m)
}

func (r *RedisStore) ListSystemMetrics(ctx context.Context, clientID string, limit int) ([]models.SystemMetrics, error) {
	coll := collMetrics + ":" + clientID
	ids, err := r.ids(ctx, coll, limit, false)
	if err != nil {
		return nil, err
	}
	return list[models.SystemMetrics](ctx, r, coll, ids)
}

func (r *RedisStore) InsertMonitoringData(ctx context.Context, d *models.MonitoringData) error {
	return r.put(ctx, collData, d.ID, d.Timestamp, d)
}

func (r *RedisStore) LatestMonitoringData(ctx context.Context, limit int) ([]models.MonitoringData, error) {
	ids, err := r.ids(ctx, collData, limit, false)
	if err != nil {
		return nil, err
	}
	return list[models.MonitoringData](ctx, r, collData, ids)
}

func (r *RedisStore) Close() error { return r.client.Close() }
