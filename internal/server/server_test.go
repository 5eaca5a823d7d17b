package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vesaa/healdash/internal/config"
	"github.com/vesaa/healdash/internal/feed"
	"github.com/vesaa/healdash/internal/healing"
	"github.com/vesaa/healdash/internal/models"
	"github.com/vesaa/healdash/internal/notify"
	"github.com/vesaa/healdash/internal/registry"
	"github.com/vesaa/healdash/internal/store"
)

type fakeProber struct {
	out  string
	err  error
	host string
	port int
}

func (p *fakeProber) Probe(_ context.Context, host string, port int) (string, error) {
	p.host, p.port = host, port
	return p.out, p.err
}

type recordingExporter struct {
	mu  sync.Mutex
	got []models.SystemMetrics
}

func (r *recordingExporter) WriteSystemMetrics(_ context.Context, m models.SystemMetrics) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, m)
	return nil
}

type fixture struct {
	srv      *Server
	store    *store.MemoryStore
	control  http.Handler
	data     http.Handler
	prober   *fakeProber
	exporter *recordingExporter
}

func newFixture(t *testing.T, auth bool) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		AuthEnabled: auth,
		JWTSecret:   "test-secret",
		AgentToken:  "agent-key",
		AdminUser:   "admin",
		AdminPass:   "hunter2",
		Healing:     config.HealingConfig{BulkLimit: 3, ErrorThreshold: 5},
		Notify:      config.NotifyConfig{Timeout: 2 * time.Second, MaxAttempts: 2, InitialBackoff: time.Millisecond},
		Dashboard: config.DashboardDefaults{
			WebhookEnabled:       true,
			SSHPort:              22,
			AlertThresholdCPU:    80,
			AlertThresholdMemory: 1000,
			MonitoringInterval:   30,
		},
	}
	st := store.NewMemoryStore()
	hub := feed.NewHub(64)
	reg := registry.New(st, hub)
	logs := registry.NewLogSink(registry.DefaultLogCap, st, hub)
	hist := registry.NewHistory(st, hub)
	alerts := registry.NewAlerts(registry.DefaultAlertCap, hub)
	hooks := notify.NewWebhookNotifier(cfg.Notify)
	eng := healing.New(healing.Deps{
		Registry:      reg,
		Logs:          logs,
		History:       hist,
		Alerts:        alerts,
		Notifier:      hooks,
		Config:        st,
		Defaults:      cfg.Dashboard.DashboardConfig(),
		NotifyTimeout: cfg.Notify.Timeout,
		Rand:          rand.New(rand.NewPCG(1, 2)),
	}, cfg.Healing)

	prober := &fakeProber{out: "healdash-ok"}
	exporter := &recordingExporter{}
	srv := New(Deps{
		Config:   cfg,
		Store:    st,
		Registry: reg,
		Logs:     logs,
		History:  hist,
		Alerts:   alerts,
		Engine:   eng,
		Hooks:    hooks,
		Hub:      hub,
		Exporter: exporter,
		Prober:   prober,
	})
	return &fixture{
		srv:      srv,
		store:    st,
		control:  srv.ControlHandler(),
		data:     srv.DataHandler(),
		prober:   prober,
		exporter: exporter,
	}
}

func (f *fixture) do(t *testing.T, h http.Handler, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func (f *fixture) addService(t *testing.T, name string, mutate func(*models.Service)) models.Service {
	t.Helper()
	s := models.Service{
		ID:          "svc-" + name,
		ClientID:    "default-client",
		Name:        name,
		DisplayName: strings.ToUpper(name),
		Status:      models.StatusRunning,
		CPUUsage:    10,
		MemoryUsage: 100,
	}
	if mutate != nil {
		mutate(&s)
	}
	return f.srv.Registry.Add(context.Background(), s)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

type envelope[T any] struct {
	Data  T      `json:"data"`
	Error string `json:"error"`
}

// ── Auth ──────────────────────────────────────────────────────────────────────

func TestHealthIsPublic(t *testing.T) {
	f := newFixture(t, true)
	for _, path := range []string{"/health", "/api/health"} {
		w := f.do(t, f.control, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, w.Code, path)
		body := decode[map[string]any](t, w)
		assert.Equal(t, "ok", body["status"])
		assert.NotEmpty(t, body["timestamp"])
	}
}

func TestLoginAndJWT(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(t, f.control, http.MethodGet, "/api/monitoring/services", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, f.control, http.MethodPost, "/api/login", map[string]string{"username": "admin", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, f.control, http.MethodPost, "/api/login", map[string]string{"username": "admin", "password": "hunter2"})
	require.Equal(t, http.StatusOK, w.Code)
	token := decode[map[string]any](t, w)["token"].(string)
	require.NotEmpty(t, token)

	w = f.do(t, f.control, http.MethodGet, "/api/monitoring/services", nil, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, f.control, http.MethodGet, "/api/monitoring/services?token="+token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, f.control, http.MethodGet, "/api/monitoring/services", nil, "Authorization", "Token "+token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	other := New(Deps{Config: &config.Config{JWTSecret: "other"}, Prober: f.prober})
	forged, err := other.GenerateJWT("admin")
	require.NoError(t, err)
	w = f.do(t, f.control, http.MethodGet, "/api/monitoring/services", nil, "Authorization", "Bearer "+forged)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthDisabledSkipsJWT(t *testing.T) {
	f := newFixture(t, false)
	w := f.do(t, f.control, http.MethodGet, "/api/monitoring/services", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUnknownAPIPathIs404JSON(t *testing.T) {
	f := newFixture(t, false)
	w := f.do(t, f.control, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not found")

	w = f.do(t, f.control, http.MethodGet, "/dashboard", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
}

// ── Services ──────────────────────────────────────────────────────────────────

func TestServiceCreateAndPatch(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, f.control, http.MethodPost, "/api/monitoring/services", map[string]any{"name": "spooler", "status": "Sleeping"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, f.control, http.MethodPost, "/api/monitoring/services", map[string]any{"display_name": "nameless"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, f.control, http.MethodPost, "/api/monitoring/services", map[string]any{"name": "spooler", "display_name": "Print Spooler"})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[envelope[models.Service]](t, w).Data
	assert.Equal(t, models.StatusRunning, created.Status)
	assert.False(t, created.CreatedAt.IsZero())

	w = f.do(t, f.control, http.MethodPut, "/api/monitoring/services/"+created.ID, map[string]any{"cpu_usage": 42.5})
	require.Equal(t, http.StatusOK, w.Code)
	patched := decode[envelope[models.Service]](t, w).Data
	assert.Equal(t, 42.5, patched.CPUUsage)
	assert.Equal(t, "Print Spooler", patched.DisplayName)
	assert.False(t, patched.UpdatedAt.Before(created.UpdatedAt))

	w = f.do(t, f.control, http.MethodPut, "/api/monitoring/services/"+created.ID, map[string]any{"memory_usage": -5})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	got, _ := f.srv.Registry.Get(created.ID)
	assert.Equal(t, 0.0, got.MemoryUsage)

	w = f.do(t, f.control, http.MethodPut, "/api/monitoring/services/missing", map[string]any{"cpu_usage": 1})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, f.control, http.MethodGet, "/api/monitoring/services", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[envelope[[]models.Service]](t, w).Data, 1)

	w = f.do(t, f.control, http.MethodDelete, "/api/monitoring/services/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, f.srv.Registry.Len())
}

// ── Healing ───────────────────────────────────────────────────────────────────

func TestHealEndpoint(t *testing.T) {
	f := newFixture(t, false)
	stopped := f.addService(t, "wuauserv", func(s *models.Service) { s.Status = models.StatusStopped; s.ErrorCount = 2 })
	healthy := f.addService(t, "spooler", nil)

	w := f.do(t, f.control, http.MethodPost, "/api/monitoring/services/"+stopped.ID+"/heal", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	wf := decode[envelope[models.WorkflowHistory]](t, w).Data
	assert.Equal(t, models.ResolutionSuccess, wf.ResolutionStatus)
	assert.NotNil(t, wf.CompletedAt)
	assert.Equal(t, "Service is Stopped", wf.ProblemIdentified)
	assert.NotEmpty(t, wf.CommandsExecuted)

	svc, _ := f.srv.Registry.Get(stopped.ID)
	assert.Equal(t, models.StatusRunning, svc.Status)
	assert.Equal(t, 0, svc.ErrorCount)

	w = f.do(t, f.control, http.MethodPost, "/api/monitoring/services/"+healthy.ID+"/heal", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, f.control, http.MethodPost, "/api/monitoring/services/missing/heal", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, f.control, http.MethodGet, "/api/monitoring/workflows", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[envelope[[]models.WorkflowHistory]](t, w).Data, 1)
}

func TestHealAllIsBounded(t *testing.T) {
	f := newFixture(t, false)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		f.addService(t, name, func(s *models.Service) { s.Status = models.StatusStopped })
	}

	w := f.do(t, f.control, http.MethodPost, "/api/monitoring/heal", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.EqualValues(t, 3, body["processed"])

	stillStopped := 0
	for _, s := range f.srv.Registry.GetAll() {
		if s.Status == models.StatusStopped {
			stillStopped++
		}
	}
	assert.Equal(t, 2, stillStopped)
}

func TestHealAllWithNothingToDo(t *testing.T) {
	f := newFixture(t, false)
	f.addService(t, "ok", nil)
	w := f.do(t, f.control, http.MethodPost, "/api/monitoring/heal", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode[map[string]any](t, w)["processed"])
}

// ── Logs & workflows ──────────────────────────────────────────────────────────

func TestCreateLog(t *testing.T) {
	f := newFixture(t, false)
	svc := f.addService(t, "dhcp", nil)

	w := f.do(t, f.control, http.MethodPost, "/api/monitoring/logs", map[string]any{"service_id": svc.ID, "level": "ERROR", "message": "boom"})
	require.Equal(t, http.StatusCreated, w.Code)
	got, _ := f.srv.Registry.Get(svc.ID)
	assert.Equal(t, 1, got.ErrorCount)

	w = f.do(t, f.control, http.MethodPost, "/api/monitoring/logs", map[string]any{"service_id": svc.ID, "level": "INFO", "message": "fine"})
	require.Equal(t, http.StatusCreated, w.Code)
	got, _ = f.srv.Registry.Get(svc.ID)
	assert.Equal(t, 1, got.ErrorCount)

	w = f.do(t, f.control, http.MethodPost, "/api/monitoring/logs", map[string]any{"level": "LOUD", "message": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, f.control, http.MethodPost, "/api/monitoring/logs", map[string]any{"service_id": "ghost", "level": "INFO", "message": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, f.control, http.MethodGet, "/api/monitoring/logs?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	logs := decode[envelope[[]models.ServiceLog]](t, w).Data
	require.Len(t, logs, 1)
	assert.Equal(t, "fine", logs[0].Message)

	w = f.do(t, f.control, http.MethodGet, "/api/monitoring/logs?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestImportWorkflow(t *testing.T) {
	f := newFixture(t, false)

	row := map[string]any{"id": "wf-ext-1", "problem_identified": "disk full", "resolution_status": "success", "commands_executed": []string{"cleanmgr"}}
	w := f.do(t, f.control, http.MethodPost, "/api/monitoring/workflows", row)
	require.Equal(t, http.StatusCreated, w.Code)
	wf := decode[envelope[models.WorkflowHistory]](t, w).Data
	assert.NotNil(t, wf.CompletedAt)

	w = f.do(t, f.control, http.MethodPost, "/api/monitoring/workflows", row)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, f.control, http.MethodPost, "/api/monitoring/workflows", map[string]any{"problem_identified": "x", "resolution_status": "maybe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, f.control, http.MethodPost, "/api/monitoring/workflows", map[string]any{"resolution_status": "success"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ── Config ────────────────────────────────────────────────────────────────────

func TestDashboardConfigMerge(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, f.control, http.MethodGet, "/api/monitoring/config", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 80.0, decode[envelope[models.DashboardConfig]](t, w).Data.AlertThresholdCPU)

	w = f.do(t, f.control, http.MethodPost, "/api/monitoring/config", map[string]any{"alert_threshold_cpu": 50, "auto_healing_enabled": true})
	require.Equal(t, http.StatusOK, w.Code)
	saved := decode[envelope[models.DashboardConfig]](t, w).Data
	assert.Equal(t, 50.0, saved.AlertThresholdCPU)
	assert.Equal(t, 1000.0, saved.AlertThresholdMemory)
	assert.True(t, saved.AutoHealingEnabled)

	stored, err := f.store.GetDashboardConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50.0, stored.AlertThresholdCPU)

	w = f.do(t, f.control, http.MethodPost, "/api/monitoring/config", map[string]any{"alert_threshold_cpu": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// the stored threshold now drives the trigger
	svc := f.addService(t, "busy", func(s *models.Service) { s.CPUUsage = 60 })
	w = f.do(t, f.control, http.MethodPost, "/api/monitoring/services/"+svc.ID+"/heal", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode[envelope[models.WorkflowHistory]](t, w).Data.ProblemIdentified, "CPU usage critical")
}

func TestSSHTest(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, f.control, http.MethodPost, "/api/monitoring/config/ssh/test", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, f.control, http.MethodPost, "/api/monitoring/config/ssh/test", map[string]any{"ssh_host": "10.0.0.5"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "10.0.0.5", f.prober.host)
	assert.Equal(t, 22, f.prober.port)
	assert.Equal(t, "healdash-ok", decode[map[string]any](t, w)["output"])

	f.prober.err = errors.New("connection refused")
	w = f.do(t, f.control, http.MethodPost, "/api/monitoring/config/ssh/test", map[string]any{"ssh_host": "10.0.0.5", "ssh_port": 2222})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, 2222, f.prober.port)
}

// ── Webhooks ──────────────────────────────────────────────────────────────────

func TestWebhookConfigMirrorsService(t *testing.T) {
	f := newFixture(t, false)
	svc := f.addService(t, "spooler", nil)

	w := f.do(t, f.control, http.MethodGet, "/api/monitoring/webhooks/config/"+svc.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{}}`, w.Body.String())

	w = f.do(t, f.control, http.MethodPost, "/api/monitoring/webhooks/config/"+svc.ID,
		map[string]any{"stop_url": "http://n8n.local/stop", "stop_enabled": true})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, f.control, http.MethodPost, "/api/monitoring/webhooks/config/"+svc.ID,
		map[string]any{"start_url": "http://n8n.local/start", "start_enabled": true})
	require.Equal(t, http.StatusOK, w.Code)

	got, _ := f.srv.Registry.Get(svc.ID)
	assert.Equal(t, "http://n8n.local/stop", got.StopWebhookURL)
	assert.True(t, got.StopWebhookEnabled)
	assert.Equal(t, "http://n8n.local/start", got.StartWebhookURL)
	assert.True(t, got.StartWebhookEnabled)

	w = f.do(t, f.control, http.MethodPost, "/api/monitoring/webhooks/config/ghost", map[string]any{"url": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServiceWebhookTrigger(t *testing.T) {
	f := newFixture(t, false)
	var hits atomic.Int32
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, http.MethodGet, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	svc := f.addService(t, "spooler", func(s *models.Service) {
		s.StopWebhookURL, s.StopWebhookEnabled = ok.URL, true
		s.StartWebhookURL, s.StartWebhookEnabled = broken.URL, true
		s.WebhookURL = ok.URL
	})

	w := f.do(t, f.control, http.MethodPost, "/api/monitoring/services/"+svc.ID+"/webhook/stop", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 1, hits.Load())
	got, _ := f.srv.Registry.Get(svc.ID)
	assert.Equal(t, models.StatusStopped, got.Status)

	w = f.do(t, f.control, http.MethodPost, "/api/monitoring/services/"+svc.ID+"/webhook/start", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	got, _ = f.srv.Registry.Get(svc.ID)
	assert.Equal(t, models.StatusStopped, got.Status)

	var warnings, errs int
	for _, l := range f.srv.Logs.List(0) {
		switch l.Level {
		case models.LevelWarning:
			warnings++
		case models.LevelError:
			errs++
		}
	}
	assert.Equal(t, 2, warnings)
	assert.Equal(t, 1, errs)

	// generic webhook configured but disabled
	w = f.do(t, f.control, http.MethodPost, "/api/monitoring/services/"+svc.ID+"/webhook/trigger", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, f.control, http.MethodPost, "/api/monitoring/services/"+svc.ID+"/webhook/reboot", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ── Clients & ingest ──────────────────────────────────────────────────────────

func TestAgentReportRegistersClient(t *testing.T) {
	f := newFixture(t, true)
	report := models.AgentReport{
		Hostname: "build-01",
		IP:       "10.1.2.3",
		OS:       "ubuntu 24.04",
		CPUUsage: 37.5,
		RAMUsage: 2048,
		RAMTotal: 8192,
		Drives:   []models.DriveInfo{{Name: "/", Total: 1000, Used: 250}},
	}

	w := f.do(t, f.data, http.MethodPost, "/api/monitoring/data", report)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, f.data, http.MethodPost, "/api/monitoring/data", report, "Authorization", "Bearer agent-key")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decode[map[string]any](t, w)["client_id"].(string)

	cl, err := f.store.FindClientByIP(context.Background(), "10.1.2.3")
	require.NoError(t, err)
	assert.Equal(t, first, cl.ID)
	assert.Equal(t, "build-01", cl.Name)
	assert.Equal(t, models.ClientOnline, cl.Status)
	assert.False(t, cl.LastSeen.IsZero())

	report.Hostname = "build-01-renamed"
	w = f.do(t, f.data, http.MethodPost, "/api/monitoring/data", report, "Authorization", "Bearer agent-key")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, first, decode[map[string]any](t, w)["client_id"])

	rows, err := f.store.ListSystemMetrics(context.Background(), first, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 750.0, rows[0].Drives[0].Free)
	assert.Equal(t, 25.0, rows[0].Drives[0].Percentage)
	assert.Len(t, f.exporter.got, 2)

	w = f.do(t, f.data, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestClientCRUDCascades(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, f.control, http.MethodPost, "/api/clients", map[string]any{"ip_address": "10.0.0.1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, f.control, http.MethodPost, "/api/clients", map[string]any{"name": "file server", "ip_address": "10.0.0.9"})
	require.Equal(t, http.StatusCreated, w.Code)
	cl := decode[envelope[models.Client]](t, w).Data
	assert.Equal(t, models.ClientOffline, cl.Status)
	assert.True(t, cl.MonitoringTemplate.CPU)

	w = f.do(t, f.control, http.MethodPut, "/api/clients/"+cl.ID, map[string]any{"status": "warning"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.ClientWarning, decode[envelope[models.Client]](t, w).Data.Status)

	f.addService(t, "iis", func(s *models.Service) { s.ClientID = cl.ID })
	f.addService(t, "other", nil)

	w = f.do(t, f.control, http.MethodGet, "/api/clients/"+cl.ID+"/services", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[envelope[[]models.Service]](t, w).Data, 1)

	w = f.do(t, f.control, http.MethodGet, "/api/clients/"+cl.ID+"/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":[]}`, w.Body.String())

	w = f.do(t, f.control, http.MethodDelete, "/api/clients/"+cl.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.srv.Registry.Len())

	w = f.do(t, f.control, http.MethodGet, "/api/clients/"+cl.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGenericIngest(t *testing.T) {
	f := newFixture(t, false)
	w := f.do(t, f.control, http.MethodPost, "/api/monitoring/data", map[string]any{"client_id": "c1", "source": "n8n", "temp": 41})
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, f.control, http.MethodGet, "/api/monitoring/data/latest", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rows := decode[envelope[[]models.MonitoringData]](t, w).Data
	require.Len(t, rows, 1)
	assert.Equal(t, "c1", rows[0].ClientID)
	assert.Equal(t, "n8n", rows[0].Source)
	assert.EqualValues(t, 41, rows[0].Payload["temp"])
	assert.NotContains(t, rows[0].Payload, "client_id")
}

func TestSweepOffline(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, f.store.SaveClient(ctx, &models.Client{ID: "stale", Name: "stale", Status: models.ClientOnline, LastSeen: now.Add(-10 * time.Minute)}))
	require.NoError(t, f.store.SaveClient(ctx, &models.Client{ID: "fresh", Name: "fresh", Status: models.ClientOnline, LastSeen: now}))
	require.NoError(t, f.store.SaveClient(ctx, &models.Client{ID: "local", Name: "local", Status: models.ClientOnline}))

	assert.Equal(t, 1, f.srv.SweepOffline(ctx, time.Minute))

	for id, want := range map[string]models.ClientStatus{"stale": models.ClientOffline, "fresh": models.ClientOnline, "local": models.ClientOnline} {
		cl, err := f.store.GetClient(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, cl.Status, id)
	}
}

// ── Alerts & stream ───────────────────────────────────────────────────────────

func TestAlertsDismiss(t *testing.T) {
	f := newFixture(t, false)
	a := f.srv.Alerts.Push(models.AlertInfo, "hello", "world")

	w := f.do(t, f.control, http.MethodGet, "/api/monitoring/alerts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[envelope[[]models.Alert]](t, w).Data, 1)

	w = f.do(t, f.control, http.MethodDelete, "/api/monitoring/alerts/"+a.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, f.control, http.MethodDelete, "/api/monitoring/alerts/"+a.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, f.control, http.MethodGet, "/api/monitoring/alerts", nil)
	assert.JSONEq(t, `{"data":[]}`, w.Body.String())
}

func TestStreamForwardsEvents(t *testing.T) {
	f := newFixture(t, false)
	f.addService(t, "spooler", nil)
	ts := httptest.NewServer(f.control)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/monitoring/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first struct {
		Type string `json:"type"`
		Data struct {
			Services []models.Service `json:"services"`
		} `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "snapshot", first.Type)
	assert.Len(t, first.Data.Services, 1)

	f.srv.Alerts.Push(models.AlertWarning, "disk", "almost full")

	var ev struct {
		Type string       `json:"type"`
		Data models.Alert `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, feed.KindAlert, ev.Type)
	assert.Equal(t, "disk", ev.Data.Title)
}
