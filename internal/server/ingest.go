package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vesaa/healdash/internal/feed"
	"github.com/vesaa/healdash/internal/models"
	"github.com/vesaa/healdash/internal/store"
)

const latestDataLimit = 100

// UpsertClient finds the client reporting from r.IP or registers a new one,
// then marks it online. Hostname and OS follow the latest report.
func (s *Server) UpsertClient(ctx context.Context, r models.AgentReport) (*models.Client, error) {
	now := time.Now().UTC()
	cl, err := s.Store.FindClientByIP(ctx, r.IP)
	switch {
	case errors.Is(err, store.ErrNotFound):
		name := r.Hostname
		if name == "" {
			name = r.IP
		}
		cl = &models.Client{
			ID:                 uuid.NewString(),
			Name:               name,
			IPAddress:          r.IP,
			OperatingSystem:    r.OS,
			MonitoringTemplate: models.DefaultTemplate(),
			CreatedAt:          now,
		}
		slog.Info("registered agent", "component", "db", "client_id", cl.ID, "ip", r.IP, "hostname", r.Hostname)
	case err != nil:
		return nil, fmt.Errorf("looking up client %s: %w", r.IP, err)
	default:
		if r.Hostname != "" {
			cl.Name = r.Hostname
		}
		if r.OS != "" {
			cl.OperatingSystem = r.OS
		}
	}
	cl.Status = models.ClientOnline
	cl.LastSeen = now
	cl.UpdatedAt = now
	if err := s.Store.SaveClient(ctx, cl); err != nil {
		return nil, fmt.Errorf("saving client %s: %w", r.IP, err)
	}
	return cl, nil
}

// handleAgentReport accepts a host report from an agent (data-plane only).
func (s *Server) handleAgentReport(c *gin.Context) {
	var report models.AgentReport
	if err := c.ShouldBindJSON(&report); err != nil {
		badRequest(c, err)
		return
	}
	for i := range report.Drives {
		d := &report.Drives[i]
		d.SetUsed(d.Used)
	}
	ctx := c.Request.Context()

	cl, err := s.UpsertClient(ctx, report)
	if err != nil {
		respondError(c, err)
		return
	}

	m := report.SystemMetrics(cl.ID)
	m.ID = uuid.NewString()
	if err := s.Store.InsertSystemMetrics(ctx, &m); err != nil {
		respondError(c, err)
		return
	}
	doc := models.MonitoringData{
		ID:       uuid.NewString(),
		ClientID: cl.ID,
		Source:   "agent",
		Payload: map[string]any{
			"hostname":        report.Hostname,
			"agent_version":   report.AgentVersion,
			"tcp_connections": report.TCPConnections,
			"udp_connections": report.UDPConnections,
		},
		Timestamp: m.Timestamp,
	}
	if err := s.Store.InsertMonitoringData(ctx, &doc); err != nil {
		slog.Warn("agent document not stored", "component", "db", "client_id", cl.ID, "error", err)
	}
	s.export(ctx, m)
	s.publish(feed.KindMetrics, m)

	c.JSON(http.StatusOK, gin.H{"ok": true, "client_id": cl.ID})
}

// handleIngestData stores a free-form telemetry document.
//
//	POST /api/monitoring/data
//	Body: any JSON object; "client_id" and "source" are lifted out when present.
func (s *Server) handleIngestData(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	doc := models.MonitoringData{
		ID:        uuid.NewString(),
		Source:    "api",
		Timestamp: time.Now().UTC(),
	}
	if v, ok := body["client_id"].(string); ok {
		doc.ClientID = v
		delete(body, "client_id")
	}
	if v, ok := body["source"].(string); ok && v != "" {
		doc.Source = v
		delete(body, "source")
	}
	doc.Payload = body
	if err := s.Store.InsertMonitoringData(c.Request.Context(), &doc); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "id": doc.ID})
}

func (s *Server) handleLatestData(c *gin.Context) {
	rows, err := s.Store.LatestMonitoringData(c.Request.Context(), latestDataLimit)
	if err != nil {
		respondError(c, err)
		return
	}
	if rows == nil {
		rows = []models.MonitoringData{}
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

func (s *Server) export(ctx context.Context, m models.SystemMetrics) {
	if s.Exporter == nil {
		return
	}
	if err := s.Exporter.WriteSystemMetrics(ctx, m); err != nil {
		slog.Warn("export failed", "component", "db", "client_id", m.ClientID, "error", err)
	}
}

func (s *Server) publish(kind string, data any) {
	if s.Hub != nil {
		s.Hub.Publish(kind, data)
	}
}

// ── Offline sweeper ───────────────────────────────────────────────────────────

// SweepOffline flips online clients whose agent has not reported within
// staleAfter to offline and returns how many changed. Clients that never had
// an agent (zero LastSeen) are left alone.
func (s *Server) SweepOffline(ctx context.Context, staleAfter time.Duration) int {
	clients, err := s.Store.ListClients(ctx)
	if err != nil {
		slog.Warn("sweeper: listing clients failed", "component", "db", "error", err)
		return 0
	}
	now := time.Now().UTC()
	n := 0
	for i := range clients {
		cl := &clients[i]
		if cl.Status == models.ClientOffline || cl.LastSeen.IsZero() || now.Sub(cl.LastSeen) < staleAfter {
			continue
		}
		cl.Status = models.ClientOffline
		cl.UpdatedAt = now
		if err := s.Store.SaveClient(ctx, cl); err != nil {
			slog.Warn("sweeper: saving client failed", "component", "db", "client_id", cl.ID, "error", err)
			continue
		}
		slog.Info("client went offline", "component", "db", "client_id", cl.ID, "last_seen", cl.LastSeen)
		n++
	}
	return n
}

// RunSweeper calls SweepOffline every interval until ctx is done.
func (s *Server) RunSweeper(ctx context.Context, interval, staleAfter time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOffline(ctx, staleAfter)
		}
	}
}
