package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/vesaa/healdash/internal/feed"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPingPeriod = 30 * time.Second
)

// snapshot is the first frame on a new stream so the UI can render at once.
type snapshot struct {
	Services  any `json:"services"`
	Logs      any `json:"logs"`
	Workflows any `json:"workflows"`
	Alerts    any `json:"alerts"`
}

// handleStream upgrades to a WebSocket and forwards every feed event as JSON.
//
//	GET /api/monitoring/stream   (WebSocket; ?token=<jwt> when auth is on)
func (s *Server) handleStream(c *gin.Context) {
	if s.Hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live feed disabled"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "component", "api", "error", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := s.Hub.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Handle WebSocket close messages
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	first := feed.Event{
		Kind: "snapshot",
		Data: snapshot{
			Services:  s.Registry.GetAll(),
			Logs:      s.Logs.List(defaultLogLimit),
			Workflows: s.History.List(defaultWorkflowLimit),
			Alerts:    s.Alerts.List(),
		},
		At: time.Now().UTC(),
	}
	if err := writeJSON(conn, first); err != nil {
		return
	}

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeJSON(conn, ev); err != nil {
				slog.Debug("stream closed", "component", "api", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(v)
}
