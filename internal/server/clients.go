package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vesaa/healdash/internal/models"
	"github.com/vesaa/healdash/internal/store"
)

const clientMetricsLimit = 100

type clientBody struct {
	Name               *string                    `json:"name"`
	IPAddress          *string                    `json:"ip_address"`
	OperatingSystem    *string                    `json:"operating_system"`
	MonitoringTemplate *models.MonitoringTemplate `json:"monitoring_template"`
	Status             *models.ClientStatus       `json:"status"`
}

func (b clientBody) apply(c *models.Client) error {
	if b.Name != nil {
		c.Name = *b.Name
	}
	if b.IPAddress != nil {
		c.IPAddress = *b.IPAddress
	}
	if b.OperatingSystem != nil {
		c.OperatingSystem = *b.OperatingSystem
	}
	if b.MonitoringTemplate != nil {
		c.MonitoringTemplate = *b.MonitoringTemplate
	}
	if b.Status != nil {
		switch *b.Status {
		case models.ClientOnline, models.ClientOffline, models.ClientWarning:
			c.Status = *b.Status
		default:
			return errors.New("status must be one of online, offline, warning")
		}
	}
	if c.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

// handleListClients returns every client, newest first.
func (s *Server) handleListClients(c *gin.Context) {
	clients, err := s.Store.ListClients(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if clients == nil {
		clients = []models.Client{}
	}
	c.JSON(http.StatusOK, gin.H{"data": clients})
}

func (s *Server) handleGetClient(c *gin.Context) {
	cl, err := s.Store.GetClient(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": cl})
}

func (s *Server) handleCreateClient(c *gin.Context) {
	var body clientBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	now := time.Now().UTC()
	cl := models.Client{
		ID:                 uuid.NewString(),
		MonitoringTemplate: models.DefaultTemplate(),
		Status:             models.ClientOffline,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := body.apply(&cl); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.Store.SaveClient(c.Request.Context(), &cl); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": cl})
}

func (s *Server) handleUpdateClient(c *gin.Context) {
	ctx := c.Request.Context()
	cl, err := s.Store.GetClient(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	var body clientBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	if err := body.apply(cl); err != nil {
		badRequest(c, err)
		return
	}
	cl.UpdatedAt = time.Now().UTC()
	if err := s.Store.SaveClient(ctx, cl); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": cl})
}

// handleDeleteClient removes the client and every service registered under it.
func (s *Server) handleDeleteClient(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if err := s.Store.DeleteClient(ctx, id); err != nil {
		respondError(c, err)
		return
	}
	removed := 0
	for _, svc := range s.Registry.ByClient(id) {
		if s.Registry.Remove(ctx, svc.ID) {
			removed++
		}
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id, "services_removed": removed})
}

func (s *Server) handleClientServices(c *gin.Context) {
	services := s.Registry.ByClient(c.Param("id"))
	if services == nil {
		services = []models.Service{}
	}
	c.JSON(http.StatusOK, gin.H{"data": services})
}

// handleClientMetrics returns the latest host samples for a client.
func (s *Server) handleClientMetrics(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := s.Store.GetClient(ctx, id); err != nil {
		respondError(c, err)
		return
	}
	rows, err := s.Store.ListSystemMetrics(ctx, id, clientMetricsLimit)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		respondError(c, err)
		return
	}
	if rows == nil {
		rows = []models.SystemMetrics{}
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}
