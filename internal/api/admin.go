package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-emergency-alerts/internal/models"
)

func (h *Handler) adminPortal(c *gin.Context) {
	s, ok := h.storeFor(c)
	if !ok {
		return
	}
	snap := s.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"loading":   snap.Loading,
		"stats":     toStatsJSON(snap.Stats()),
		"emergency": h.emergency(),
	})
}

func (h *Handler) adminAlerts(c *gin.Context) {
	s, ok := h.storeFor(c)
	if !ok {
		return
	}
	snap := s.Snapshot()
	b := snap.Buckets()
	c.JSON(http.StatusOK, gin.H{
		"loading":      snap.Loading,
		"active":       toAlertsJSON(b.Active),
		"acknowledged": toAlertsJSON(b.Acknowledged),
		"resolved":     toAlertsJSON(b.Resolved),
	})
}

func (h *Handler) acknowledgeAlert(c *gin.Context) {
	s, ok := h.storeFor(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if err := s.AcknowledgeAlert(c.Request.Context(), id); err != nil {
		respondError(c, err, "failed to acknowledge alert")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": models.AlertStatusAcknowledged})
}

func (h *Handler) resolveAlert(c *gin.Context) {
	s, ok := h.storeFor(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if err := s.ResolveAlert(c.Request.Context(), id); err != nil {
		respondError(c, err, "failed to resolve alert")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": models.AlertStatusResolved})
}

func (h *Handler) adminClients(c *gin.Context) {
	s, ok := h.storeFor(c)
	if !ok {
		return
	}
	snap := s.Snapshot()
	views := snap.ClientViews()
	clients := make([]clientJSON, 0, len(views))
	for _, v := range views {
		clients = append(clients, toClientJSON(v.Client, v.ActiveAlerts))
	}
	c.JSON(http.StatusOK, gin.H{
		"loading": snap.Loading,
		"clients": clients,
		"stats":   toStatsJSON(snap.Stats()),
	})
}

type addClientRequest struct {
	Name             string `json:"name"`
	Phone            string `json:"phone"`
	Email            string `json:"email"`
	Address          string `json:"address"`
	EmergencyContact string `json:"emergency_contact"`
}

func (h *Handler) addClient(c *gin.Context) {
	s, ok := h.storeFor(c)
	if !ok {
		return
	}

	var req addClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	client := &models.Client{
		Name:             req.Name,
		Phone:            req.Phone,
		Email:            req.Email,
		Address:          req.Address,
		EmergencyContact: req.EmergencyContact,
	}
	if err := s.AddClient(c.Request.Context(), client); err != nil {
		respondError(c, err, "failed to add client")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"client": toClientJSON(*client, 0)})
}

func (h *Handler) adminMap(c *gin.Context) {
	s, ok := h.storeFor(c)
	if !ok {
		return
	}
	snap := s.Snapshot()
	fc := toGeoJSON(
		clientFeatures(snap.ClientViews()),
		alertFeatures(snap.Buckets().Active),
	)
	c.Header("Content-Type", "application/geo+json")
	c.JSON(http.StatusOK, fc)
}
