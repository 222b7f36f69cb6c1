package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-emergency-alerts/internal/auth"
	"github.com/mr1hm/go-emergency-alerts/internal/geo"
	"github.com/mr1hm/go-emergency-alerts/internal/models"
	"github.com/mr1hm/go-emergency-alerts/internal/store"
)

// deviceFix is the browser's geolocation result, if it produced one.
type deviceFix struct {
	Latitude  *float64   `json:"latitude"`
	Longitude *float64   `json:"longitude"`
	Accuracy  float64    `json:"accuracy"`
	Timestamp *time.Time `json:"timestamp"`
}

func (d *deviceFix) fix() *geo.Fix {
	if d == nil || d.Latitude == nil || d.Longitude == nil {
		return nil
	}
	f := &geo.Fix{
		Location:  models.Location{Latitude: *d.Latitude, Longitude: *d.Longitude},
		Accuracy:  d.Accuracy,
		Timestamp: time.Now(),
	}
	if d.Timestamp != nil {
		f.Timestamp = *d.Timestamp
	}
	return f
}

// deviceLocator tries the device fix, then the client's last good fix.
func (h *Handler) deviceLocator(clientID string, dev *deviceFix) geo.Chain {
	return geo.Chain{
		h.fixes.Remember(clientID, geo.Device(dev.fix())),
		h.fixes.For(clientID),
	}
}

// alertLocator extends deviceLocator with the caller's IP address, since an
// alert must go out with the best position available.
func (h *Handler) alertLocator(c *gin.Context, clientID string, dev *deviceFix) geo.Locator {
	chain := h.deviceLocator(clientID, dev)
	if h.ipLocator != nil {
		chain = append(chain, h.ipLocator.For(c.ClientIP()))
	}
	return chain
}

func (h *Handler) clientPortal(c *gin.Context) {
	s, ok := h.storeFor(c)
	if !ok {
		return
	}
	snap := s.Snapshot()

	var client *clientJSON
	if snap.Current != nil {
		cj := toClientJSON(*snap.Current, snap.ActiveAlertCounts()[snap.Current.ID])
		client = &cj
	}
	alerts := make([]alertJSON, 0, len(snap.Alerts))
	for _, a := range snap.Alerts {
		alerts = append(alerts, toAlertJSON(snap.AlertView(a)))
	}

	c.JSON(http.StatusOK, gin.H{
		"loading":     snap.Loading,
		"client":      client,
		"alerts":      alerts,
		"alert_types": models.AlertTypes,
		"emergency":   h.emergency(),
	})
}

type createAlertRequest struct {
	Type    string     `json:"type"`
	Message string     `json:"message"`
	Device  *deviceFix `json:"device"`
}

func (h *Handler) createAlert(c *gin.Context) {
	s, ok := h.storeFor(c)
	if !ok {
		return
	}

	var req createAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	alertType, err := models.ParseAlertType(req.Type)
	if err != nil {
		respondError(c, err, "")
		return
	}

	id, _ := auth.FromContext(c)
	alert, err := s.CreateAlert(c.Request.Context(), alertType, req.Message, h.alertLocator(c, id.Subject, req.Device))
	if err != nil {
		respondError(c, err, "failed to send alert")
		return
	}

	snap := s.Snapshot()
	c.JSON(http.StatusCreated, gin.H{
		"alert":   toAlertJSON(snap.AlertView(*alert)),
		"message": store.ConfirmationMessage(alert.Type),
	})
}

type refreshLocationRequest struct {
	Device *deviceFix `json:"device"`
}

func (h *Handler) refreshLocation(c *gin.Context) {
	s, ok := h.storeFor(c)
	if !ok {
		return
	}

	var req refreshLocationRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	id, _ := auth.FromContext(c)
	loc, err := s.RefreshLocation(c.Request.Context(), h.deviceLocator(id.Subject, req.Device))
	if err != nil {
		respondError(c, err, "failed to update location")
		return
	}
	c.JSON(http.StatusOK, gin.H{"location": toLocationJSON(&loc)})
}

func (h *Handler) clientMap(c *gin.Context) {
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
