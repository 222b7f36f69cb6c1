package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mr1hm/go-emergency-alerts/internal/auth"
	"github.com/mr1hm/go-emergency-alerts/internal/geo"
	"github.com/mr1hm/go-emergency-alerts/internal/models"
	"github.com/mr1hm/go-emergency-alerts/internal/repository"
	"github.com/mr1hm/go-emergency-alerts/internal/session"
	"github.com/mr1hm/go-emergency-alerts/internal/store"
)

type ReadyCheck func(ctx context.Context) error

// IPLocator estimates a position from a caller's address.
type IPLocator interface {
	For(ip string) geo.Locator
}

type Options struct {
	Registry        *session.Registry
	Issuer          *auth.Issuer
	Hub             *Hub
	Fixes           *geo.FixCache
	IPLocator       IPLocator // optional
	EmergencyNumber string
	ReadyChecks     map[string]ReadyCheck
}

type Handler struct {
	registry        *session.Registry
	issuer          *auth.Issuer
	hub             *Hub
	fixes           *geo.FixCache
	ipLocator       IPLocator
	emergencyNumber string
	checks          map[string]ReadyCheck
}

func NewHandler(opts Options) *Handler {
	fixes := opts.Fixes
	if fixes == nil {
		fixes = geo.NewFixCache(geo.DefaultOptions().MaximumAge)
	}
	hub := opts.Hub
	if hub == nil {
		hub = NewHub()
	}
	return &Handler{
		registry:        opts.Registry,
		issuer:          opts.Issuer,
		hub:             hub,
		fixes:           fixes,
		ipLocator:       opts.IPLocator,
		emergencyNumber: opts.EmergencyNumber,
		checks:          opts.ReadyChecks,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)
	r.GET("/readyz", h.readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := r.Group("/")
	authed.Use(auth.Middleware(h.issuer))

	admin := authed.Group("/admin")
	admin.Use(auth.RequireRole(auth.RoleAdmin))
	admin.GET("", h.adminPortal)
	admin.GET("/alerts", h.adminAlerts)
	admin.POST("/alerts/:id/acknowledge", h.acknowledgeAlert)
	admin.POST("/alerts/:id/resolve", h.resolveAlert)
	admin.GET("/clients", h.adminClients)
	admin.POST("/clients", h.addClient)
	admin.GET("/map", h.adminMap)

	client := authed.Group("/client")
	client.Use(auth.RequireRole(auth.RoleClient))
	client.GET("", h.clientPortal)
	client.POST("/alerts", h.createAlert)
	client.POST("/location", h.refreshLocation)
	client.GET("/map", h.clientMap)

	authed.POST("/session/refresh", h.refreshSession)
	authed.DELETE("/session", h.endSession)
	authed.GET("/ws", h.serveWS)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
		} else {
			checks[name] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status": map[bool]string{true: "ready", false: "not ready"}[healthy],
		"checks": checks,
	})
}

// storeFor returns the caller's store, starting it on first use.
func (h *Handler) storeFor(c *gin.Context) (*store.Store, bool) {
	id, ok := auth.FromContext(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return nil, false
	}
	return h.registry.Get(c.Request.Context(), id), true
}

func (h *Handler) refreshSession(c *gin.Context) {
	s, ok := h.storeFor(c)
	if !ok {
		return
	}
	if err := s.Refresh(c.Request.Context()); err != nil {
		respondError(c, err, "failed to refresh data")
		return
	}
	snap := s.Snapshot()
	c.JSON(http.StatusOK, gin.H{"loading": snap.Loading, "version": snap.Version})
}

func (h *Handler) endSession(c *gin.Context) {
	id, _ := auth.FromContext(c)
	h.registry.Remove(id)
	c.Status(http.StatusNoContent)
}

func (h *Handler) serveWS(c *gin.Context) {
	s, ok := h.storeFor(c)
	if !ok {
		return
	}
	h.hub.Serve(c, s)
}

// respondError maps domain errors to status codes. Unexpected failures get
// the generic message so backend details stay in the logs.
func respondError(c *gin.Context, err error, generic string) {
	status := http.StatusInternalServerError
	msg := generic

	switch {
	case errors.Is(err, store.ErrNotAuthenticated), errors.Is(err, auth.ErrInvalidToken):
		status = http.StatusUnauthorized
	case errors.Is(err, store.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, models.ErrInvalidAlertType), errors.Is(err, models.ErrIncompleteClient):
		status = http.StatusBadRequest
	case errors.Is(err, geo.ErrUnavailable):
		status = http.StatusUnprocessableEntity
		msg = geo.UnavailableMessage
	}
	if status != http.StatusInternalServerError && status != http.StatusUnprocessableEntity {
		msg = err.Error()
	}
	c.JSON(status, gin.H{"error": msg})
}
