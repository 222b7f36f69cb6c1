package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/mr1hm/go-emergency-alerts/internal/api"
	"github.com/mr1hm/go-emergency-alerts/internal/auth"
	"github.com/mr1hm/go-emergency-alerts/internal/config"
	"github.com/mr1hm/go-emergency-alerts/internal/geo"
	"github.com/mr1hm/go-emergency-alerts/internal/logging"
	"github.com/mr1hm/go-emergency-alerts/internal/models"
	"github.com/mr1hm/go-emergency-alerts/internal/realtime"
	"github.com/mr1hm/go-emergency-alerts/internal/repository"
	"github.com/mr1hm/go-emergency-alerts/internal/session"
	"github.com/mr1hm/go-emergency-alerts/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.File)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port, "db", cfg.DB.Driver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := repository.Open(ctx, cfg.DB.Driver, cfg.DB.Path, cfg.DB.DSN, cfg.DB.MaxConns)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	checks := map[string]api.ReadyCheck{
		"database": db.Ping,
	}

	// Change feed: in-process, optionally bridged to other instances
	broadcaster := realtime.NewBroadcaster(cfg.Realtime.BufferSize)
	var publisher realtime.Publisher = broadcaster
	var bridge *realtime.NATSBridge
	if cfg.Realtime.NATSURL != "" {
		bridge, err = realtime.NewNATSBridge(cfg.Realtime.NATSURL, cfg.Realtime.Subject, broadcaster)
		if err != nil {
			logging.Fatalf("Failed to connect change feed: %v", err)
		}
		publisher = bridge
		checks["nats"] = func(context.Context) error { return bridge.Ping() }
	}
	backend := repository.NewNotifier(db, publisher)

	resolver := geo.NewResolver(geo.Options{
		HighAccuracy: cfg.Geo.HighAccuracy,
		Timeout:      cfg.Geo.Timeout,
		MaximumAge:   cfg.Geo.MaxAge,
	}, models.Location{Latitude: cfg.Geo.DefaultLat, Longitude: cfg.Geo.DefaultLng})

	var ipLocator api.IPLocator
	if cfg.Geo.GeoIPPath != "" {
		g, err := geo.OpenGeoIP(cfg.Geo.GeoIPPath)
		if err != nil {
			logging.Fatalf("Failed to open GeoIP database: %v", err)
		}
		defer g.Close()
		ipLocator = g
	}

	issuer, err := auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		logging.Fatalf("Failed to create token issuer: %v", err)
	}

	registry, err := session.NewRegistry(cfg.Sessions.Max, func(id auth.Identity) *store.Store {
		return store.New(id, backend, broadcaster, resolver, cfg.Sessions.WorkerBufferSize)
	})
	if err != nil {
		logging.Fatalf("Failed to create session registry: %v", err)
	}

	hub := api.NewHub()

	// Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Location"},
		AllowCredentials: false, // Set to false when using wildcard origins
	}))
	router.Use(api.LoggingMiddleware())
	router.Use(api.RateLimitMiddleware(cfg.Server.RateLimitRPS))

	handler := api.NewHandler(api.Options{
		Registry:        registry,
		Issuer:          issuer,
		Hub:             hub,
		Fixes:           geo.NewFixCache(cfg.Geo.MaxAge),
		IPLocator:       ipLocator,
		EmergencyNumber: cfg.App.EmergencyNumber,
		ReadyChecks:     checks,
	})
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	cancel()
	hub.Close()      // websocket pumps
	registry.Close() // session stores and their subscriptions
	if bridge != nil {
		bridge.Close()
	}
	broadcaster.Close()

	slog.Info("shutdown complete")
}
