package api

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"otabridge/internal/amendments"
	"otabridge/internal/bus"
	"otabridge/internal/cache"
	"otabridge/internal/config"
	"otabridge/internal/database"
	"otabridge/internal/handlers"
	"otabridge/internal/inbound"
	"otabridge/internal/messaging"
	"otabridge/internal/metrics"
	"otabridge/internal/middleware"
	"otabridge/internal/monitoring"
	"otabridge/internal/payload"
	"otabridge/internal/reconcile"
	"otabridge/internal/repository"
	"otabridge/internal/retention"
	"otabridge/internal/search"
)

// Server is the webhook + admin HTTP surface. It also runs the bus
// publisher side; dispatch workers live in their own process.
type Server struct {
	router     *gin.Engine
	config     *config.Config
	db         *database.DB
	nats       *messaging.NATSClient
	redis      *cache.Client
	repos      *repository.Repositories
	bus        *bus.Bus
	retention  *retention.Service
	monitoring *monitoring.Service
	httpServer *http.Server
}

func NewServer(cfg *config.Config) *Server {
	gin.SetMode(cfg.GinMode)

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := db.RunMigrations(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	natsClient, err := messaging.NewNATSClient(cfg.NATS)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}

	redisClient, err := cache.NewClient(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}

	var index *search.PayloadIndex
	if cfg.Elasticsearch.Enabled {
		index, err = search.NewPayloadIndex(cfg.Elasticsearch)
		if err != nil {
			// the archive works without the secondary index
			slog.Warn("Elasticsearch unavailable, full-text search degraded", "error", err)
			index = nil
		}
	}

	m := metrics.NewDefault()
	repos := repository.NewRepositories(db)

	store, err := payload.NewStore(payload.Config{TruncateBytes: cfg.Payloads.TruncateBytes}, repos.Payloads, index, m)
	if err != nil {
		log.Fatalf("Failed to create payload store: %v", err)
	}

	eventBus := bus.New(bus.Config{
		Partitions:      cfg.Bus.Partitions,
		MaxAttempts:     cfg.Bus.MaxAttempts,
		HighWaterMark:   cfg.Bus.HighWaterMark,
		PollInterval:    cfg.Bus.PollInterval,
		DefaultDeadline: cfg.Bus.DefaultDeadline,
	}, repos.Bus, repos.DeadLetters, natsClient, m)

	snapshots := amendments.NewPayloadSnapshotReader(repos.Payloads, store)
	amendmentEngine := amendments.New(cfg.Amendments, repos.Amendments, repos.Transitions, snapshots, eventBus, m)
	pipeline := inbound.New(cfg.Inbound, store, repos.Channels, redisClient, eventBus, amendmentEngine, m)
	reconciler := reconcile.New(cfg.Retention, repos.Payloads, store, snapshots)
	retentionSvc := retention.New(cfg.Retention, repos.Payloads, repos.DeadLetters, amendmentEngine, m)
	monitor := monitoring.New(repos.Bus, repos.Amendments, repos.Payloads, redisClient, m)

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.Logger())

	server := &Server{
		router:     router,
		config:     cfg,
		db:         db,
		nats:       natsClient,
		redis:      redisClient,
		repos:      repos,
		bus:        eventBus,
		retention:  retentionSvc,
		monitoring: monitor,
	}

	h := handlers.NewHandlers(pipeline, store, amendmentEngine, reconciler, retentionSvc, monitor,
		repos.Transitions, repos.DeadLetters, index, eventBus, cfg.Inbound.MaxBodyBytes)
	server.setupRoutes(h)

	return server
}

func (s *Server) setupRoutes(h *handlers.Handlers) {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// channel deliveries authenticate with HMAC signatures, not tokens
	s.router.POST("/webhooks/channels/:channelId", h.ReceiveWebhook)

	admin := s.router.Group("/api/admin")
	admin.Use(middleware.JWTAuth(s.config.Auth.JWTSecret))
	admin.Use(middleware.RequireRole(middleware.RoleOps))
	{
		payloads := admin.Group("/payloads")
		{
			payloads.GET("", h.QueryPayloads)
			payloads.GET("/:id", h.GetPayload)
			payloads.GET("/:id/audit", h.AuditPayload)
		}

		amendmentRoutes := admin.Group("/amendments")
		{
			amendmentRoutes.GET("", h.ListAmendments)
			amendmentRoutes.POST("/bulk", h.BulkDecideAmendments)
			amendmentRoutes.GET("/:id", h.GetAmendment)
			amendmentRoutes.POST("/:id/approve", h.ApproveAmendment)
			amendmentRoutes.POST("/:id/reject", h.RejectAmendment)
		}

		bookings := admin.Group("/bookings")
		{
			bookings.POST("/:id/status", h.ChangeBookingStatus)
			bookings.GET("/:id/transitions", h.ListBookingTransitions)
		}

		admin.GET("/reconcile/:bookingId", h.ReconcileBooking)
		admin.GET("/compliance", h.GetComplianceReport)
		admin.GET("/export", h.ExportAudit)
		admin.GET("/dead-letters", h.ListDeadLetters)
		admin.GET("/monitoring/status", h.GetMonitoringStatus)
		admin.GET("/retention/stats", h.GetRetentionStats)

		admin.POST("/retention/cleanup", middleware.RequireRole(middleware.RoleAdmin), h.TriggerRetentionCleanup)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if hc := s.db.HealthCheck(ctx); hc.Error != "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": hc.Error})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Router exposes the gin engine for tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start runs the HTTP listener and the background services
func (s *Server) Start(ctx context.Context) error {
	if err := s.bus.Start(ctx); err != nil {
		return fmt.Errorf("failed to start bus: %w", err)
	}
	s.retention.Start(ctx)
	s.monitoring.Watch(ctx, 30*time.Second)

	s.httpServer = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      s.router,
		ReadTimeout:  s.config.RequestTimeout,
		WriteTimeout: s.config.RequestTimeout,
	}

	slog.Info("API server listening", "port", s.config.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the listener, then the background services
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}

	s.bus.Stop(10 * time.Second)
	s.retention.Stop()

	if err := s.nats.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.redis.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
