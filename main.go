package main

import (
	"context"
	"database/sql"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fenilmodi00/giftlist-backend/config"
	"github.com/fenilmodi00/giftlist-backend/database"
	"github.com/fenilmodi00/giftlist-backend/handlers"
	"github.com/fenilmodi00/giftlist-backend/jobs"
	"github.com/fenilmodi00/giftlist-backend/services"
	"github.com/fenilmodi00/giftlist-backend/sessions"
	"github.com/fenilmodi00/giftlist-backend/shared"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load config
	cfg := config.LoadConfig()
	shared.ConfigureLogging(cfg.GetLoggingConfig())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Record and resource stores: Postgres when configured, memory otherwise
	var (
		db            *sql.DB
		backend       services.GiftBackend
		resourceStore services.ResourceStore
		giftMetrics   *shared.ServiceMetrics
	)
	if cfg.DatabaseURL != "" {
		dbConfig := cfg.GetDatabaseConfig()
		if err := database.ConnectWithConfig(cfg.DatabaseURL, &dbConfig); err != nil {
			logrus.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()
		db = database.DB

		if err := database.Migrate(db, "database/schema.sql"); err != nil {
			logrus.Warnf("Migration warning: %v", err)
		}

		giftService := services.NewGiftService(db)
		giftMetrics = giftService.GetServiceMetrics()
		backend = giftService
		resourceStore = services.NewPostgresResourceStore(db)
	} else {
		logrus.Warn("DATABASE_URL not set, keeping records and caches in memory")
		backend = services.NewMemoryGiftStore()
		resourceStore = services.NewMemoryResourceStore()
	}

	coordinatorConfig := cfg.GetCoordinatorConfig()
	syncConfig := cfg.GetSyncConfig()

	var fetcher services.ResourceFetcher
	if cfg.AssetOrigin != "" {
		factory := shared.NewHTTPClientFactory(syncConfig.FetchTimeout)
		defer factory.CleanupAllClients()
		fetcher = services.NewHTTPResourceFetcher(cfg.AssetOrigin, factory, syncConfig.FetchTimeout)
	} else {
		fetcher = services.NewDirResourceFetcher(cfg.AssetDir)
	}

	// Session hub and update coordinator reference each other
	hub := sessions.NewHub(nil)
	coordinator := services.NewUpdateCoordinator(resourceStore, fetcher, hub, coordinatorConfig)
	hub.SetHandler(coordinator)
	if err := hub.Start(":" + cfg.SessionPort); err != nil {
		logrus.Fatalf("Session hub failed to start: %v", err)
	}
	defer hub.Stop()

	installInitialGeneration(ctx, coordinator, fetcher, coordinatorConfig)

	// Background jobs
	if cfg.ManifestPath != "" {
		watcher, err := jobs.NewManifestWatcher(cfg.ManifestPath, coordinator, coordinatorConfig.Resources)
		if err != nil {
			logrus.Errorf("Manifest watcher unavailable: %v", err)
		} else if err := watcher.Start(ctx); err != nil {
			logrus.Errorf("Manifest watcher failed to start: %v", err)
		} else {
			defer watcher.Stop()
		}
	}
	jobs.NewCacheCleanupJob(coordinator, 12*time.Hour).Start(ctx)

	// Initialize handlers
	recordHandler := handlers.NewRecordHandler(backend)
	workerHandler := handlers.NewWorkerHandler(coordinator)
	cacheHandler := handlers.NewCacheHandler(coordinator, resourceStore)
	adminHandler := handlers.NewAdminHandler(coordinator, fetcher, coordinatorConfig)
	performanceHandler := handlers.NewPerformanceHandler(db, backend, giftMetrics)

	// Setup Fiber
	app := fiber.New()

	// Middleware
	app.Use(logger.New())
	app.Use(cors.New())

	// Health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		status := fiber.Map{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
			"sessions":  hub.SessionCount(),
		}
		if db != nil {
			if err := database.HealthCheck(c.Context()); err != nil {
				status["status"] = "degraded"
				status["database"] = err.Error()
				return c.Status(fiber.StatusServiceUnavailable).JSON(status)
			}
			status["database"] = "ok"
		}
		return c.JSON(status)
	})

	// Record store RPC
	app.Get("/exec", recordHandler.Exec)
	app.Post("/exec", recordHandler.Exec)

	// Page resources through the offline cache
	app.Get("/app/*", workerHandler.Serve)

	// Routes
	api := app.Group("/api/v1")

	// Worker Routes
	api.Get("/sw/status", cacheHandler.GetStatus)
	api.Get("/sw/caches/:cache_id", cacheHandler.GetEntries)
	api.Post("/sw/message", workerHandler.Message)

	// Admin Routes
	admin := api.Group("/admin")
	// TODO: Add auth middleware
	admin.Post("/generations", adminHandler.InstallGeneration)
	admin.Post("/generations/skip-waiting", adminHandler.SkipWaiting)
	admin.Post("/caches/clear", adminHandler.ClearCaches)
	admin.Post("/caches/prune", adminHandler.PruneCaches)

	// Performance Routes
	api.Get("/performance/metrics", performanceHandler.GetPerformanceMetrics)

	go func() {
		<-ctx.Done()
		logrus.Info("Shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logrus.Errorf("Server shutdown failed: %v", err)
		}
	}()

	// Start server
	logrus.Infof("Server starting on port %s (sessions on %s)", cfg.ServerPort, cfg.SessionPort)
	if err := app.Listen(":" + cfg.ServerPort); err != nil {
		logrus.Fatalf("Server failed to start: %v", err)
	}

	if giftMetrics != nil {
		giftMetrics.LogSummary()
	}
}

// installInitialGeneration installs the configured generation, adding the
// entry document's local references when it can be read
func installInitialGeneration(ctx context.Context, coordinator *services.UpdateCoordinator, fetcher services.ResourceFetcher, cfg *config.CoordinatorConfig) {
	spec := services.NewGenerationSpec(cfg)

	entry, err := fetcher.Fetch(ctx, cfg.EntryDocument)
	if err == nil && entry.StatusCode == http.StatusOK {
		if resources, err := services.DiscoverResources(entry.Body, spec.Resources); err == nil {
			spec.Resources = resources
		}
	}

	gen, err := coordinator.Install(ctx, spec)
	if err != nil {
		logrus.WithError(err).WithField("version", spec.Version).Error("Initial generation not installed")
		return
	}
	logrus.WithFields(logrus.Fields{
		"version":   gen.Version,
		"state":     gen.State,
		"resources": len(gen.Resources),
	}).Info("Initial generation installed")
}
