// Package main provides the main entry point for the Kagemusha delivery automation system
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amirphl/Kagemusha/app/handlers"
	"github.com/amirphl/Kagemusha/app/router"
	"github.com/amirphl/Kagemusha/app/scheduler"
	"github.com/amirphl/Kagemusha/app/services"
	businessflow "github.com/amirphl/Kagemusha/business_flow"
	"github.com/amirphl/Kagemusha/config"
	"github.com/amirphl/Kagemusha/models"
	"github.com/amirphl/Kagemusha/repository"
	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Application represents the main application structure
type Application struct {
	router    *router.FiberRouter
	config    *config.ProductionConfig
	server    *fiber.App
	stopFuncs []func()
}

func main() {
	log.Println("Starting Kagemusha application...")

	// Load production configuration
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize application
	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	// Setup routes
	app.router.SetupRoutes()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Printf("Server starting on %s", address)

		if err := app.server.Listen(address); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Println("Shutting down gracefully...")

	// Stop background workers
	for _, fn := range app.stopFuncs {
		fn()
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB for connection pooling configuration
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pooling
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test the connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	return db, nil
}

// initializeCache initializes the Cache client and verifies connectivity
func initializeCache(cfg config.CacheConfig, password string) (*redis.Client, error) {
	if !cfg.Enabled || cfg.Provider != "redis" {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	// Override DB and password if provided in config
	opt.DB = cfg.RedisDB
	if password != "" {
		opt.Password = password
	}

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Redis connection established to %s (db=%d)", cfg.RedisURL, cfg.RedisDB)
	return rc, nil
}

// startCacheHealthMonitor starts a background goroutine that periodically pings Redis
// to detect connectivity issues. The returned cancel function stops the monitor.
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(context.Background(), 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					log.Printf("Redis healthcheck failed: %v", err)
				}
				c()
			}
		}
	}()
	return cancel
}

// initializeAdPlatformClient selects the real or mock platform client
func initializeAdPlatformClient(cfg *config.ProductionConfig) services.AdPlatformClient {
	if cfg.AdPlatform.UseMock || cfg.AdPlatform.APIDomain == "mock" {
		log.Println("Using mock ad platform client")
		return services.NewMockAdPlatformClient()
	}
	return services.NewAdPlatformClient(&cfg.AdPlatform)
}

// startMetricsServer serves Prometheus metrics on a dedicated port
func startMetricsServer(cfg config.MetricsConfig) func() {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
	}

	go func() {
		log.Printf("Metrics server starting on :%d%s", cfg.Port, cfg.Path)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Metrics server stopped: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// initializeApplication initializes the main application components
func initializeApplication(cfg *config.ProductionConfig) (*Application, error) {
	var stopFuncs []func()

	// Initialize database
	db, err := initializeDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	rc, err := initializeCache(cfg.Cache, cfg.Deployment.RedisPassword)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		cancel := startCacheHealthMonitor(context.Background(), rc, 30*time.Second)
		stopFuncs = append(stopFuncs, cancel)
	}

	// Initialize repositories
	taskRepo := repository.NewTaskRepository(db)
	deliveryRepo := repository.NewManagedDeliveryRepository(db)
	logRepo := repository.NewDeliveryLogRepository(db)
	accountRepo := repository.NewAccountRepository(db)

	// External platform client
	client := initializeAdPlatformClient(cfg)

	// System-wide threshold defaults, overridable per account
	defaults := models.AccountThresholds{
		MinConsumption: cfg.Delivery.MinConsumption,
		MaxCostPerLead: cfg.Delivery.MaxCostPerLead,
		MaxFailRetries: cfg.Delivery.MaxFailRetries,
	}

	// Scheduler logger writes to stdout and a rotated file
	schedLogger := scheduler.NewSchedulerLogger(cfg.Scheduler.LogDir)

	// Initialize flows
	deliveryFlow := businessflow.NewManagedDeliveryFlow(
		deliveryRepo,
		accountRepo,
		logRepo,
		taskRepo,
		client,
		db,
		rc,
		&cfg.Cache,
		defaults,
		schedLogger,
	)
	reportFlow := businessflow.NewDeliveryReportFlow(logRepo, deliveryRepo, defaults)

	// Task dispatch and polling
	registry := scheduler.NewHandlerRegistry(deliveryFlow)
	dispatcher := scheduler.NewDispatcher(taskRepo, registry, schedLogger)
	poller := scheduler.NewPoller(dispatcher, deliveryFlow, schedLogger, cfg.Scheduler.Interval, cfg.Scheduler.BatchSize)

	if cfg.Scheduler.Enabled {
		stopPoller := poller.Start(context.Background())
		stopFuncs = append(stopFuncs, stopPoller)
	}

	// Initialize handlers
	cronHandler := handlers.NewCronHandler(poller, dispatcher, cfg.Cron, cfg.Scheduler.BatchSize)
	taskHandler := handlers.NewTaskHandler(taskRepo)
	deliveryHandler := handlers.NewDeliveryHandler(logRepo, deliveryRepo, reportFlow, defaults)

	// Initialize router
	appRouter := router.NewFiberRouter(cfg, cronHandler, taskHandler, deliveryHandler)

	// Prometheus endpoint on its own listener
	if cfg.Metrics.Enabled {
		stopMetrics := startMetricsServer(cfg.Metrics)
		stopFuncs = append(stopFuncs, stopMetrics)
	}

	// Create application struct from FiberRouter
	fiberRouter := appRouter.(*router.FiberRouter)
	application := &Application{
		router:    fiberRouter,
		config:    cfg,
		server:    fiberRouter.GetApp(),
		stopFuncs: stopFuncs,
	}

	return application, nil
}
