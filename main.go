package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"rune-tracker/internal/api"
	"rune-tracker/internal/config"
	"rune-tracker/internal/database"
	"rune-tracker/internal/hiscores"
	"rune-tracker/internal/logging"
	"rune-tracker/internal/storage"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFormat)
	defer logging.Sync()

	// Initialize database
	db, err := database.Initialize(cfg.DatabaseURL)
	if err != nil {
		logging.L().Fatal("failed to connect to database", zap.Error(err))
	}
	store := storage.NewStore(db)

	client := hiscores.NewClient(hiscores.Options{
		BaseURL:       cfg.HiscoresBaseURL,
		Timeout:       cfg.HiscoresTimeout,
		RetryAttempts: cfg.HiscoresRetryAttempts,
		RetryDelay:    cfg.HiscoresRetryDelay,
		RateLimit:     cfg.HiscoresRateLimit,
	})

	hub := api.NewHub()
	go hub.Run()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	// CORS middleware
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	// Serve static files from the build directory
	r.Static("/static", "./web/build/static")
	r.StaticFile("/favicon.ico", "./web/build/favicon.ico")
	r.StaticFile("/manifest.json", "./web/build/manifest.json")
	r.GET("/", func(c *gin.Context) {
		c.File("./web/build/index.html")
	})
	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	// SPA fallback for client-side routing
	r.NoRoute(func(c *gin.Context) {
		// Preserve API and WS 404s
		if strings.HasPrefix(c.Request.URL.Path, "/api/") || c.Request.URL.Path == "/ws" || strings.HasPrefix(c.Request.URL.Path, "/static/") {
			c.Status(http.StatusNotFound)
			return
		}
		c.File("./web/build/index.html")
	})

	// API routes
	apiGroup := r.Group("/api/v1")
	handler := api.SetupRoutes(apiGroup, store, client, hub, cfg)

	// Tracker event stream
	r.GET("/ws", func(c *gin.Context) {
		hub.ServeWs(c.Writer, c.Request)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.TrackerEnabled {
		go runScheduler(ctx, handler, cfg.TrackerInterval)
	}

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		logging.L().Info("server listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.L().Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logging.L().Info("shutting down")
	cancel()
	hub.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.L().Error("forced shutdown", zap.Error(err))
	}
}

// runScheduler drives periodic batch updates while the server runs. The
// first pass starts immediately; later passes follow the ticker.
func runScheduler(ctx context.Context, handler *api.APIHandler, interval time.Duration) {
	scheduleLog := logging.L().With(zap.String("component", "scheduler"))
	scheduleLog.Info("tracker scheduler enabled", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		runOnce(ctx, handler, scheduleLog)
		select {
		case <-ctx.Done():
			scheduleLog.Info("tracker scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

func runOnce(ctx context.Context, handler *api.APIHandler, scheduleLog *zap.Logger) {
	if ctx.Err() != nil {
		return
	}
	report, err := handler.RunTracker(ctx)
	switch {
	case errors.Is(err, api.ErrRunInProgress):
		scheduleLog.Warn("skipping scheduled run, previous run still active")
	case err != nil:
		scheduleLog.Error("scheduled run failed", zap.Error(err))
	case !report.Succeeded():
		scheduleLog.Warn("scheduled run finished below success threshold",
			zap.String("run_id", report.RunID),
			zap.Float64("success_rate", report.SuccessRate))
	default:
		scheduleLog.Info("scheduled run finished",
			zap.String("run_id", report.RunID),
			zap.Float64("success_rate", report.SuccessRate))
	}
}
