package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"rune-tracker/internal/config"
	"rune-tracker/internal/database"
	"rune-tracker/internal/hiscores"
	"rune-tracker/internal/logging"
	"rune-tracker/internal/storage"
	"rune-tracker/internal/tracker"
)

var (
	loop        = flag.Bool("loop", false, "keep running on an interval instead of exiting after one pass")
	interval    = flag.Duration("interval", 0, "time between passes in loop mode (defaults to TRACKER_INTERVAL)")
	limit       = flag.Int("limit", 0, "update at most this many players per pass (0 = all)")
	concurrency = flag.Int("concurrency", 0, "concurrent player updates (defaults to TRACKER_CONCURRENCY)")
)

// capRoster bounds how many players one pass may touch.
type capRoster struct {
	tracker.SnapshotStore
	limit int
}

func (c capRoster) ListTrackedUsernames(ctx context.Context) ([]string, error) {
	usernames, err := c.SnapshotStore.ListTrackedUsernames(ctx)
	if err != nil || c.limit <= 0 || len(usernames) <= c.limit {
		return usernames, err
	}
	return usernames[:c.limit], nil
}

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFormat)

	if *concurrency > 0 {
		cfg.TrackerConcurrency = *concurrency
	}
	runInterval := cfg.TrackerInterval
	if *interval > 0 {
		runInterval = *interval
	}

	db, err := database.Initialize(cfg.DatabaseURL)
	if err != nil {
		logging.L().Fatal("failed to connect to database", zap.Error(err))
	}

	var roster tracker.SnapshotStore = storage.NewStore(db)
	if *limit > 0 {
		roster = capRoster{SnapshotStore: roster, limit: *limit}
	}

	client := hiscores.NewClient(hiscores.Options{
		BaseURL:       cfg.HiscoresBaseURL,
		Timeout:       cfg.HiscoresTimeout,
		RetryAttempts: cfg.HiscoresRetryAttempts,
		RetryDelay:    cfg.HiscoresRetryDelay,
		RateLimit:     cfg.HiscoresRateLimit,
	})

	runner := tracker.NewRunner(roster, client, logging.L().Named("tracker"), tracker.Options{
		Concurrency:          cfg.TrackerConcurrency,
		SuccessRateThreshold: cfg.SuccessRateThreshold,
		Policy: tracker.Policy{
			MinUpdateInterval:   cfg.MinUpdateInterval,
			InactivityThreshold: cfg.InactivityThreshold,
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-quit
		logging.L().Info("shutdown requested")
		cancel()
	}()

	if !*loop {
		code := runPass(ctx, runner)
		logging.Sync()
		os.Exit(code)
	}

	logging.L().Info("tracker loop started", zap.Duration("interval", runInterval))
	ticker := time.NewTicker(runInterval)
	defer ticker.Stop()
	for {
		runPass(ctx, runner)
		select {
		case <-ctx.Done():
			logging.L().Info("tracker loop stopped")
			logging.Sync()
			return
		case <-ticker.C:
		}
	}
}

// runPass executes one batch update and maps its outcome onto an exit
// code: 0 when the run passed the success-rate gate, 1 otherwise.
func runPass(ctx context.Context, runner *tracker.Runner) int {
	report, err := runner.Run(ctx)
	if err != nil {
		logging.L().Error("run aborted", zap.Error(err))
		return 1
	}
	if !report.Succeeded() {
		return 1
	}
	return 0
}
