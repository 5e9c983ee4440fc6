package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"rune-tracker/internal/config"
	"rune-tracker/internal/database"
	"rune-tracker/internal/hiscores"
	"rune-tracker/internal/logging"
	"rune-tracker/internal/storage"
)

var (
	file  = flag.String("file", "", "file with one username per line (lines starting with # are skipped)")
	delay = flag.Duration("delay", 0, "extra pause between players on top of the client rate limit")
)

var errAlreadyTracked = errors.New("already tracked")

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [-file usernames.txt] [-delay 1s] [username ...]\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	usernames := flag.Args()
	if *file != "" {
		fromFile, err := readUsernames(*file)
		if err != nil {
			log.Fatalf("reading %s: %v", *file, err)
		}
		usernames = append(usernames, fromFile...)
	}
	if len(usernames) == 0 {
		usage()
		os.Exit(2)
	}

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFormat)

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-quit
		cancel()
	}()

	var seeded, skipped, failed int
	for i, username := range usernames {
		if ctx.Err() != nil {
			logging.L().Warn("interrupted", zap.Int("remaining", len(usernames)-i))
			break
		}
		if i > 0 && *delay > 0 {
			time.Sleep(*delay)
		}
		switch err := seedPlayer(ctx, store, client, username); {
		case err == nil:
			seeded++
		case errors.Is(err, errAlreadyTracked):
			skipped++
		default:
			failed++
			logging.L().Error("seed failed", zap.String("player", username), zap.Error(err))
		}
	}

	logging.L().Info("seeding finished",
		zap.Int("seeded", seeded),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed))
	logging.Sync()
	if seeded == 0 && failed > 0 {
		os.Exit(1)
	}
}

// seedPlayer takes a first snapshot for a player that is not tracked yet.
func seedPlayer(ctx context.Context, store *storage.Store, client *hiscores.Client, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return errors.New("empty username")
	}
	canonical, err := store.CanonicalUsername(ctx, username)
	if err != nil {
		return err
	}
	existing, err := store.LatestSnapshots(ctx, canonical, 1)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		logging.L().Info("player already tracked", zap.String("player", canonical))
		return errAlreadyTracked
	}

	stats, err := client.FetchStats(ctx, canonical)
	if err != nil {
		return err
	}
	snap, err := store.InsertSnapshot(ctx, canonical, stats)
	if err != nil {
		return err
	}

	overall, _ := snap.Stats.Aggregate()
	logging.L().Info("player seeded",
		zap.String("player", canonical),
		zap.Int("total_level", overall.Level),
		zap.Int64("overall_xp", overall.XP()))
	return nil
}

func readUsernames(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var usernames []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		usernames = append(usernames, line)
	}
	return usernames, nil
}
