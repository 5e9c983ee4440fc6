package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"rune-tracker/internal/config"
	"rune-tracker/internal/export"
	"rune-tracker/internal/gains"
	"rune-tracker/internal/hiscores"
	"rune-tracker/internal/logging"
	"rune-tracker/internal/models"
	"rune-tracker/internal/storage"
	"rune-tracker/internal/tracker"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ErrRunInProgress is returned when a tracker run is requested while one
// is still executing.
var ErrRunInProgress = errors.New("tracker run already in progress")

type APIHandler struct {
	store  *storage.Store
	client *hiscores.Client
	hub    *Hub
	cfg    *config.Config

	// tracker run state
	runMu      sync.Mutex
	runActive  bool
	lastReport *tracker.RunReport
}

func SetupRoutes(r *gin.RouterGroup, store *storage.Store, client *hiscores.Client, hub *Hub, cfg *config.Config) *APIHandler {
	handler := &APIHandler{
		store:  store,
		client: client,
		hub:    hub,
		cfg:    cfg,
	}

	r.GET("/health", handler.Health)

	players := r.Group("/players")
	{
		players.GET("", handler.ListPlayers)
		players.POST("", handler.TrackPlayer)
		players.GET("/:username", handler.GetPlayer)
		players.GET("/:username/history", handler.GetPlayerHistory)
		players.GET("/:username/gains", handler.GetPlayerGains)
		players.GET("/:username/export", handler.ExportPlayer)
	}

	trackerGroup := r.Group("/tracker")
	{
		trackerGroup.GET("/status", handler.TrackerStatus)
		trackerGroup.POST("/run", handler.StartTrackerRun)
	}

	return handler
}

func (h *APIHandler) Health(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "database unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

// playerSummary flattens a snapshot into the list/detail envelope.
func playerSummary(snap models.Snapshot) gin.H {
	summary := gin.H{
		"username":     snap.Username,
		"last_updated": snap.CreatedAt,
		"skills":       len(snap.Stats),
	}
	if overall, ok := snap.Stats.Aggregate(); ok {
		summary["total_level"] = overall.Level
		summary["overall_rank"] = overall.Rank
		summary["overall_xp"] = overall.XP()
	}
	return summary
}

// ListPlayers: GET /api/v1/players
func (h *APIHandler) ListPlayers(c *gin.Context) {
	ctx := c.Request.Context()
	usernames, err := h.store.ListTrackedUsernames(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}
	sort.Strings(usernames)

	players := make([]gin.H, 0, len(usernames))
	for _, username := range usernames {
		snaps, err := h.store.LatestSnapshots(ctx, username, 1)
		if err != nil || len(snaps) == 0 {
			continue
		}
		players = append(players, playerSummary(snaps[0]))
	}
	c.JSON(http.StatusOK, gin.H{"players": players, "count": len(players)})
}

// TrackPlayer: POST /api/v1/players
// Registers a player by taking its first snapshot.
func (h *APIHandler) TrackPlayer(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
		return
	}

	ctx := c.Request.Context()
	canonical, err := h.store.CanonicalUsername(ctx, username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}
	existing, err := h.store.LatestSnapshots(ctx, canonical, 1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}
	if len(existing) > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "player already tracked", "username": canonical})
		return
	}

	stats, err := h.client.FetchStats(ctx, canonical)
	if err != nil {
		if errors.Is(err, hiscores.ErrPlayerNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "player not found upstream"})
			return
		}
		logging.L().Warn("first snapshot fetch failed",
			zap.String("player", canonical), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "stats source unavailable"})
		return
	}

	snap, err := h.store.InsertSnapshot(ctx, canonical, stats)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}
	c.JSON(http.StatusCreated, playerSummary(*snap))
}

// resolvePlayer maps the path parameter onto the stored casing. It writes
// the error response itself when resolution fails.
func (h *APIHandler) resolvePlayer(c *gin.Context) (string, bool) {
	username := strings.TrimSpace(c.Param("username"))
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
		return "", false
	}
	canonical, err := h.store.CanonicalUsername(c.Request.Context(), username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return "", false
	}
	return canonical, true
}

// GetPlayer: GET /api/v1/players/:username
func (h *APIHandler) GetPlayer(c *gin.Context) {
	canonical, ok := h.resolvePlayer(c)
	if !ok {
		return
	}
	snaps, err := h.store.LatestSnapshots(c.Request.Context(), canonical, 1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}
	if len(snaps) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not tracked"})
		return
	}

	latest := snaps[0]
	skills := make([]gin.H, 0, len(latest.Stats))
	for _, rec := range latest.Stats {
		skills = append(skills, gin.H{
			"type":  rec.Type,
			"name":  rec.Name(),
			"level": rec.Level,
			"rank":  rec.Rank,
			"xp":    rec.XP(),
		})
	}

	resp := playerSummary(latest)
	resp["stats"] = skills
	c.JSON(http.StatusOK, resp)
}

// GetPlayerHistory: GET /api/v1/players/:username/history?limit=50
func (h *APIHandler) GetPlayerHistory(c *gin.Context) {
	canonical, ok := h.resolvePlayer(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	snaps, err := h.store.LatestSnapshots(c.Request.Context(), canonical, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}
	if len(snaps) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not tracked"})
		return
	}

	rows := make([]gin.H, 0, len(snaps))
	for _, snap := range snaps {
		row := gin.H{"captured_at": snap.CreatedAt}
		if overall, ok := snap.Stats.Aggregate(); ok {
			row["total_level"] = overall.Level
			row["overall_rank"] = overall.Rank
			row["overall_xp"] = overall.XP()
		}
		rows = append(rows, row)
	}
	c.JSON(http.StatusOK, gin.H{"username": canonical, "history": rows})
}

// gainsWindow reads the requested window, either period=day|week|month
// or an explicit days count, and loads the snapshots inside it.
func (h *APIHandler) gainsWindow(c *gin.Context, canonical string) ([]models.Snapshot, bool) {
	days := 7
	switch c.Query("period") {
	case "day":
		days = 1
	case "week":
		days = 7
	case "month":
		days = 31
	default:
		if n, err := strconv.Atoi(c.Query("days")); err == nil && n > 0 {
			days = n
		}
	}
	since := time.Now().Add(-time.Duration(days) * 24 * time.Hour)

	snaps, err := h.store.SnapshotsSince(c.Request.Context(), canonical, since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return nil, false
	}
	return snaps, true
}

// GetPlayerGains: GET /api/v1/players/:username/gains?period=week
func (h *APIHandler) GetPlayerGains(c *gin.Context) {
	canonical, ok := h.resolvePlayer(c)
	if !ok {
		return
	}
	snaps, ok := h.gainsWindow(c, canonical)
	if !ok {
		return
	}

	report, err := gains.Compute(canonical, snaps)
	if err != nil {
		if errors.Is(err, gains.ErrNoHistory) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no snapshots in window"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "gains computation failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// ExportPlayer: GET /api/v1/players/:username/export?period=month
// Streams the window back as an XLSX workbook.
func (h *APIHandler) ExportPlayer(c *gin.Context) {
	canonical, ok := h.resolvePlayer(c)
	if !ok {
		return
	}
	snaps, ok := h.gainsWindow(c, canonical)
	if !ok {
		return
	}

	buf, err := export.Workbook(canonical, snaps)
	if err != nil {
		if errors.Is(err, gains.ErrNoHistory) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no snapshots in window"})
			return
		}
		logging.L().Error("export failed", zap.String("player", canonical), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}

	filename := fmt.Sprintf("%s-progress.xlsx", strings.ReplaceAll(canonical, " ", "_"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// TrackerStatus: GET /api/v1/tracker/status
func (h *APIHandler) TrackerStatus(c *gin.Context) {
	h.runMu.Lock()
	running := h.runActive
	var last *tracker.RunReport
	if h.lastReport != nil {
		cp := *h.lastReport
		last = &cp
	}
	h.runMu.Unlock()

	resp := gin.H{
		"enabled":           h.cfg.TrackerEnabled,
		"interval":          h.cfg.TrackerInterval.String(),
		"running":           running,
		"websocket_clients": h.hub.ClientCount(),
	}
	if last != nil {
		resp["last_run"] = last
	}
	c.JSON(http.StatusOK, resp)
}

// StartTrackerRun: POST /api/v1/tracker/run
// Kicks off a batch update in the background; poll /tracker/status or
// subscribe on /ws for progress.
func (h *APIHandler) StartTrackerRun(c *gin.Context) {
	h.runMu.Lock()
	active := h.runActive
	h.runMu.Unlock()
	if active {
		c.JSON(http.StatusConflict, gin.H{"error": ErrRunInProgress.Error()})
		return
	}

	go func() {
		if _, err := h.RunTracker(context.Background()); err != nil && !errors.Is(err, ErrRunInProgress) {
			logging.L().Error("tracker run failed", zap.Error(err))
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

// RunTracker executes one batch update pass and remembers its report for
// the status endpoint. Only one run may execute at a time; the HTTP
// trigger and the embedded scheduler share this entry point.
func (h *APIHandler) RunTracker(ctx context.Context) (*tracker.RunReport, error) {
	h.runMu.Lock()
	if h.runActive {
		h.runMu.Unlock()
		return nil, ErrRunInProgress
	}
	h.runActive = true
	h.runMu.Unlock()
	defer func() {
		h.runMu.Lock()
		h.runActive = false
		h.runMu.Unlock()
	}()

	runner := tracker.NewRunner(h.store, h.client, logging.L().Named("tracker"), tracker.Options{
		Concurrency:          h.cfg.TrackerConcurrency,
		SuccessRateThreshold: h.cfg.SuccessRateThreshold,
		Policy: tracker.Policy{
			MinUpdateInterval:   h.cfg.MinUpdateInterval,
			InactivityThreshold: h.cfg.InactivityThreshold,
		},
		OnEvent: func(ev tracker.Event) {
			h.hub.Broadcast(string(ev.Type), ev)
		},
	})

	report, err := runner.Run(ctx)
	if report != nil {
		h.runMu.Lock()
		h.lastReport = report
		h.runMu.Unlock()
	}
	return report, err
}
