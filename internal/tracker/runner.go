package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rune-tracker/internal/hiscores"
	"rune-tracker/internal/models"
)

// StatsSource fetches a player's current stats from the upstream source.
type StatsSource interface {
	FetchStats(ctx context.Context, username string) (models.SkillRecords, error)
}

// SnapshotStore is the slice of the storage contract the runner consumes.
type SnapshotStore interface {
	LatestSnapshots(ctx context.Context, username string, n int) ([]models.Snapshot, error)
	InsertSnapshot(ctx context.Context, username string, stats models.SkillRecords) (*models.Snapshot, error)
	ListTrackedUsernames(ctx context.Context) ([]string, error)
}

// State identifies the runner's position in its lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateListing    State = "listing"
	StateProcessing State = "processing"
	StateReporting  State = "reporting"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// EventType labels a runner progress event.
type EventType string

const (
	EventRunStarted    EventType = "run_started"
	EventPlayerSettled EventType = "player_settled"
	EventRunFinished   EventType = "run_finished"
)

// Event is a progress notification emitted while a run executes.
type Event struct {
	Type     EventType  `json:"type"`
	RunID    string     `json:"run_id"`
	State    State      `json:"state"`
	Username string     `json:"username,omitempty"`
	Outcome  string     `json:"outcome,omitempty"`
	XPGained int64      `json:"xp_gained,omitempty"`
	Report   *RunReport `json:"report,omitempty"`
}

// RunReport is the terminal summary of one run.
type RunReport struct {
	RunID       string    `json:"run_id"`
	State       State     `json:"state"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Metrics     Report    `json:"metrics"`
	SuccessRate float64   `json:"success_rate"`
}

// Succeeded reports whether the run passed the success-rate gate.
func (r *RunReport) Succeeded() bool {
	return r.State == StateSucceeded
}

// Options configures a Runner. Zero values fall back to production
// defaults.
type Options struct {
	Concurrency          int
	SuccessRateThreshold float64
	Policy               Policy
	OnEvent              func(Event)
}

// Runner executes one batch update pass over every tracked player.
type Runner struct {
	store       SnapshotStore
	source      StatsSource
	policy      Policy
	concurrency int
	threshold   float64
	onEvent     func(Event)
	log         *zap.Logger
}

func NewRunner(store SnapshotStore, source StatsSource, log *zap.Logger, opts Options) *Runner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.SuccessRateThreshold <= 0 {
		opts.SuccessRateThreshold = 0.8
	}
	if opts.Policy.MinUpdateInterval <= 0 {
		opts.Policy.MinUpdateInterval = 30 * time.Minute
	}
	if opts.Policy.InactivityThreshold <= 0 {
		opts.Policy.InactivityThreshold = 30 * 24 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		store:       store,
		source:      source,
		policy:      opts.Policy,
		concurrency: opts.Concurrency,
		threshold:   opts.SuccessRateThreshold,
		onEvent:     opts.OnEvent,
		log:         log,
	}
}

// Run executes one full pass: list every tracked player, process them
// under the concurrency limit, wait for all units to settle, then report
// and apply the success-rate gate. Per-player failures are absorbed into
// the metrics; only a listing failure or cancellation returns an error.
func (r *Runner) Run(ctx context.Context) (*RunReport, error) {
	runID := uuid.NewString()
	log := r.log.With(zap.String("run_id", runID))
	startedAt := time.Now()

	log.Info("run started", zap.String("state", string(StateListing)))
	r.emit(Event{Type: EventRunStarted, RunID: runID, State: StateListing})

	usernames, err := r.store.ListTrackedUsernames(ctx)
	if err != nil {
		log.Error("listing tracked players failed", zap.Error(err))
		return nil, fmt.Errorf("list tracked usernames: %w", err)
	}

	metrics := NewRunMetrics(len(usernames))
	log.Info("processing players",
		zap.String("state", string(StateProcessing)),
		zap.Int("players", len(usernames)),
		zap.Int("concurrency", r.concurrency))

	var wg sync.WaitGroup
	sem := make(chan struct{}, r.concurrency)

dispatch:
	for _, username := range usernames {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(username string) {
			defer wg.Done()
			defer func() { <-sem }()
			r.processPlayer(ctx, log, runID, username, metrics)
		}(username)
	}

	// Fan-in barrier: reporting never starts before every unit settled.
	wg.Wait()

	report := &RunReport{
		RunID:     runID,
		StartedAt: startedAt,
		Metrics:   metrics.Report(),
	}
	report.SuccessRate = report.Metrics.SuccessRate()
	report.FinishedAt = time.Now()

	log.Info("run report",
		zap.String("state", string(StateReporting)),
		zap.Int("total_players", report.Metrics.TotalPlayers),
		zap.Int("successful_updates", report.Metrics.SuccessfulUpdates),
		zap.Int("failed_updates", report.Metrics.FailedUpdates),
		zap.Int("skipped_players", report.Metrics.SkippedPlayers),
		zap.Int64("total_xp_gained", report.Metrics.TotalXPGained),
		zap.Float64("success_rate", report.SuccessRate))
	if np := report.Metrics.MostRecentNewPlayer; np != nil {
		log.Info("most recent new player",
			zap.String("player", np.Username),
			zap.Time("observed_at", np.ObservedAt))
	}

	if ctx.Err() != nil {
		report.State = StateFailed
		log.Warn("run canceled", zap.Error(ctx.Err()))
		r.emit(Event{Type: EventRunFinished, RunID: runID, State: report.State, Report: report})
		return report, ctx.Err()
	}

	if report.Metrics.Passed(r.threshold) {
		report.State = StateSucceeded
	} else {
		report.State = StateFailed
	}
	log.Info("run finished",
		zap.String("state", string(report.State)),
		zap.Duration("elapsed", report.FinishedAt.Sub(startedAt)))
	r.emit(Event{Type: EventRunFinished, RunID: runID, State: report.State, Report: report})
	return report, nil
}

// processPlayer runs a single unit of work. Every failure is converted
// into a metrics increment; nothing escapes to abort sibling units.
func (r *Runner) processPlayer(ctx context.Context, log *zap.Logger, runID, username string, metrics *RunMetrics) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.RecordFailure()
			log.Error("player update panicked", zap.String("player", username), zap.Any("panic", rec))
			r.emitSettled(runID, username, "failed", 0)
		}
	}()

	now := time.Now()

	history, err := r.store.LatestSnapshots(ctx, username, 2)
	if err != nil {
		metrics.RecordFailure()
		log.Warn("reading snapshot history failed", zap.String("player", username), zap.Error(err))
		r.emitSettled(runID, username, "failed", 0)
		return
	}

	var previous, previousPrevious *models.Snapshot
	if len(history) > 0 {
		previous = &history[0]
	}
	if len(history) > 1 {
		previousPrevious = &history[1]
	}

	// Skip rules that need no candidate run before the fetch, so a
	// too-recent or inactive player costs no upstream request.
	if pre := r.policy.PreCheck(previous, previousPrevious, now); pre.Skipped() {
		metrics.RecordSkip()
		log.Info("player skipped", zap.String("player", username), zap.String("reason", string(pre)))
		r.emitSettled(runID, username, string(pre), 0)
		return
	}

	candidate, err := r.source.FetchStats(ctx, username)
	if err != nil {
		metrics.RecordFailure()
		if errors.Is(err, hiscores.ErrPlayerNotFound) {
			log.Warn("player not found upstream", zap.String("player", username))
		} else {
			log.Warn("fetching stats failed", zap.String("player", username), zap.Error(err))
		}
		r.emitSettled(runID, username, "failed", 0)
		return
	}

	outcome := r.policy.Decide(previous, previousPrevious, candidate, now)
	if outcome.Decision.Skipped() {
		metrics.RecordSkip()
		log.Info("player skipped", zap.String("player", username), zap.String("reason", string(outcome.Decision)))
		r.emitSettled(runID, username, string(outcome.Decision), 0)
		return
	}

	if _, err := r.store.InsertSnapshot(ctx, username, candidate); err != nil {
		metrics.RecordFailure()
		log.Warn("inserting snapshot failed", zap.String("player", username), zap.Error(err))
		r.emitSettled(runID, username, "failed", 0)
		return
	}

	metrics.RecordSuccess(outcome.XPGained)
	if outcome.NewPlayer {
		metrics.RecordNewPlayer(username, candidate, now)
		log.Info("new player tracked", zap.String("player", username))
	}
	log.Info("player updated", zap.String("player", username), zap.Int64("xp_gained", outcome.XPGained))
	r.emitSettled(runID, username, "updated", outcome.XPGained)
}

func (r *Runner) emit(event Event) {
	if r.onEvent != nil {
		r.onEvent(event)
	}
}

func (r *Runner) emitSettled(runID, username, outcome string, xpGained int64) {
	r.emit(Event{
		Type:     EventPlayerSettled,
		RunID:    runID,
		State:    StateProcessing,
		Username: username,
		Outcome:  outcome,
		XPGained: xpGained,
	})
}
