package tracker

import (
	"sync"
	"time"

	"rune-tracker/internal/models"
)

// NewPlayer identifies a username first observed during the current run.
type NewPlayer struct {
	Username   string              `json:"username"`
	Stats      models.SkillRecords `json:"stats"`
	ObservedAt time.Time           `json:"observed_at"`
}

// RunMetrics accumulates per-run counters. Units report into it
// concurrently; it lives only for the duration of one run and is never
// persisted.
type RunMetrics struct {
	mu                  sync.Mutex
	totalPlayers        int
	successfulUpdates   int
	failedUpdates       int
	skippedPlayers      int
	totalXPGained       int64
	mostRecentNewPlayer *NewPlayer
}

func NewRunMetrics(totalPlayers int) *RunMetrics {
	return &RunMetrics{totalPlayers: totalPlayers}
}

// RecordSuccess counts one inserted snapshot and its XP gain.
func (m *RunMetrics) RecordSuccess(xpGained int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successfulUpdates++
	m.totalXPGained += xpGained
}

// RecordFailure counts one failed update.
func (m *RunMetrics) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failedUpdates++
}

// RecordSkip counts one suppressed update.
func (m *RunMetrics) RecordSkip() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skippedPlayers++
}

// RecordNewPlayer notes a first-ever sample for a username. The last
// call wins: "most recent" means last observed in this run's processing
// order, not re-queried from storage.
func (m *RunMetrics) RecordNewPlayer(username string, stats models.SkillRecords, observedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mostRecentNewPlayer = &NewPlayer{Username: username, Stats: stats, ObservedAt: observedAt}
}

// Report returns a consistent point-in-time copy of the counters.
func (m *RunMetrics) Report() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := Report{
		TotalPlayers:      m.totalPlayers,
		SuccessfulUpdates: m.successfulUpdates,
		FailedUpdates:     m.failedUpdates,
		SkippedPlayers:    m.skippedPlayers,
		TotalXPGained:     m.totalXPGained,
	}
	if m.mostRecentNewPlayer != nil {
		np := *m.mostRecentNewPlayer
		report.MostRecentNewPlayer = &np
	}
	return report
}

// Report is an immutable summary of a run's counters.
type Report struct {
	TotalPlayers        int        `json:"total_players"`
	SuccessfulUpdates   int        `json:"successful_updates"`
	FailedUpdates       int        `json:"failed_updates"`
	SkippedPlayers      int        `json:"skipped_players"`
	TotalXPGained       int64      `json:"total_xp_gained"`
	MostRecentNewPlayer *NewPlayer `json:"most_recent_new_player,omitempty"`
}

// SuccessRate is successfulUpdates over attempted (non-skipped) players.
// A run where every player was skipped counts as fully successful.
func (r Report) SuccessRate() float64 {
	attempted := r.TotalPlayers - r.SkippedPlayers
	if attempted <= 0 {
		return 1.0
	}
	return float64(r.SuccessfulUpdates) / float64(attempted)
}

// Passed reports whether the run clears the success-rate gate.
func (r Report) Passed(threshold float64) bool {
	return r.SuccessRate() >= threshold
}
