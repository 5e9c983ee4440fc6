package tracker

import (
	"bytes"
	"time"

	"rune-tracker/internal/models"
)

// Decision is the outcome of evaluating a tracked player for an update.
type Decision string

const (
	ProceedInsert Decision = "insert"
	SkipTooRecent Decision = "skip_too_recent"
	SkipInactive  Decision = "skip_inactive"
	SkipNoGain    Decision = "skip_no_gain"
)

// Skipped reports whether the decision suppresses the insert.
func (d Decision) Skipped() bool {
	return d != ProceedInsert
}

// Policy holds the thresholds for update decisions.
type Policy struct {
	MinUpdateInterval   time.Duration
	InactivityThreshold time.Duration
}

// Outcome carries a decision plus the metric inputs derived from it.
type Outcome struct {
	Decision  Decision
	XPGained  int64
	NewPlayer bool
}

// PreCheck applies the skip rules that need no fresh sample, letting the
// runner avoid the upstream fetch entirely when a player was updated too
// recently or has gone inactive.
func (p Policy) PreCheck(previous, previousPrevious *models.Snapshot, now time.Time) Decision {
	if previous == nil {
		return ProceedInsert
	}
	if now.Sub(previous.CreatedAt) < p.MinUpdateInterval {
		return SkipTooRecent
	}
	if now.Sub(previous.CreatedAt) > p.InactivityThreshold && statsEqual(previous, previousPrevious) {
		return SkipInactive
	}
	return ProceedInsert
}

// Decide applies the full rule chain to a fetched candidate. First match
// wins: a player with no history always inserts and counts as new, then
// too-recent, then inactive, then no-gain, otherwise insert with the XP
// gained since the previous sample.
func (p Policy) Decide(previous, previousPrevious *models.Snapshot, candidate models.SkillRecords, now time.Time) Outcome {
	if previous == nil {
		return Outcome{Decision: ProceedInsert, NewPlayer: true}
	}
	if pre := p.PreCheck(previous, previousPrevious, now); pre != ProceedInsert {
		return Outcome{Decision: pre}
	}

	oldAgg, hasOld := previous.Stats.Aggregate()
	if !hasOld {
		// Previous sample carries no aggregate to compare against.
		return Outcome{Decision: ProceedInsert}
	}
	newAgg, _ := candidate.Aggregate()
	if newAgg.Value <= oldAgg.Value {
		return Outcome{Decision: SkipNoGain}
	}
	return Outcome{Decision: ProceedInsert, XPGained: xpGained(newAgg.Value, oldAgg.Value)}
}

// statsEqual compares the serialized stat collections of two snapshots
// byte for byte. Record order and membership matter, not just values;
// the inactivity rule depends on this literal comparison.
func statsEqual(previous, previousPrevious *models.Snapshot) bool {
	if previousPrevious == nil {
		return false
	}
	a, errA := previous.Stats.Encode()
	b, errB := previousPrevious.Stats.Encode()
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// xpGained converts a raw aggregate delta into real XP (values are XP
// scaled by 10). Apparent regressions clamp to zero instead of going
// negative.
func xpGained(newValue, oldValue int64) int64 {
	gained := (newValue - oldValue) / 10
	if gained < 0 {
		return 0
	}
	return gained
}
