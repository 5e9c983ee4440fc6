package gains

import (
	"errors"
	"sort"
	"time"

	"rune-tracker/internal/models"
)

// ErrNoHistory is returned when a gains window contains no snapshots.
var ErrNoHistory = errors.New("gains: no snapshots in window")

// SkillGain holds the per-skill delta between the two ends of a window.
type SkillGain struct {
	Type int    `json:"type"`
	Name string `json:"name"`

	StartLevel   int `json:"start_level"`
	EndLevel     int `json:"end_level"`
	LevelsGained int `json:"levels_gained"`

	StartXP  int64 `json:"start_xp"`
	EndXP    int64 `json:"end_xp"`
	XPGained int64 `json:"xp_gained"`

	StartRank int64 `json:"start_rank"`
	EndRank   int64 `json:"end_rank"`
	// RankChange is StartRank minus EndRank, so a positive value means
	// the player climbed the rankings. Zero when either end is unranked.
	RankChange int64 `json:"rank_change"`
}

// Report summarizes a player's progress across a snapshot window.
type Report struct {
	Username      string      `json:"username"`
	From          time.Time   `json:"from"`
	To            time.Time   `json:"to"`
	Snapshots     int         `json:"snapshots"`
	TotalXPGained int64       `json:"total_xp_gained"`
	Skills        []SkillGain `json:"skills"`
}

// Compute builds a gains report from a window of snapshots ordered oldest
// first, comparing the first snapshot against the last. A single-snapshot
// window yields a zero-delta report.
func Compute(username string, snaps []models.Snapshot) (*Report, error) {
	if len(snaps) == 0 {
		return nil, ErrNoHistory
	}

	baseline := snaps[0]
	latest := snaps[len(snaps)-1]

	startByType := make(map[int]models.SkillRecord, len(baseline.Stats))
	for _, rec := range baseline.Stats {
		startByType[rec.Type] = rec
	}

	report := &Report{
		Username:  username,
		From:      baseline.CreatedAt,
		To:        latest.CreatedAt,
		Snapshots: len(snaps),
		Skills:    make([]SkillGain, 0, len(latest.Stats)),
	}

	for _, rec := range latest.Stats {
		gain := SkillGain{
			Type:      rec.Type,
			Name:      rec.Name(),
			EndLevel:  rec.Level,
			EndXP:     rec.XP(),
			EndRank:   rec.Rank,
			StartRank: models.UnrankedValue,
		}
		if start, ok := startByType[rec.Type]; ok {
			gain.StartLevel = start.Level
			gain.StartXP = start.XP()
			gain.StartRank = start.Rank
		}
		gain.LevelsGained = gain.EndLevel - gain.StartLevel
		gain.XPGained = gain.EndXP - gain.StartXP
		if gain.StartRank != models.UnrankedValue && gain.EndRank != models.UnrankedValue {
			gain.RankChange = gain.StartRank - gain.EndRank
		}
		report.Skills = append(report.Skills, gain)

		if rec.Type == models.OverallType {
			report.TotalXPGained = gain.XPGained
		}
	}

	sort.Slice(report.Skills, func(i, j int) bool {
		return report.Skills[i].Type < report.Skills[j].Type
	})

	return report, nil
}
