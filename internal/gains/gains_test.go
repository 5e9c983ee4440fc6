package gains

import (
	"errors"
	"testing"
	"time"

	"rune-tracker/internal/models"
)

func snapshotAt(created time.Time, stats models.SkillRecords) models.Snapshot {
	return models.Snapshot{Username: "Zezima", Stats: stats, CreatedAt: created}
}

func TestComputeDeltas(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	window := []models.Snapshot{
		snapshotAt(base, models.SkillRecords{
			{Type: 0, Level: 126, Rank: 5000, Value: 2000000},
			{Type: 1, Level: 80, Rank: 40000, Value: 19954700},
		}),
		snapshotAt(base.Add(24*time.Hour), models.SkillRecords{
			{Type: 0, Level: 126, Rank: 4200, Value: 2500000},
			{Type: 1, Level: 81, Rank: 38000, Value: 22406340},
		}),
	}

	report, err := Compute("Zezima", window)
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}

	if report.Snapshots != 2 {
		t.Errorf("Snapshots = %d, want 2", report.Snapshots)
	}
	if !report.From.Equal(base) || !report.To.Equal(base.Add(24*time.Hour)) {
		t.Errorf("window bounds = %v..%v", report.From, report.To)
	}
	if report.TotalXPGained != 50000 {
		t.Errorf("TotalXPGained = %d, want 50000", report.TotalXPGained)
	}

	if len(report.Skills) != 2 {
		t.Fatalf("got %d skills, want 2", len(report.Skills))
	}
	attack := report.Skills[1]
	if attack.Name != "Attack" {
		t.Errorf("skill name = %q, want Attack", attack.Name)
	}
	if attack.LevelsGained != 1 {
		t.Errorf("LevelsGained = %d, want 1", attack.LevelsGained)
	}
	if attack.XPGained != 245164 {
		t.Errorf("XPGained = %d, want 245164", attack.XPGained)
	}
	if attack.RankChange != 2000 {
		t.Errorf("RankChange = %d, want 2000 (rank improved)", attack.RankChange)
	}
}

func TestComputeSingleSnapshotWindow(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	window := []models.Snapshot{
		snapshotAt(base, models.SkillRecords{{Type: 0, Level: 126, Rank: 5000, Value: 2000000}}),
	}

	report, err := Compute("Zezima", window)
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if report.TotalXPGained != 0 {
		t.Errorf("TotalXPGained = %d, want 0 for a single snapshot", report.TotalXPGained)
	}
	if report.Skills[0].LevelsGained != 0 || report.Skills[0].XPGained != 0 {
		t.Errorf("expected zero deltas, got %+v", report.Skills[0])
	}
}

func TestComputeEmptyWindow(t *testing.T) {
	_, err := Compute("Zezima", nil)
	if !errors.Is(err, ErrNoHistory) {
		t.Fatalf("expected ErrNoHistory, got %v", err)
	}
}

func TestComputeNewlyRankedSkill(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	window := []models.Snapshot{
		snapshotAt(base, models.SkillRecords{
			{Type: 0, Level: 50, Rank: 900000, Value: 1000000},
		}),
		snapshotAt(base.Add(time.Hour), models.SkillRecords{
			{Type: 0, Level: 51, Rank: 880000, Value: 1050000},
			{Type: 4, Level: 40, Rank: 700000, Value: 372000},
		}),
	}

	report, err := Compute("Zezima", window)
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}

	var skill *SkillGain
	for i := range report.Skills {
		if report.Skills[i].Type == 4 {
			skill = &report.Skills[i]
		}
	}
	if skill == nil {
		t.Fatal("expected a gain entry for the newly ranked skill")
	}
	if skill.StartXP != 0 || skill.StartRank != models.UnrankedValue {
		t.Errorf("start of newly ranked skill = xp %d rank %d, want 0 and unranked", skill.StartXP, skill.StartRank)
	}
	if skill.XPGained != 37200 {
		t.Errorf("XPGained = %d, want full end xp 37200", skill.XPGained)
	}
	if skill.RankChange != 0 {
		t.Errorf("RankChange = %d, want 0 when the baseline is unranked", skill.RankChange)
	}
}

func TestComputeSkillsSortedByType(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	stats := models.SkillRecords{
		{Type: 7, Level: 60, Rank: 100, Value: 2800000},
		{Type: 0, Level: 70, Rank: 100, Value: 8000000},
		{Type: 3, Level: 55, Rank: 100, Value: 1700000},
	}
	window := []models.Snapshot{snapshotAt(base, stats), snapshotAt(base.Add(time.Hour), stats)}

	report, err := Compute("Zezima", window)
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	for i := 1; i < len(report.Skills); i++ {
		if report.Skills[i-1].Type >= report.Skills[i].Type {
			t.Fatalf("skills not sorted by type: %+v", report.Skills)
		}
	}
}
