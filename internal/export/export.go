package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"rune-tracker/internal/gains"
	"rune-tracker/internal/models"
)

const (
	historySheet = "History"
	gainsSheet   = "Gains"

	timeLayout = "2006-01-02 15:04"
)

// Workbook renders a player's snapshot window as an XLSX workbook: a
// History sheet with one row per snapshot and a Gains sheet summarizing
// per-skill progress across the window. Snapshots must be ordered oldest
// first.
func Workbook(username string, snaps []models.Snapshot) (*bytes.Buffer, error) {
	report, err := gains.Compute(username, snaps)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", historySheet); err != nil {
		return nil, fmt.Errorf("renaming history sheet: %w", err)
	}
	if err := writeHistory(f, snaps); err != nil {
		return nil, err
	}
	if err := writeGains(f, report); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serializing workbook: %w", err)
	}
	return buf, nil
}

func writeHistory(f *excelize.File, snaps []models.Snapshot) error {
	if err := writeRow(f, historySheet, 1, "Captured At", "Total Level", "Overall Rank", "Overall XP", "Skills"); err != nil {
		return err
	}
	for i, snap := range snaps {
		row := []interface{}{snap.CreatedAt.Format(timeLayout)}
		if overall, ok := snap.Stats.Aggregate(); ok {
			row = append(row, overall.Level, overall.Rank, overall.XP())
		} else {
			row = append(row, "", "", "")
		}
		row = append(row, len(snap.Stats))
		if err := writeRow(f, historySheet, i+2, row...); err != nil {
			return err
		}
	}
	return f.SetColWidth(historySheet, "A", "E", 16)
}

func writeGains(f *excelize.File, report *gains.Report) error {
	idx, err := f.NewSheet(gainsSheet)
	if err != nil {
		return fmt.Errorf("adding gains sheet: %w", err)
	}
	f.SetActiveSheet(idx)

	summary := [][]interface{}{
		{"Player", report.Username},
		{"From", report.From.Format(timeLayout)},
		{"To", report.To.Format(timeLayout)},
		{"Snapshots", report.Snapshots},
		{"Total XP Gained", report.TotalXPGained},
	}
	for i, row := range summary {
		if err := writeRow(f, gainsSheet, i+1, row...); err != nil {
			return err
		}
	}

	if err := writeRow(f, gainsSheet, 7, "Skill", "Start Level", "End Level", "Levels Gained", "XP Gained", "Rank Change"); err != nil {
		return err
	}
	for i, skill := range report.Skills {
		if err := writeRow(f, gainsSheet, i+8, skill.Name, skill.StartLevel, skill.EndLevel, skill.LevelsGained, skill.XPGained, skill.RankChange); err != nil {
			return err
		}
	}
	return f.SetColWidth(gainsSheet, "A", "F", 14)
}

func writeRow(f *excelize.File, sheet string, row int, values ...interface{}) error {
	for col, value := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return fmt.Errorf("addressing cell: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, value); err != nil {
			return fmt.Errorf("writing cell %s: %w", cell, err)
		}
	}
	return nil
}
