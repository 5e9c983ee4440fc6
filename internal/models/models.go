package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// OverallType is the skill type id of the aggregate "Overall" record.
const OverallType = 0

// UnrankedValue marks a skill the upstream source reports no rank for.
const UnrankedValue = -1

// SkillRecord represents one skill's state at a point in time.
// Value is experience scaled by 10; real XP is Value / 10.
type SkillRecord struct {
	Type  int   `json:"type"`
	Level int   `json:"level"`
	Rank  int64 `json:"rank"`
	Value int64 `json:"value"`
}

// XP returns the record's real experience points.
func (r SkillRecord) XP() int64 {
	return r.Value / 10
}

// Name returns the display name for the record's skill type.
func (r SkillRecord) Name() string {
	return SkillName(r.Type)
}

// SkillRecords is a player's full stat collection, stored as a JSON column.
type SkillRecords []SkillRecord

// Aggregate returns the Overall (type 0) record, if present.
func (s SkillRecords) Aggregate() (SkillRecord, bool) {
	for _, r := range s {
		if r.Type == OverallType {
			return r, true
		}
	}
	return SkillRecord{}, false
}

// Encode serializes the collection to its stored JSON form.
func (s SkillRecords) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// Value implements driver.Valuer so gorm persists the collection as JSON.
func (s SkillRecords) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return s.Encode()
}

// Scan implements sql.Scanner for reading the JSON column back.
func (s *SkillRecords) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into SkillRecords", value)
	}
	return json.Unmarshal(data, s)
}

// Snapshot represents one persisted sample of a player's stats.
// Rows are append-only: created by the update pipeline or a
// user-triggered save, never updated or deleted.
type Snapshot struct {
	ID        uint         `json:"id" gorm:"primaryKey"`
	Username  string       `json:"username" gorm:"size:64;index;not null"`
	Stats     SkillRecords `json:"stats" gorm:"type:json;not null"`
	CreatedAt time.Time    `json:"created_at" gorm:"index"`
}

func (Snapshot) TableName() string {
	return "snapshots"
}

var skillNames = map[int]string{
	0:  "Overall",
	1:  "Attack",
	2:  "Defence",
	3:  "Strength",
	4:  "Hitpoints",
	5:  "Ranged",
	6:  "Prayer",
	7:  "Magic",
	8:  "Cooking",
	9:  "Woodcutting",
	10: "Fletching",
	11: "Fishing",
	12: "Firemaking",
	13: "Crafting",
	14: "Smithing",
	15: "Mining",
	16: "Herblore",
	17: "Agility",
	18: "Thieving",
	19: "Slayer",
	20: "Farming",
	21: "Runecrafting",
	22: "Hunter",
	23: "Construction",
}

// SkillName maps a skill type id to its display name. Unknown ids get a
// generic name; the source reserves some values in the valid range.
func SkillName(skillType int) string {
	if name, ok := skillNames[skillType]; ok {
		return name
	}
	return fmt.Sprintf("Skill %d", skillType)
}
