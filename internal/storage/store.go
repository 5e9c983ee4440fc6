package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"rune-tracker/internal/models"
)

// StoreError wraps a failed read or write against the snapshots table.
// The store never retries; callers decide what a failure means.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Store provides snapshot persistence on top of gorm. Snapshot rows are
// append-only: the store assigns id and created_at, and nothing updates
// or deletes a row once written.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Ping verifies the underlying database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return &StoreError{Op: "ping", Err: err}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return &StoreError{Op: "ping", Err: err}
	}
	return nil
}

// LatestSnapshots returns up to n most recent snapshots for username,
// newest first. An empty result is a valid no-history answer.
func (s *Store) LatestSnapshots(ctx context.Context, username string, n int) ([]models.Snapshot, error) {
	var snaps []models.Snapshot
	err := s.db.WithContext(ctx).
		Where("username = ?", username).
		Order("created_at DESC, id DESC").
		Limit(n).
		Find(&snaps).Error
	if err != nil {
		return nil, &StoreError{Op: "latest snapshots", Err: err}
	}
	return snaps, nil
}

// SnapshotsSince returns username's snapshots at or after since, oldest
// first. A zero since returns the full history.
func (s *Store) SnapshotsSince(ctx context.Context, username string, since time.Time) ([]models.Snapshot, error) {
	query := s.db.WithContext(ctx).Where("username = ?", username)
	if !since.IsZero() {
		query = query.Where("created_at >= ?", since)
	}
	var snaps []models.Snapshot
	if err := query.Order("created_at ASC, id ASC").Find(&snaps).Error; err != nil {
		return nil, &StoreError{Op: "snapshots since", Err: err}
	}
	return snaps, nil
}

// InsertSnapshot appends a new snapshot and returns the created row.
// Every call creates a new row; there is no overwrite or dedup.
func (s *Store) InsertSnapshot(ctx context.Context, username string, stats models.SkillRecords) (*models.Snapshot, error) {
	snap := models.Snapshot{Username: username, Stats: stats}
	if err := s.db.WithContext(ctx).Create(&snap).Error; err != nil {
		return nil, &StoreError{Op: "insert snapshot", Err: err}
	}
	return &snap, nil
}

// ListTrackedUsernames returns every username with at least one
// snapshot, case preserved as stored.
func (s *Store) ListTrackedUsernames(ctx context.Context) ([]string, error) {
	var usernames []string
	err := s.db.WithContext(ctx).
		Model(&models.Snapshot{}).
		Distinct("username").
		Pluck("username", &usernames).Error
	if err != nil {
		return nil, &StoreError{Op: "list tracked usernames", Err: err}
	}
	return usernames, nil
}

// CanonicalUsername resolves a name to the casing stored at first
// observation, comparing case-insensitively. Untracked names come back
// unchanged, so inserts preserve the caller's casing.
func (s *Store) CanonicalUsername(ctx context.Context, username string) (string, error) {
	var first models.Snapshot
	err := s.db.WithContext(ctx).
		Where("LOWER(username) = LOWER(?)", username).
		Order("created_at ASC, id ASC").
		First(&first).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return username, nil
	}
	if err != nil {
		return "", &StoreError{Op: "canonical username", Err: err}
	}
	return first.Username, nil
}
