package storage

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"rune-tracker/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Snapshot{}); err != nil {
		t.Fatalf("migrating snapshots table: %v", err)
	}
	return NewStore(db)
}

func overallStats(value int64) models.SkillRecords {
	return models.SkillRecords{
		{Type: 0, Level: 100, Rank: 1000, Value: value},
		{Type: 7, Level: 50, Rank: 5000, Value: value / 2},
	}
}

// seed writes a snapshot with a controlled created_at, bypassing the
// store's own insert path.
func seed(t *testing.T, s *Store, username string, stats models.SkillRecords, created time.Time) {
	t.Helper()
	snap := models.Snapshot{Username: username, Stats: stats, CreatedAt: created}
	if err := s.db.Create(&snap).Error; err != nil {
		t.Fatalf("seeding snapshot: %v", err)
	}
}

func TestInsertSnapshotAssignsIDAndTimestamp(t *testing.T) {
	store := newTestStore(t)

	snap, err := store.InsertSnapshot(context.Background(), "Zezima", overallStats(1000))
	if err != nil {
		t.Fatalf("InsertSnapshot returned error: %v", err)
	}
	if snap.ID == 0 {
		t.Error("expected a store-assigned id")
	}
	if snap.CreatedAt.IsZero() {
		t.Error("expected a store-assigned created_at")
	}
	if snap.Username != "Zezima" {
		t.Errorf("Username = %q, want %q", snap.Username, "Zezima")
	}
}

func TestInsertSnapshotAlwaysAppends(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.InsertSnapshot(ctx, "Zezima", overallStats(1000))
	if err != nil {
		t.Fatalf("InsertSnapshot returned error: %v", err)
	}
	second, err := store.InsertSnapshot(ctx, "Zezima", overallStats(1000))
	if err != nil {
		t.Fatalf("InsertSnapshot returned error: %v", err)
	}
	if first.ID == second.ID {
		t.Error("identical payloads must still create distinct rows")
	}

	snaps, err := store.LatestSnapshots(ctx, "Zezima", 10)
	if err != nil {
		t.Fatalf("LatestSnapshots returned error: %v", err)
	}
	if len(snaps) != 2 {
		t.Errorf("stored rows = %d, want 2", len(snaps))
	}
}

func TestLatestSnapshotsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, v := range []int64{1000, 2000, 3000} {
		seed(t, store, "Zezima", overallStats(v), base.Add(time.Duration(i)*time.Hour))
	}

	snaps, err := store.LatestSnapshots(ctx, "Zezima", 2)
	if err != nil {
		t.Fatalf("LatestSnapshots returned error: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snaps))
	}

	newest, _ := snaps[0].Stats.Aggregate()
	older, _ := snaps[1].Stats.Aggregate()
	if newest.Value != 3000 || older.Value != 2000 {
		t.Errorf("got aggregates %d, %d; want 3000, 2000 (newest first)", newest.Value, older.Value)
	}
	if !reflect.DeepEqual(snaps[0].Stats, overallStats(3000)) {
		t.Errorf("stats did not round-trip: %+v", snaps[0].Stats)
	}
}

func TestLatestSnapshotsEmptyHistory(t *testing.T) {
	store := newTestStore(t)

	snaps, err := store.LatestSnapshots(context.Background(), "Zezima", 2)
	if err != nil {
		t.Fatalf("no history must not be an error, got %v", err)
	}
	if len(snaps) != 0 {
		t.Errorf("got %d snapshots, want 0", len(snaps))
	}
}

func TestLatestSnapshotsFiltersByUsername(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.InsertSnapshot(ctx, "Zezima", overallStats(1000)); err != nil {
		t.Fatalf("InsertSnapshot returned error: %v", err)
	}
	if _, err := store.InsertSnapshot(ctx, "Woox", overallStats(2000)); err != nil {
		t.Fatalf("InsertSnapshot returned error: %v", err)
	}

	snaps, err := store.LatestSnapshots(ctx, "Zezima", 10)
	if err != nil {
		t.Fatalf("LatestSnapshots returned error: %v", err)
	}
	for _, snap := range snaps {
		if snap.Username != "Zezima" {
			t.Errorf("unexpected row for %q", snap.Username)
		}
	}
}

func TestListTrackedUsernames(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, username := range []string{"Zezima", "Zezima", "Woox"} {
		if _, err := store.InsertSnapshot(ctx, username, overallStats(1000)); err != nil {
			t.Fatalf("InsertSnapshot returned error: %v", err)
		}
	}

	usernames, err := store.ListTrackedUsernames(ctx)
	if err != nil {
		t.Fatalf("ListTrackedUsernames returned error: %v", err)
	}
	sort.Strings(usernames)
	want := []string{"Woox", "Zezima"}
	if !reflect.DeepEqual(usernames, want) {
		t.Errorf("usernames = %v, want %v", usernames, want)
	}
}

func TestCanonicalUsername(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.InsertSnapshot(ctx, "Zezima", overallStats(1000)); err != nil {
		t.Fatalf("InsertSnapshot returned error: %v", err)
	}

	for _, lookup := range []string{"zezima", "ZEZIMA", "Zezima"} {
		got, err := store.CanonicalUsername(ctx, lookup)
		if err != nil {
			t.Fatalf("CanonicalUsername(%q) returned error: %v", lookup, err)
		}
		if got != "Zezima" {
			t.Errorf("CanonicalUsername(%q) = %q, want first-seen casing %q", lookup, got, "Zezima")
		}
	}

	got, err := store.CanonicalUsername(ctx, "B0aty")
	if err != nil {
		t.Fatalf("CanonicalUsername returned error: %v", err)
	}
	if got != "B0aty" {
		t.Errorf("untracked name came back as %q, want unchanged", got)
	}
}

func TestSnapshotsSince(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, v := range []int64{1000, 2000, 3000} {
		seed(t, store, "Zezima", overallStats(v), base.Add(time.Duration(i)*time.Hour))
	}

	snaps, err := store.SnapshotsSince(ctx, "Zezima", base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("SnapshotsSince returned error: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snaps))
	}
	first, _ := snaps[0].Stats.Aggregate()
	if first.Value != 2000 {
		t.Errorf("oldest returned aggregate = %d, want 2000 (ascending order)", first.Value)
	}

	all, err := store.SnapshotsSince(ctx, "Zezima", time.Time{})
	if err != nil {
		t.Fatalf("SnapshotsSince returned error: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("zero since returned %d snapshots, want full history of 3", len(all))
	}
}

func TestStoreErrorSurfaces(t *testing.T) {
	store := newTestStore(t)
	if err := store.db.Migrator().DropTable(&models.Snapshot{}); err != nil {
		t.Fatalf("dropping table: %v", err)
	}

	_, err := store.LatestSnapshots(context.Background(), "Zezima", 2)
	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected StoreError, got %v", err)
	}
}
