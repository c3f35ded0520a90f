package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/vietddude/egress/internal/infra/storage"
	"github.com/vietddude/egress/internal/routing/reputation"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("EGRESS_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("EGRESS_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := NewDB(ctx, Config{URL: url})
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	if _, err := db.ExecContext(ctx, "TRUNCATE egress_snapshots"); err != nil {
		t.Fatalf("Failed to truncate: %v", err)
	}
	return db
}

func TestSnapshotRepo(t *testing.T) {
	db := openTestDB(t)
	repo := NewSnapshotRepo(db, 2)
	defer repo.Close()
	ctx := context.Background()

	if _, err := repo.Load(ctx); !errors.Is(err, storage.ErrSnapshotNotFound) {
		t.Fatalf("Expected ErrSnapshotNotFound, got %v", err)
	}

	base := time.Now().UTC().Truncate(time.Second)
	var last *storage.Snapshot
	for i := 0; i < 3; i++ {
		snap := storage.NewSnapshot(base.Add(time.Duration(i) * time.Minute))
		snap.Domains = []reputation.DomainSnapshot{{Domain: "example.com", Bans: uint64(i)}}
		if err := repo.Save(ctx, snap); err != nil {
			t.Fatalf("Save %d failed: %v", i, err)
		}
		last = snap
	}

	got, err := repo.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.ID != last.ID || got.Domains[0].Bans != 2 {
		t.Errorf("Expected newest snapshot, got %s with %d bans", got.ID, got.Domains[0].Bans)
	}

	infos, err := repo.List(ctx, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(infos) != 2 {
		t.Errorf("Expected 2 retained snapshots, got %d", len(infos))
	}
}
