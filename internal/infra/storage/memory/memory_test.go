package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/egress/internal/infra/storage"
	"github.com/vietddude/egress/internal/routing/reputation"
)

func TestMemoryStorage(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	if _, err := s.Load(ctx); !errors.Is(err, storage.ErrSnapshotNotFound) {
		t.Fatalf("Expected ErrSnapshotNotFound, got %v", err)
	}

	snap := storage.NewSnapshot(time.Now())
	snap.Domains = []reputation.DomainSnapshot{{Domain: "example.com", Bans: 3}}
	if err := s.Save(ctx, snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	snap.Domains[0].Bans = 100

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Domains[0].Bans != 3 {
		t.Errorf("Expected stored copy to keep 3 bans, got %d", got.Domains[0].Bans)
	}
	if s.Saves() != 1 {
		t.Errorf("Expected 1 save, got %d", s.Saves())
	}
}
