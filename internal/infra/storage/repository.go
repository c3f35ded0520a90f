// Package storage persists snapshots of the routing state.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/egress/internal/infra/egress/cost"
	"github.com/vietddude/egress/internal/infra/egress/registry"
	"github.com/vietddude/egress/internal/routing/reputation"
)

var (
	// ErrSnapshotNotFound is returned when no snapshot has been saved yet
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// SnapshotVersion is bumped on incompatible layout changes.
const SnapshotVersion = 1

// Snapshot is the complete persisted state: domain reputations, proxy and
// per-site statistics, and accumulated cost.
type Snapshot struct {
	Version int                         `json:"version"`
	ID      string                      `json:"id"`
	TakenAt time.Time                   `json:"taken_at"`
	Domains []reputation.DomainSnapshot `json:"domains"`
	Proxies []registry.ProxySnapshot    `json:"proxies"`
	Sites   []registry.SiteSnapshot     `json:"sites"`
	Costs   cost.Snapshot               `json:"costs"`
}

// NewSnapshot stamps an empty snapshot with a fresh ID.
func NewSnapshot(takenAt time.Time) *Snapshot {
	return &Snapshot{
		Version: SnapshotVersion,
		ID:      uuid.NewString(),
		TakenAt: takenAt.UTC(),
	}
}

// SnapshotStore saves and loads the latest snapshot.
type SnapshotStore interface {
	// Save persists snap, replacing the latest one
	Save(ctx context.Context, snap *Snapshot) error

	// Load returns the latest snapshot or ErrSnapshotNotFound
	Load(ctx context.Context) (*Snapshot, error)

	// Close releases backend resources
	Close() error
}

// Encode serialises a snapshot.
func Encode(snap *Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// Decode parses a snapshot and rejects unknown versions.
func Decode(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	return &snap, nil
}
