package memory

import (
	"context"
	"sync"

	"github.com/vietddude/egress/internal/infra/storage"
)

// MemoryStorage keeps the latest snapshot in process. Snapshots are stored
// encoded so later mutation by the caller cannot leak in.
type MemoryStorage struct {
	data  []byte
	saves int
	mu    sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (s *MemoryStorage) Save(ctx context.Context, snap *storage.Snapshot) error {
	data, err := storage.Encode(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	s.saves++
	return nil
}

func (s *MemoryStorage) Load(ctx context.Context) (*storage.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return nil, storage.ErrSnapshotNotFound
	}
	return storage.Decode(s.data)
}

// Saves reports how many snapshots were written.
func (s *MemoryStorage) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

func (s *MemoryStorage) Close() error {
	return nil
}
