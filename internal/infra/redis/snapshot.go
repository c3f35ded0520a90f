package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/egress/internal/infra/storage"
)

// Save stores the snapshot under a single key.
func (c *Client) Save(ctx context.Context, snap *storage.Snapshot) error {
	data, err := storage.Encode(snap)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, c.snapshotKey(), data, 0).Err(); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	return nil
}

// Load returns the stored snapshot.
func (c *Client) Load(ctx context.Context) (*storage.Snapshot, error) {
	data, err := c.rdb.Get(ctx, c.snapshotKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get failed: %w", err)
	}
	return storage.Decode(data)
}
