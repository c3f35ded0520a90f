package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/egress/internal/infra/storage"
)

const defaultKeep = 10

type snapshotRow struct {
	ID      string    `db:"id"`
	Version int       `db:"version"`
	TakenAt time.Time `db:"taken_at"`
	Payload string    `db:"payload"`
}

// SnapshotInfo describes a stored snapshot without its payload.
type SnapshotInfo struct {
	ID      string    `db:"id"`
	Version int       `db:"version"`
	TakenAt time.Time `db:"taken_at"`
	Size    int       `db:"size"`
}

// SnapshotRepo implements storage.SnapshotStore using PostgreSQL. It keeps
// the most recent snapshots and loads the newest.
type SnapshotRepo struct {
	db   *DB
	keep int
}

// NewSnapshotRepo creates a new PostgreSQL snapshot repository.
func NewSnapshotRepo(db *DB, keep int) *SnapshotRepo {
	if keep <= 0 {
		keep = defaultKeep
	}
	return &SnapshotRepo{db: db, keep: keep}
}

// Save inserts the snapshot and trims old ones in one transaction.
func (r *SnapshotRepo) Save(ctx context.Context, snap *storage.Snapshot) error {
	payload, err := storage.Encode(snap)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO egress_snapshots (id, version, taken_at, payload)
		VALUES (:id, :version, :taken_at, CAST(:payload AS jsonb))
		ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, taken_at = EXCLUDED.taken_at`,
		snapshotRow{ID: snap.ID, Version: snap.Version, TakenAt: snap.TakenAt, Payload: string(payload)},
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM egress_snapshots
		WHERE id NOT IN (SELECT id FROM egress_snapshots ORDER BY taken_at DESC LIMIT $1)`,
		r.keep,
	)
	if err != nil {
		return fmt.Errorf("failed to trim snapshots: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// Load returns the newest snapshot.
func (r *SnapshotRepo) Load(ctx context.Context) (*storage.Snapshot, error) {
	var row snapshotRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, version, taken_at, payload::text AS payload
		FROM egress_snapshots
		ORDER BY taken_at DESC
		LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return storage.Decode([]byte(row.Payload))
}

// List returns up to limit snapshots, newest first.
func (r *SnapshotRepo) List(ctx context.Context, limit int) ([]SnapshotInfo, error) {
	var infos []SnapshotInfo
	err := r.db.SelectContext(ctx, &infos, `
		SELECT id, version, taken_at, octet_length(payload::text) AS size
		FROM egress_snapshots
		ORDER BY taken_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return infos, nil
}

// Close closes the database connection.
func (r *SnapshotRepo) Close() error {
	return r.db.Close()
}
