package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoSnapshot is returned when a collection has never been ingested
// from an export.
var ErrNoSnapshot = errors.New("no export snapshot recorded")

// Snapshot points at the export a collection was last built from.
type Snapshot struct {
	Collection    string    `json:"collection"`
	ObjectKey     string    `json:"object_key"`
	ContentHash   string    `json:"content_hash"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Documents     int       `json:"documents"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Snapshots struct {
	pool *pgxpool.Pool
}

func NewSnapshots(pool *pgxpool.Pool) *Snapshots {
	return &Snapshots{pool: pool}
}

func (s *Snapshots) Save(ctx context.Context, snap Snapshot) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO export_snapshots (collection, object_key, content_hash, correlation_id, documents, updated_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (collection) DO UPDATE SET
	object_key = EXCLUDED.object_key,
	content_hash = EXCLUDED.content_hash,
	correlation_id = EXCLUDED.correlation_id,
	documents = EXCLUDED.documents,
	updated_at = now()`,
		snap.Collection, snap.ObjectKey, snap.ContentHash, snap.CorrelationID, snap.Documents,
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (s *Snapshots) Latest(ctx context.Context, collection string) (Snapshot, error) {
	var snap Snapshot
	err := s.pool.QueryRow(ctx, `
SELECT collection, object_key, content_hash, correlation_id, documents, updated_at
FROM export_snapshots WHERE collection = $1`, collection,
	).Scan(&snap.Collection, &snap.ObjectKey, &snap.ContentHash, &snap.CorrelationID, &snap.Documents, &snap.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return snap, nil
}
