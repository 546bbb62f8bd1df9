package snapshots

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fastprodman/balancesync/internal/repos/snapshots"
)

var _ snapshots.Store = (*snapshotsRepo)(nil)

type snapshotsRepo struct{ db *sql.DB }

func New(db *sql.DB) *snapshotsRepo {
	return &snapshotsRepo{db: db}
}

func (r *snapshotsRepo) Save(ctx context.Context, sessionID string, rec snapshots.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	// stale versions leave the stored row untouched
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO session_snapshots (session_id, version, record, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (session_id) DO UPDATE
		SET version = EXCLUDED.version,
		    record = EXCLUDED.record,
		    updated_at = EXCLUDED.updated_at
		WHERE session_snapshots.version <= EXCLUDED.version
	`, sessionID, rec.Snapshot.Version, string(data))
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	return nil
}

func (r *snapshotsRepo) Load(ctx context.Context, sessionID string) (snapshots.Record, error) {
	var data []byte

	err := r.db.QueryRowContext(ctx, `
		SELECT record
		FROM session_snapshots
		WHERE session_id = $1
	`, sessionID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return snapshots.Record{}, snapshots.ErrNotFound
		}

		return snapshots.Record{}, fmt.Errorf("load snapshot: %w", err)
	}

	var rec snapshots.Record

	err = json.Unmarshal(data, &rec)
	if err != nil {
		return snapshots.Record{}, fmt.Errorf("decode snapshot: %w", err)
	}

	return rec, nil
}
