package core

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AttemptRecord is one journal row. It never carries passwords or session codes.
type AttemptRecord struct {
	ID         int64       `json:"id"`
	ViewID     string      `json:"-"`
	Username   string      `json:"username"`
	Generation uint64      `json:"generation"`
	Outcome    OutcomeKind `json:"outcome"`
	Detail     string      `json:"detail,omitempty"`
	Superseded bool        `json:"superseded"`
	FinishedAt time.Time   `json:"finished_at"`
}

// NewAttemptRecord projects a resolved attempt into a journal row.
func NewAttemptRecord(viewID string, res AttemptResult) AttemptRecord {
	rec := AttemptRecord{
		ViewID:     viewID,
		Username:   res.Username,
		Generation: res.Generation,
		Outcome:    res.Outcome.Kind,
		Superseded: res.Superseded,
		FinishedAt: res.FinishedAt,
	}
	if res.Outcome.Kind == OutcomeTransportError {
		rec.Detail = res.Outcome.Detail
	}
	return rec
}

// AttemptRecorder persists resolved attempts.
type AttemptRecorder interface {
	Record(ctx context.Context, rec AttemptRecord) error
	Recent(ctx context.Context, viewID string, limit int) ([]AttemptRecord, error)
}

// NopAttemptRecorder is used when no database is configured.
type NopAttemptRecorder struct{}

func (NopAttemptRecorder) Record(context.Context, AttemptRecord) error { return nil }

func (NopAttemptRecorder) Recent(context.Context, string, int) ([]AttemptRecord, error) {
	return []AttemptRecord{}, nil
}

// PgAttemptRepository implements AttemptRecorder using pgxpool.
type PgAttemptRepository struct {
	db *pgxpool.Pool
}

func NewPgAttemptRepository(db *pgxpool.Pool) *PgAttemptRepository {
	return &PgAttemptRepository{db: db}
}

const attemptSchema = `
CREATE TABLE IF NOT EXISTS login_attempts (
	id          BIGSERIAL PRIMARY KEY,
	view_id     TEXT        NOT NULL,
	username    TEXT        NOT NULL,
	generation  BIGINT      NOT NULL,
	outcome     TEXT        NOT NULL,
	detail      TEXT        NOT NULL DEFAULT '',
	superseded  BOOLEAN     NOT NULL DEFAULT FALSE,
	finished_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS login_attempts_view_idx ON login_attempts (view_id, finished_at DESC);
`

// EnsureSchema creates the journal table when missing.
func (r *PgAttemptRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, attemptSchema)
	return err
}

func (r *PgAttemptRepository) Record(ctx context.Context, rec AttemptRecord) error {
	const q = `INSERT INTO login_attempts (view_id, username, generation, outcome, detail, superseded, finished_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := r.db.Exec(ctx, q, rec.ViewID, rec.Username, int64(rec.Generation), string(rec.Outcome), rec.Detail, rec.Superseded, rec.FinishedAt)
	return err
}

// Recent returns the newest attempts of a view, newest first.
func (r *PgAttemptRepository) Recent(ctx context.Context, viewID string, limit int) ([]AttemptRecord, error) {
	if limit <= 0 {
		return nil, errors.New("invalid limit")
	}
	rows, err := r.db.Query(ctx, `SELECT id, view_id, username, generation, outcome, detail, superseded, finished_at
FROM login_attempts WHERE view_id=$1 ORDER BY finished_at DESC, id DESC LIMIT $2`, viewID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]AttemptRecord, 0, limit)
	for rows.Next() {
		var (
			rec     AttemptRecord
			gen     int64
			outcome string
		)
		if err := rows.Scan(&rec.ID, &rec.ViewID, &rec.Username, &gen, &outcome, &rec.Detail, &rec.Superseded, &rec.FinishedAt); err != nil {
			return nil, err
		}
		rec.Generation = uint64(gen)
		rec.Outcome = OutcomeKind(outcome)
		items = append(items, rec)
	}
	return items, rows.Err()
}

// Prune deletes journal rows finished before cutoff and returns how many went.
func (r *PgAttemptRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM login_attempts WHERE finished_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
