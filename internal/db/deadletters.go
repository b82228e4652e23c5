package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/austindbirch/outboundiq/internal/delivery"
)

const schemaSQL = `
CREATE SCHEMA IF NOT EXISTS outboundiq;
CREATE TABLE IF NOT EXISTS outboundiq.dead_letters (
	id          BIGSERIAL PRIMARY KEY,
	job_id      TEXT        NOT NULL,
	reason      TEXT        NOT NULL,
	attempt     INT         NOT NULL,
	http_status INT,
	last_error  TEXT,
	batch_size  INT         NOT NULL,
	payload     JSONB       NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS dead_letters_created_at_idx ON outboundiq.dead_letters (created_at);
`

const insertDeadLetterSQL = `
INSERT INTO outboundiq.dead_letters (job_id, reason, attempt, http_status, last_error, batch_size, payload)
VALUES ($1, $2, $3, NULLIF($4, 0), NULLIF($5, ''), $6, $7)`

// Execer is satisfied by *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// DeadLetterStore keeps exhausted metric batches in Postgres so they can be
// inspected or replayed.
type DeadLetterStore struct {
	db Execer
}

func NewDeadLetterStore(db Execer) *DeadLetterStore {
	return &DeadLetterStore{db: db}
}

// EnsureSchema creates the dead letter table if it does not exist.
func (s *DeadLetterStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create dead letter schema: %w", err)
	}
	return nil
}

func (s *DeadLetterStore) SaveDeadLetter(ctx context.Context, dl delivery.DeadLetter) error {
	payload, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	_, err = s.db.Exec(ctx, insertDeadLetterSQL,
		dl.Job.ID, dl.Reason, dl.Attempt, dl.HTTPStatus, dl.LastError, len(dl.Job.Metrics), payload)
	if err != nil {
		return fmt.Errorf("insert dead letter %s: %w", dl.Job.ID, err)
	}
	return nil
}
