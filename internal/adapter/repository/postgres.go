package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hive-corporation/threatfeed/internal/core/domain"
)

// Schema creates the archive tables. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS feed_snapshots (
	id                TEXT PRIMARY KEY,
	source            TEXT NOT NULL,
	ingested_at       TIMESTAMPTZ NOT NULL,
	emails_scanned    INTEGER NOT NULL,
	threats_detected  INTEGER NOT NULL,
	quarantined_items INTEGER NOT NULL,
	payload           JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS threat_records (
	snapshot_id TEXT NOT NULL REFERENCES feed_snapshots(id) ON DELETE CASCADE,
	id          TEXT NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL,
	raw_type    TEXT NOT NULL,
	threat_type TEXT NOT NULL,
	risk_score  INTEGER NOT NULL,
	risk_level  TEXT NOT NULL,
	status      TEXT NOT NULL,
	subject     TEXT NOT NULL,
	sender      TEXT NOT NULL,
	PRIMARY KEY (snapshot_id, id)
);

CREATE INDEX IF NOT EXISTS feed_snapshots_ingested_at_idx ON feed_snapshots (ingested_at DESC);
`

// DB is the subset of *pgxpool.Pool the repository uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// ArchivedSnapshot is a row of feed_snapshots without its payload.
type ArchivedSnapshot struct {
	ID               string
	Source           string
	IngestedAt       time.Time
	EmailsScanned    int
	ThreatsDetected  int
	QuarantinedItems int
}

// ErrNoSnapshot is returned when the archive holds nothing yet.
var ErrNoSnapshot = errors.New("no archived snapshot")

type PostgresRepository struct {
	db DB
}

func NewPostgresRepository(db DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create archive schema: %w", err)
	}
	return nil
}

// SaveSnapshot stores the snapshot header, its replayable payload and one row
// per record in a single batch.
func (r *PostgresRepository) SaveSnapshot(ctx context.Context, snap *domain.Snapshot, payload []byte) error {
	batch := &pgx.Batch{}

	batch.Queue(`
		INSERT INTO feed_snapshots (id, source, ingested_at, emails_scanned, threats_detected, quarantined_items, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`,
		snap.ID,
		snap.Source,
		snap.IngestedAt,
		snap.Summary.EmailsScanned,
		snap.Counters.ThreatsDetected,
		snap.Summary.QuarantinedItems,
		payload,
	)

	query := `
		INSERT INTO threat_records (snapshot_id, id, observed_at, raw_type, threat_type, risk_score, risk_level, status, subject, sender)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (snapshot_id, id) DO NOTHING
	`
	for _, rec := range snap.Query(domain.FilterAll) {
		batch.Queue(query,
			snap.ID,
			rec.ID,
			rec.Timestamp,
			rec.RawType,
			string(rec.Type),
			rec.RiskScore,
			string(rec.Risk),
			rec.Status,
			rec.Details.Subject,
			rec.Details.Sender,
		)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to archive snapshot %s: %w", snap.ID, err)
		}
	}

	return nil
}

// LatestPayload returns the replayable payload of the most recent snapshot.
func (r *PostgresRepository) LatestPayload(ctx context.Context) ([]byte, error) {
	query := `
		SELECT payload
		FROM feed_snapshots
		ORDER BY ingested_at DESC
		LIMIT 1
	`

	var payload []byte
	err := r.db.QueryRow(ctx, query).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest snapshot: %w", err)
	}

	return payload, nil
}

// ListSnapshots returns the most recent snapshot headers, newest first.
func (r *PostgresRepository) ListSnapshots(ctx context.Context, limit int) ([]ArchivedSnapshot, error) {
	query := `
		SELECT id, source, ingested_at, emails_scanned, threats_detected, quarantined_items
		FROM feed_snapshots
		ORDER BY ingested_at DESC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []ArchivedSnapshot

	for rows.Next() {
		var s ArchivedSnapshot
		err := rows.Scan(
			&s.ID,
			&s.Source,
			&s.IngestedAt,
			&s.EmailsScanned,
			&s.ThreatsDetected,
			&s.QuarantinedItems,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return snapshots, nil
}

// ArchiveFeedProvider replays the latest archived snapshot as a feed, so a
// restarted service can serve before its upstream answers.
type ArchiveFeedProvider struct {
	repo *PostgresRepository
}

func NewArchiveFeedProvider(repo *PostgresRepository) *ArchiveFeedProvider {
	return &ArchiveFeedProvider{repo: repo}
}

func (p *ArchiveFeedProvider) Name() string {
	return "postgres-archive"
}

func (p *ArchiveFeedProvider) Fetch(ctx context.Context) ([]byte, error) {
	return p.repo.LatestPayload(ctx)
}
