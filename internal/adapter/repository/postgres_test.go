package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hive-corporation/threatfeed/internal/core/domain"
)

type fakeBatchResults struct {
	execs  int
	failAt int
	closed bool
}

func (b *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	b.execs++
	if b.failAt > 0 && b.execs == b.failAt {
		return pgconn.CommandTag{}, errors.New("unique violation")
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (b *fakeBatchResults) Query() (pgx.Rows, error) { return nil, errors.New("not used") }
func (b *fakeBatchResults) QueryRow() pgx.Row        { return nil }
func (b *fakeBatchResults) Close() error             { b.closed = true; return nil }

type fakeRow struct {
	payload []byte
	err     error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*[]byte)) = r.payload
	return nil
}

type fakeRows struct {
	rows    []ArchivedSnapshot
	pos     int
	scanErr error
	err     error
	closed  bool
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, errors.New("not used") }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	row := r.rows[r.pos-1]
	*(dest[0].(*string)) = row.ID
	*(dest[1].(*string)) = row.Source
	*(dest[2].(*time.Time)) = row.IngestedAt
	*(dest[3].(*int)) = row.EmailsScanned
	*(dest[4].(*int)) = row.ThreatsDetected
	*(dest[5].(*int)) = row.QuarantinedItems
	return nil
}

type fakeDB struct {
	batch     *pgx.Batch
	results   *fakeBatchResults
	row       fakeRow
	rows      *fakeRows
	queryErr  error
	queryArgs []any
	execSQL   []string
}

func (db *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	db.execSQL = append(db.execSQL, sql)
	return pgconn.CommandTag{}, nil
}

func (db *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row { return db.row }

func (db *fakeDB) Query(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
	db.queryArgs = args
	if db.queryErr != nil {
		return nil, db.queryErr
	}
	return db.rows, nil
}

func (db *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	db.batch = b
	return db.results
}

func testSnapshot() *domain.Snapshot {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	records := []domain.ThreatRecord{
		{ID: "a", Timestamp: ts, RawType: "Spam", Type: domain.Spam, RiskScore: 10, Risk: domain.Low},
		{ID: "b", Timestamp: ts, RawType: "Malware", Type: domain.Malware, RiskScore: 95, Risk: domain.Critical,
			Status: "quarantined", Details: domain.Details{Subject: "invoice", Sender: "x@evil.example"}},
	}
	return domain.NewSnapshot("snap-1", "test", ts, records, domain.FeedCounters{EmailsScanned: 50, ThreatsDetected: 2, QuarantinedItems: 1})
}

func TestSaveSnapshot_QueuesHeaderAndRecords(t *testing.T) {
	db := &fakeDB{results: &fakeBatchResults{}}
	repo := NewPostgresRepository(db)

	if err := repo.SaveSnapshot(context.Background(), testSnapshot(), []byte(`{}`)); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	if db.batch.Len() != 3 {
		t.Fatalf("batch has %d queries, want 3", db.batch.Len())
	}
	if db.results.execs != 3 || !db.results.closed {
		t.Errorf("execs=%d closed=%v", db.results.execs, db.results.closed)
	}

	header := db.batch.QueuedQueries[0]
	if !strings.Contains(header.SQL, "feed_snapshots") || header.Arguments[0] != "snap-1" {
		t.Errorf("unexpected header query: %s %v", header.SQL, header.Arguments)
	}

	// Records are archived in snapshot order: risk descending.
	first := db.batch.QueuedQueries[1]
	if first.Arguments[1] != "b" || first.Arguments[6] != "Critical" {
		t.Errorf("first record args = %v", first.Arguments)
	}
}

func TestSaveSnapshot_PropagatesExecError(t *testing.T) {
	db := &fakeDB{results: &fakeBatchResults{failAt: 2}}
	repo := NewPostgresRepository(db)

	err := repo.SaveSnapshot(context.Background(), testSnapshot(), []byte(`{}`))
	if err == nil || !strings.Contains(err.Error(), "snap-1") {
		t.Fatalf("expected archive error naming the snapshot, got %v", err)
	}
	if !db.results.closed {
		t.Error("batch results not closed")
	}
}

func TestLatestPayload(t *testing.T) {
	db := &fakeDB{row: fakeRow{payload: []byte(`{"summary":{}}`)}}
	p := NewArchiveFeedProvider(NewPostgresRepository(db))

	data, err := p.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(data) != `{"summary":{}}` {
		t.Errorf("payload = %s", data)
	}

	empty := NewPostgresRepository(&fakeDB{row: fakeRow{err: pgx.ErrNoRows}})
	if _, err := empty.LatestPayload(context.Background()); !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("expected ErrNoSnapshot, got %v", err)
	}
}

func TestMigrate(t *testing.T) {
	db := &fakeDB{}
	if err := NewPostgresRepository(db).Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if len(db.execSQL) != 1 || !strings.Contains(db.execSQL[0], "CREATE TABLE IF NOT EXISTS threat_records") {
		t.Errorf("unexpected migration SQL: %v", db.execSQL)
	}
}

func TestListSnapshots(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := &fakeRows{rows: []ArchivedSnapshot{
		{ID: "snap-2", Source: "kafka:feed", IngestedAt: ts, EmailsScanned: 1200, ThreatsDetected: 3, QuarantinedItems: 2},
		{ID: "snap-1", Source: "kafka:feed", IngestedAt: ts.Add(-time.Hour), EmailsScanned: 900, ThreatsDetected: 1},
	}}
	db := &fakeDB{rows: rows}

	got, err := NewPostgresRepository(db).ListSnapshots(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListSnapshots failed: %v", err)
	}
	if len(db.queryArgs) != 1 || db.queryArgs[0] != 10 {
		t.Errorf("query args = %v, want [10]", db.queryArgs)
	}
	if len(got) != 2 || got[0] != rows.rows[0] || got[1] != rows.rows[1] {
		t.Errorf("ListSnapshots = %+v", got)
	}
	if !rows.closed {
		t.Error("rows not closed")
	}
}

func TestListSnapshots_Errors(t *testing.T) {
	one := []ArchivedSnapshot{{ID: "snap-1"}}

	tests := []struct {
		name string
		db   *fakeDB
		want string
	}{
		{"query", &fakeDB{queryErr: errors.New("connection refused")}, "failed to query snapshots"},
		{"scan", &fakeDB{rows: &fakeRows{rows: one, scanErr: errors.New("bad column")}}, "failed to scan snapshot"},
		{"iteration", &fakeDB{rows: &fakeRows{err: errors.New("conn closed")}}, "error iterating rows"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPostgresRepository(tt.db).ListSnapshots(context.Background(), 5)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want %q", err, tt.want)
			}
			if tt.db.rows != nil && !tt.db.rows.closed {
				t.Error("rows not closed")
			}
		})
	}
}
