// Package feed holds the served threat feed. A Store publishes immutable
// snapshots through a single atomic pointer: readers never lock and always see
// one whole snapshot, while ingestions are serialized behind a mutex.
package feed

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hive-corporation/threatfeed/internal/core/domain"
	"github.com/hive-corporation/threatfeed/internal/core/ports"
	"github.com/hive-corporation/threatfeed/internal/metrics"
)

const DefaultIngestTimeout = 30 * time.Second

type State int

const (
	StateEmpty State = iota
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "empty"
	}
}

// view is what readers load. It is never modified after publication.
type view struct {
	snapshot    *domain.Snapshot
	state       State
	lastErr     *IngestionError
	lastAttempt time.Time
}

// Status describes the store for health reporting.
type Status struct {
	State       State
	SnapshotID  string
	Source      string
	IngestedAt  time.Time
	Records     int
	LastAttempt time.Time
	LastError   string
}

type Store struct {
	current  atomic.Pointer[view]
	ingestMu sync.Mutex

	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string
}

type Option func(*Store)

// WithIngestTimeout bounds every gateway fetch.
func WithIngestTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore returns an Empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		timeout: DefaultIngestTimeout,
		logger:  zap.NewNop(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.current.Store(&view{state: StateEmpty})
	return s
}

// Ingest fetches one payload from the gateway and publishes it as the new
// snapshot. Concurrent calls queue; they are never interleaved.
func (s *Store) Ingest(ctx context.Context, gw ports.FeedGateway) (*domain.Snapshot, error) {
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	timer := metrics.StartTimer()
	defer timer.ObserveDuration()

	payload, err := s.fetch(ctx, gw)
	if err != nil {
		return nil, s.fail(err)
	}
	return s.apply(gw.Name(), payload)
}

// IngestPayload publishes an already fetched payload.
func (s *Store) IngestPayload(source string, payload []byte) (*domain.Snapshot, error) {
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	return s.apply(source, payload)
}

// fetch runs the gateway under the ingest timeout. A gateway that ignores its
// context is abandoned when the deadline passes.
func (s *Store) fetch(ctx context.Context, gw ports.FeedGateway) ([]byte, *IngestionError) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type result struct {
		payload []byte
		err     error
	}
	done := make(chan result, 1)
	go func() {
		payload, err := gw.Fetch(ctx)
		done <- result{payload, err}
	}()

	select {
	case r := <-done:
		if r.err == nil {
			return r.payload, nil
		}
		if errors.Is(r.err, context.DeadlineExceeded) {
			return nil, &IngestionError{Source: gw.Name(), Kind: ErrTimeout, Err: r.err}
		}
		return nil, &IngestionError{Source: gw.Name(), Kind: ErrTransport, Err: r.err}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &IngestionError{Source: gw.Name(), Kind: ErrTimeout, Err: ctx.Err()}
		}
		return nil, &IngestionError{Source: gw.Name(), Kind: ErrTransport, Err: ctx.Err()}
	}
}

func (s *Store) apply(source string, payload []byte) (*domain.Snapshot, error) {
	records, counters, err := decodePayload(payload)
	if err != nil {
		return nil, s.fail(&IngestionError{Source: source, Kind: ErrMalformed, Err: err})
	}

	now := s.now()
	snap := domain.NewSnapshot(s.newID(), source, now, records, counters)
	s.current.Store(&view{snapshot: snap, state: StateReady, lastAttempt: now})

	metrics.RecordIngestion("success", source, "")
	metrics.RecordSnapshot(snap)

	s.logger.Info("feed snapshot published",
		zap.String("snapshot_id", snap.ID),
		zap.String("source", source),
		zap.Int("records", snap.Len()),
		zap.Int("emails_scanned", snap.Summary.EmailsScanned),
		zap.Int("quarantined_items", snap.Summary.QuarantinedItems),
	)
	for _, d := range snap.Summary.Discrepancies {
		s.logger.Warn("feed summary diverges from records",
			zap.String("snapshot_id", snap.ID),
			zap.String("discrepancy", d),
		)
	}

	return snap, nil
}

// fail records the error without touching a previously served snapshot.
func (s *Store) fail(ierr *IngestionError) error {
	prev := s.current.Load()
	next := &view{
		snapshot:    prev.snapshot,
		state:       StateFailed,
		lastErr:     ierr,
		lastAttempt: s.now(),
	}
	if prev.snapshot != nil {
		next.state = StateReady
	}
	s.current.Store(next)

	metrics.RecordIngestion("error", ierr.Source, ierr.KindName())
	s.logger.Error("feed ingestion failed",
		zap.String("source", ierr.Source),
		zap.String("kind", ierr.KindName()),
		zap.Bool("serving_previous", prev.snapshot != nil),
		zap.Error(ierr.Err),
	)
	return ierr
}

func (s *Store) State() State { return s.current.Load().state }

// Snapshot returns the served snapshot, or nil while none exists.
func (s *Store) Snapshot() *domain.Snapshot { return s.current.Load().snapshot }

// LastError is the error of the most recent attempt, nil if it succeeded.
func (s *Store) LastError() error {
	if e := s.current.Load().lastErr; e != nil {
		return e
	}
	return nil
}

// Current returns the served snapshot, or the not-ready error, from a single
// read of the store.
func (s *Store) Current() (*domain.Snapshot, error) {
	v := s.current.Load()
	if v.snapshot == nil {
		return nil, notReady(v)
	}
	return v.snapshot, nil
}

// Summary returns the served summary. The discrepancy list is a copy.
func (s *Store) Summary() (domain.Summary, error) {
	snap, err := s.Current()
	if err != nil {
		return domain.Summary{}, err
	}
	sum := snap.Summary
	sum.Discrepancies = slices.Clone(sum.Discrepancies)
	return sum, nil
}

// Query returns the current snapshot's records for a filter, risk-descending.
func (s *Store) Query(f domain.Filter) ([]domain.ThreatRecord, error) {
	snap, err := s.Current()
	if err != nil {
		return nil, err
	}
	return snap.Query(f), nil
}

func (s *Store) Find(id string) (domain.ThreatRecord, error) {
	snap, err := s.Current()
	if err != nil {
		return domain.ThreatRecord{}, err
	}
	r, ok := snap.Find(id)
	if !ok {
		return domain.ThreatRecord{}, ErrNotFound
	}
	return r, nil
}

func (s *Store) Status() Status {
	v := s.current.Load()
	st := Status{State: v.state, LastAttempt: v.lastAttempt}
	if v.snapshot != nil {
		st.SnapshotID = v.snapshot.ID
		st.Source = v.snapshot.Source
		st.IngestedAt = v.snapshot.IngestedAt
		st.Records = v.snapshot.Len()
	}
	if v.lastErr != nil {
		st.LastError = v.lastErr.Error()
	}
	return st
}

func notReady(v *view) error {
	if v.lastErr != nil {
		return errors.Join(ErrNotReady, v.lastErr)
	}
	return ErrNotReady
}
