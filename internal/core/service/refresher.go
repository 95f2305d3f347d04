package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hive-corporation/threatfeed/internal/core/domain"
	"github.com/hive-corporation/threatfeed/internal/core/feed"
	"github.com/hive-corporation/threatfeed/internal/core/ports"
)

// Refresher keeps a Store fed from one gateway. Every successful ingestion is
// archived and its new critical threats are announced. Failures are announced
// once when they start and once when the feed recovers.
type Refresher struct {
	store    *feed.Store
	gateway  ports.FeedGateway
	archive  ports.SnapshotArchive
	notifier ports.Notifier
	interval time.Duration
	logger   *zap.Logger

	mu             sync.Mutex
	failedAttempts int
}

type RefresherOption func(*Refresher)

func WithArchive(a ports.SnapshotArchive) RefresherOption {
	return func(r *Refresher) { r.archive = a }
}

func WithNotifier(n ports.Notifier) RefresherOption {
	return func(r *Refresher) { r.notifier = n }
}

func WithRefresherLogger(l *zap.Logger) RefresherOption {
	return func(r *Refresher) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRefresher builds a refresher. An interval of zero disables periodic runs;
// Run then ingests once and waits for cancellation.
func NewRefresher(store *feed.Store, gateway ports.FeedGateway, interval time.Duration, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		store:    store,
		gateway:  gateway,
		interval: interval,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run ingests immediately and then on every tick until ctx is cancelled.
// Ingestion failures are logged and reported, never returned.
func (r *Refresher) Run(ctx context.Context) error {
	_, _ = r.RefreshOnce(ctx)

	if r.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, _ = r.RefreshOnce(ctx)
		}
	}
}

// RefreshOnce performs a single ingestion cycle.
func (r *Refresher) RefreshOnce(ctx context.Context) (*domain.Snapshot, error) {
	prev := r.store.Snapshot()

	snap, err := r.store.Ingest(ctx, r.gateway)
	if err != nil {
		if r.markFailed() == 1 {
			r.reportFailure(err)
		}
		return nil, err
	}
	info := ports.SnapshotInfo{ID: snap.ID, Source: snap.Source, Summary: snap.Summary}

	if failed := r.markHealthy(); failed > 0 {
		r.logger.Info("feed ingestion recovered",
			zap.String("gateway", r.gateway.Name()),
			zap.Int("failed_attempts", failed),
		)
		r.reportRecovery(info, failed)
	}

	if r.archive != nil {
		if err := r.archiveSnapshot(ctx, snap); err != nil {
			r.logger.Error("failed to archive snapshot",
				zap.String("snapshot_id", snap.ID),
				zap.Error(err),
			)
		}
	}

	if fresh := NewCriticalThreats(prev, snap); len(fresh) > 0 && r.notifier != nil {
		if err := r.notifier.NotifyCriticalThreats(info, fresh); err != nil {
			r.logger.Warn("failed to send critical threat notification",
				zap.Int("threats", len(fresh)),
				zap.Error(err),
			)
		}
	}

	return snap, nil
}

func (r *Refresher) archiveSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	payload, err := feed.EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	return r.archive.SaveSnapshot(ctx, snap, payload)
}

// markFailed counts a failed attempt and returns the length of the current streak.
func (r *Refresher) markFailed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failedAttempts++
	return r.failedAttempts
}

// markHealthy ends a failure streak and returns how long it was.
func (r *Refresher) markHealthy() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.failedAttempts
	r.failedAttempts = 0
	return n
}

func (r *Refresher) reportRecovery(info ports.SnapshotInfo, failed int) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.NotifyIngestionRecovered(info, failed); err != nil {
		r.logger.Warn("failed to send ingestion recovery notification", zap.Error(err))
	}
}

func (r *Refresher) reportFailure(err error) {
	if r.notifier == nil {
		return
	}

	failure := ports.IngestionFailure{
		Source:       r.gateway.Name(),
		Kind:         "transport",
		Message:      err.Error(),
		ServingStale: r.store.Snapshot() != nil,
	}
	var ierr *feed.IngestionError
	if errors.As(err, &ierr) {
		failure.Kind = ierr.KindName()
		failure.Message = ierr.Err.Error()
	}

	if nerr := r.notifier.NotifyIngestionFailure(failure); nerr != nil {
		r.logger.Warn("failed to send ingestion failure notification", zap.Error(nerr))
	}
}

// NewCriticalThreats lists the Critical records of next whose ids were not in
// prev, in snapshot order. With no previous snapshot every Critical record is new.
func NewCriticalThreats(prev, next *domain.Snapshot) []domain.ThreatRecord {
	if next == nil {
		return nil
	}
	var out []domain.ThreatRecord
	for _, rec := range next.Query(domain.FilterAll) {
		if rec.Risk != domain.Critical {
			continue
		}
		if prev != nil {
			if _, seen := prev.Find(rec.ID); seen {
				continue
			}
		}
		out = append(out, rec)
	}
	return out
}
