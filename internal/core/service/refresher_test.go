package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hive-corporation/threatfeed/internal/core/domain"
	"github.com/hive-corporation/threatfeed/internal/core/feed"
	"github.com/hive-corporation/threatfeed/internal/core/ports"
)

// scriptedGateway returns its payloads in order, repeating the last one.
type scriptedGateway struct {
	mu     sync.Mutex
	steps  []step
	served int
}

type step struct {
	payload string
	err     error
}

func (g *scriptedGateway) Name() string { return "scripted" }

func (g *scriptedGateway) Fetch(context.Context) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.steps[min(g.served, len(g.steps)-1)]
	g.served++
	if s.err != nil {
		return nil, s.err
	}
	return []byte(s.payload), nil
}

func (g *scriptedGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.served
}

type recordingNotifier struct {
	mu         sync.Mutex
	criticals  [][]domain.ThreatRecord
	failures   []ports.IngestionFailure
	recoveries []int
}

func (n *recordingNotifier) NotifyCriticalThreats(_ ports.SnapshotInfo, threats []domain.ThreatRecord) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.criticals = append(n.criticals, threats)
	return nil
}

func (n *recordingNotifier) NotifyIngestionFailure(f ports.IngestionFailure) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, f)
	return nil
}

func (n *recordingNotifier) NotifyIngestionRecovered(_ ports.SnapshotInfo, failedAttempts int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recoveries = append(n.recoveries, failedAttempts)
	return nil
}

type memoryArchive struct {
	payloads [][]byte
	ids      []string
	err      error
}

func (a *memoryArchive) SaveSnapshot(_ context.Context, snap *domain.Snapshot, payload []byte) error {
	if a.err != nil {
		return a.err
	}
	a.ids = append(a.ids, snap.ID)
	a.payloads = append(a.payloads, payload)
	return nil
}

const firstFeed = `{"summary": {"emails_scanned": 100, "quarantined_items": 1}, "threats": [
	{"id": "a", "timestamp": "2024-03-01T10:00:00Z", "type": "Phishing", "status": "quarantined", "risk_score": 97},
	{"id": "b", "timestamp": "2024-03-01T10:05:00Z", "type": "Spam", "risk_score": 12}]}`

const secondFeed = `{"summary": {"emails_scanned": 140, "quarantined_items": 1}, "threats": [
	{"id": "a", "timestamp": "2024-03-01T10:00:00Z", "type": "Phishing", "status": "quarantined", "risk_score": 97},
	{"id": "c", "timestamp": "2024-03-01T11:00:00Z", "type": "Malware", "risk_score": 91},
	{"id": "d", "timestamp": "2024-03-01T11:30:00Z", "type": "Malware", "risk_score": 89}]}`

func TestRefreshOnce_ArchivesAndNotifies(t *testing.T) {
	store := feed.NewStore()
	gw := &scriptedGateway{steps: []step{{payload: firstFeed}, {payload: secondFeed}}}
	archive := &memoryArchive{}
	notifier := &recordingNotifier{}

	r := NewRefresher(store, gw, 0, WithArchive(archive), WithNotifier(notifier))

	snap, err := r.RefreshOnce(context.Background())
	if err != nil {
		t.Fatalf("first refresh failed: %v", err)
	}
	if len(archive.ids) != 1 || archive.ids[0] != snap.ID {
		t.Errorf("archive ids = %v, want [%s]", archive.ids, snap.ID)
	}
	if _, err := store.IngestPayload("replay", archive.payloads[0]); err != nil {
		t.Errorf("archived payload does not re-ingest: %v", err)
	}

	if _, err := r.RefreshOnce(context.Background()); err != nil {
		t.Fatalf("second refresh failed: %v", err)
	}

	if len(notifier.criticals) != 2 {
		t.Fatalf("got %d critical notifications, want 2", len(notifier.criticals))
	}
	if got := notifier.criticals[0]; len(got) != 1 || got[0].ID != "a" {
		t.Errorf("first notification = %v, want [a]", got)
	}
	if got := notifier.criticals[1]; len(got) != 1 || got[0].ID != "c" {
		t.Errorf("second notification = %v, want only the new critical c", got)
	}
}

func TestRefreshOnce_ReportsFailure(t *testing.T) {
	store := feed.NewStore()
	gw := &scriptedGateway{steps: []step{{payload: firstFeed}, {payload: `{"threats": []}`}}}
	notifier := &recordingNotifier{}
	r := NewRefresher(store, gw, 0, WithNotifier(notifier))

	if _, err := r.RefreshOnce(context.Background()); err != nil {
		t.Fatalf("first refresh failed: %v", err)
	}
	_, err := r.RefreshOnce(context.Background())
	if !errors.Is(err, feed.ErrMalformed) {
		t.Fatalf("error = %v, want ErrMalformed", err)
	}

	if len(notifier.failures) != 1 {
		t.Fatalf("got %d failure notifications, want 1", len(notifier.failures))
	}
	f := notifier.failures[0]
	if f.Kind != "malformed" || !f.ServingStale || f.Source != "scripted" {
		t.Errorf("unexpected failure report: %+v", f)
	}
	if store.State() != feed.StateReady {
		t.Errorf("store state = %s, want ready", store.State())
	}
}

func TestRefreshOnce_NotifiesFailureStreakOnce(t *testing.T) {
	store := feed.NewStore()
	gw := &scriptedGateway{steps: []step{
		{payload: firstFeed},
		{err: errors.New("connection refused")},
		{err: errors.New("connection refused")},
		{err: errors.New("connection refused")},
		{payload: secondFeed},
		{err: errors.New("connection reset")},
	}}
	notifier := &recordingNotifier{}
	r := NewRefresher(store, gw, 0, WithNotifier(notifier))

	for range 5 {
		_, _ = r.RefreshOnce(context.Background())
	}
	if len(notifier.failures) != 1 {
		t.Errorf("got %d failure notifications during one outage, want 1", len(notifier.failures))
	}
	if len(notifier.recoveries) != 1 || notifier.recoveries[0] != 3 {
		t.Errorf("recoveries = %v, want [3]", notifier.recoveries)
	}

	// A new outage is announced again.
	_, _ = r.RefreshOnce(context.Background())
	if len(notifier.failures) != 2 {
		t.Errorf("got %d failure notifications after a second outage, want 2", len(notifier.failures))
	}
	if len(notifier.recoveries) != 1 {
		t.Errorf("recoveries = %v, want one", notifier.recoveries)
	}
}

func TestRefreshOnce_NoRecoveryWithoutFailure(t *testing.T) {
	notifier := &recordingNotifier{}
	gw := &scriptedGateway{steps: []step{{payload: firstFeed}, {payload: secondFeed}}}
	r := NewRefresher(feed.NewStore(), gw, 0, WithNotifier(notifier))

	for range 2 {
		if _, err := r.RefreshOnce(context.Background()); err != nil {
			t.Fatalf("refresh failed: %v", err)
		}
	}
	if len(notifier.recoveries) != 0 || len(notifier.failures) != 0 {
		t.Errorf("recoveries=%v failures=%v, want none", notifier.recoveries, notifier.failures)
	}
}

func TestRun_ZeroIntervalIngestsOnce(t *testing.T) {
	store := feed.NewStore()
	gw := &scriptedGateway{steps: []step{{payload: firstFeed}}}
	r := NewRefresher(store, gw, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for store.State() != feed.StateReady {
		select {
		case <-deadline:
			t.Fatal("store never became ready")
		case <-time.After(5 * time.Millisecond):
		}
	}
	time.Sleep(30 * time.Millisecond)
	cancel()

	if err := <-done; err != nil {
		t.Errorf("Run returned %v, want nil", err)
	}
	if gw.calls() != 1 {
		t.Errorf("gateway called %d times, want 1", gw.calls())
	}
}

func TestRefreshOnce_ArchiveErrorDoesNotFailIngest(t *testing.T) {
	store := feed.NewStore()
	gw := &scriptedGateway{steps: []step{{payload: firstFeed}}}
	r := NewRefresher(store, gw, 0, WithArchive(&memoryArchive{err: errors.New("db down")}))

	if _, err := r.RefreshOnce(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if store.State() != feed.StateReady {
		t.Errorf("store state = %s, want ready", store.State())
	}
}

func TestRun_RefreshesUntilCancelled(t *testing.T) {
	store := feed.NewStore()
	gw := &scriptedGateway{steps: []step{{err: errors.New("connection refused")}, {payload: firstFeed}}}
	r := NewRefresher(store, gw, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for gw.calls() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d refreshes happened", gw.calls())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	if err := <-done; err != nil {
		t.Errorf("Run returned %v, want nil", err)
	}
	if store.State() != feed.StateReady {
		t.Errorf("store state = %s, want ready after recovery", store.State())
	}
}

func TestNewCriticalThreats(t *testing.T) {
	build := func(payload string) *domain.Snapshot {
		s := feed.NewStore()
		snap, err := s.IngestPayload("t", []byte(payload))
		if err != nil {
			t.Fatalf("ingest failed: %v", err)
		}
		return snap
	}
	first, second := build(firstFeed), build(secondFeed)

	if got := NewCriticalThreats(nil, first); len(got) != 1 || got[0].ID != "a" {
		t.Errorf("without a previous snapshot got %v, want [a]", got)
	}
	if got := NewCriticalThreats(first, second); len(got) != 1 || got[0].ID != "c" {
		t.Errorf("got %v, want [c]", got)
	}
	if got := NewCriticalThreats(second, second); len(got) != 0 {
		t.Errorf("identical snapshots produced %v", got)
	}
	if got := NewCriticalThreats(first, nil); got != nil {
		t.Errorf("nil next produced %v", got)
	}
}
