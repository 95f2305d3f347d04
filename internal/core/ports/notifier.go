package ports

import "github.com/hive-corporation/threatfeed/internal/core/domain"

// Notifier defines the interface for sending notifications to external systems
type Notifier interface {
	// NotifyCriticalThreats announces critical records that were not in the previous snapshot
	NotifyCriticalThreats(snapshot SnapshotInfo, threats []domain.ThreatRecord) error

	// NotifyIngestionFailure reports the first failure after a healthy run
	NotifyIngestionFailure(failure IngestionFailure) error

	// NotifyIngestionRecovered reports the first success after failedAttempts consecutive failures
	NotifyIngestionRecovered(snapshot SnapshotInfo, failedAttempts int) error
}

type SnapshotInfo struct {
	ID      string
	Source  string
	Summary domain.Summary
}

type IngestionFailure struct {
	Source       string
	Kind         string
	Message      string
	ServingStale bool // A previous snapshot is still being served
}
