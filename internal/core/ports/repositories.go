package ports

import (
	"context"

	"github.com/hive-corporation/threatfeed/internal/core/domain"
)

// FeedGateway supplies the raw feed payload. Its only contract with the core
// is to produce one complete payload or fail.
type FeedGateway interface {
	Fetch(ctx context.Context) ([]byte, error)
	Name() string
}

// SnapshotArchive keeps a copy of every snapshot that was published.
type SnapshotArchive interface {
	SaveSnapshot(ctx context.Context, snap *domain.Snapshot, payload []byte) error
}
