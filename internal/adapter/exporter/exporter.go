// Package exporter renders feed snapshots in formats SIEMs ingest.
package exporter

import (
	"fmt"

	"github.com/hive-corporation/threatfeed/internal/core/domain"
	"github.com/hive-corporation/threatfeed/internal/core/feed"
)

type Exporter interface {
	Export(snap *domain.Snapshot, f domain.Filter) ([]byte, error)
	ContentType() string
}

// JSONExporter re-emits records in the ingestion wire format. A filtered
// export keeps the full feed counters.
type JSONExporter struct{}

func (JSONExporter) ContentType() string { return "application/json" }

func (JSONExporter) Export(snap *domain.Snapshot, f domain.Filter) ([]byte, error) {
	return feed.EncodeRecords(snap.Counters, snap.Query(f))
}

// ForFormat resolves an export format name.
func ForFormat(format string) (Exporter, error) {
	switch format {
	case "cef":
		return NewCEFExporter(""), nil
	case "stix", "":
		return NewSTIXExporter(), nil
	case "json":
		return JSONExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q (use cef, stix or json)", format)
	}
}
