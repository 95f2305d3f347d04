package domain

import (
	"cmp"
	"slices"
	"time"
)

// Snapshot is an immutable, fully classified copy of the feed at one point
// in time. Records are held risk-descending; equal scores keep feed order.
type Snapshot struct {
	ID         string
	Source     string
	IngestedAt time.Time
	Counters   FeedCounters
	Summary    Summary

	records []ThreatRecord
	byID    map[string]int
}

// NewSnapshot sorts the records once and computes the summary.
// The caller must not reuse the slice afterwards.
func NewSnapshot(id, source string, ingestedAt time.Time, records []ThreatRecord, counters FeedCounters) *Snapshot {
	slices.SortStableFunc(records, func(a, b ThreatRecord) int {
		return cmp.Compare(b.RiskScore, a.RiskScore)
	})

	byID := make(map[string]int, len(records))
	for i, r := range records {
		byID[r.ID] = i
	}

	return &Snapshot{
		ID:         id,
		Source:     source,
		IngestedAt: ingestedAt,
		Counters:   counters,
		Summary:    Aggregate(records, counters),
		records:    records,
		byID:       byID,
	}
}

func (s *Snapshot) Len() int { return len(s.records) }

// Query returns the records passing the filter in snapshot order.
// Filtering never reorders; the returned slice is a fresh copy.
func (s *Snapshot) Query(f Filter) []ThreatRecord {
	out := make([]ThreatRecord, 0, len(s.records))
	for _, r := range s.records {
		if r.Matches(f) {
			out = append(out, r)
		}
	}
	return out
}

// Find looks a record up by id.
func (s *Snapshot) Find(id string) (ThreatRecord, bool) {
	i, ok := s.byID[id]
	if !ok {
		return ThreatRecord{}, false
	}
	return s.records[i], true
}

// CountByRisk tallies records per severity band.
func (s *Snapshot) CountByRisk() map[RiskLevel]int {
	counts := map[RiskLevel]int{Critical: 0, High: 0, Medium: 0, Low: 0}
	for _, r := range s.records {
		counts[r.Risk]++
	}
	return counts
}
