package domain

import "fmt"

// FeedCounters are the counters the feed reports about itself.
// They are ground truth from the scanning pipeline, not derived from records.
type FeedCounters struct {
	EmailsScanned    int
	ThreatsDetected  int
	QuarantinedItems int
}

// Summary is the feed-wide view shown above the threat list.
type Summary struct {
	EmailsScanned    int      `json:"emails_scanned"`
	ThreatsDetected  int      `json:"threats_detected"`
	QuarantinedItems int      `json:"quarantined_items"`
	Discrepancies    []string `json:"discrepancies,omitempty"`
}

const quarantinedStatus = "quarantined"

// Aggregate builds the Summary for a record set.
//
// ThreatsDetected is always len(records). EmailsScanned and QuarantinedItems
// are passed through from the feed. Where the feed's own numbers disagree with
// what the records show, the disagreement is listed but never reconciled.
func Aggregate(records []ThreatRecord, counters FeedCounters) Summary {
	s := Summary{
		EmailsScanned:    counters.EmailsScanned,
		ThreatsDetected:  len(records),
		QuarantinedItems: counters.QuarantinedItems,
	}

	if counters.ThreatsDetected != len(records) {
		s.Discrepancies = append(s.Discrepancies, fmt.Sprintf(
			"feed reports %d threats detected, snapshot holds %d records",
			counters.ThreatsDetected, len(records)))
	}

	quarantined := 0
	for _, r := range records {
		if r.Status == quarantinedStatus {
			quarantined++
		}
	}
	if counters.QuarantinedItems != quarantined {
		s.Discrepancies = append(s.Discrepancies, fmt.Sprintf(
			"feed reports %d quarantined items, %d visible records are quarantined",
			counters.QuarantinedItems, quarantined))
	}

	return s
}
