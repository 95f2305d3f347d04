package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hive-corporation/threatfeed/internal/core/domain"
)

// Wire format of the feed. Field names and nesting are the ingestion
// contract with the scanning pipeline.

type rawFeed struct {
	Summary *rawSummary  `json:"summary"`
	Threats *[]rawThreat `json:"threats"`
}

type rawSummary struct {
	EmailsScanned    *json.Number `json:"emails_scanned"`
	ThreatsDetected  *json.Number `json:"threats_detected"`
	QuarantinedItems *json.Number `json:"quarantined_items"`
}

type rawThreat struct {
	ID        *string         `json:"id"`
	Timestamp *string         `json:"timestamp"`
	Type      *string         `json:"type"`
	Status    json.RawMessage `json:"status"`
	RiskScore *json.Number    `json:"risk_score"`
	Details   json.RawMessage `json:"details"`
}

// decodePayload parses and classifies a raw feed. Every structural problem
// is reported, not only the first one.
func decodePayload(payload []byte) ([]domain.ThreatRecord, domain.FeedCounters, error) {
	var counters domain.FeedCounters

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var raw rawFeed
	if err := dec.Decode(&raw); err != nil {
		return nil, counters, fmt.Errorf("decode feed: %w", err)
	}

	var errs []error
	if raw.Summary == nil {
		errs = append(errs, errors.New(`missing "summary"`))
	}
	if raw.Threats == nil {
		errs = append(errs, errors.New(`missing "threats"`))
	}
	if len(errs) > 0 {
		return nil, counters, errors.Join(errs...)
	}

	threats := *raw.Threats

	emails, err := requiredInt("summary.emails_scanned", raw.Summary.EmailsScanned)
	if err != nil {
		errs = append(errs, err)
	}
	quarantined, err := requiredInt("summary.quarantined_items", raw.Summary.QuarantinedItems)
	if err != nil {
		errs = append(errs, err)
	}
	detected := len(threats)
	if raw.Summary.ThreatsDetected != nil {
		if detected, err = requiredInt("summary.threats_detected", raw.Summary.ThreatsDetected); err != nil {
			errs = append(errs, err)
		}
	}
	counters = domain.FeedCounters{
		EmailsScanned:    emails,
		ThreatsDetected:  detected,
		QuarantinedItems: quarantined,
	}

	records := make([]domain.ThreatRecord, 0, len(threats))
	seen := make(map[string]int, len(threats))

	for i, t := range threats {
		r, err := decodeThreat(t)
		if err != nil {
			errs = append(errs, fmt.Errorf("threats[%d]: %w", i, err))
			continue
		}
		if first, dup := seen[r.ID]; dup {
			errs = append(errs, fmt.Errorf("threats[%d]: duplicate id %q (first at threats[%d])", i, r.ID, first))
			continue
		}
		seen[r.ID] = i
		records = append(records, r)
	}

	if len(errs) > 0 {
		return nil, counters, errors.Join(errs...)
	}
	return records, counters, nil
}

func decodeThreat(t rawThreat) (domain.ThreatRecord, error) {
	var errs []error

	if t.ID == nil || *t.ID == "" {
		errs = append(errs, errors.New(`missing "id"`))
	}
	if t.Type == nil {
		errs = append(errs, errors.New(`missing "type"`))
	}

	var ts time.Time
	if t.Timestamp == nil {
		errs = append(errs, errors.New(`missing "timestamp"`))
	} else {
		var err error
		if ts, err = parseTimestamp(*t.Timestamp); err != nil {
			errs = append(errs, fmt.Errorf("invalid timestamp %q", *t.Timestamp))
		}
	}

	score, err := requiredInt("risk_score", t.RiskScore)
	if err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return domain.ThreatRecord{}, errors.Join(errs...)
	}

	return domain.ThreatRecord{
		ID:        *t.ID,
		Timestamp: ts,
		RawType:   *t.Type,
		Type:      domain.ClassifyType(*t.Type),
		RiskScore: score,
		Risk:      domain.ClassifyRisk(score),
		Status:    opaqueString(t.Status),
		Details:   opaqueDetails(t.Details),
	}, nil
}

// localTimestamp is RFC 3339 without a zone offset.
const localTimestamp = "2006-01-02T15:04:05.999999999"

// parseTimestamp accepts RFC 3339, and RFC 3339 without an offset read as UTC.
func parseTimestamp(s string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return ts, nil
	}
	if local, lerr := time.ParseInLocation(localTimestamp, s, time.UTC); lerr == nil {
		return local, nil
	}
	return time.Time{}, err
}

// requiredInt accepts integral JSON numbers, including forms like 95.0.
func requiredInt(field string, n *json.Number) (int, error) {
	if n == nil {
		return 0, fmt.Errorf("missing %q", field)
	}
	if i, err := n.Int64(); err == nil {
		return int(i), nil
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%q is not an integer: %s", field, n.String())
	}
	// Integral values beyond int64 saturate so they keep their sign.
	switch {
	case f >= math.MaxInt:
		return math.MaxInt, nil
	case f <= math.MinInt:
		return math.MinInt, nil
	}
	return int(f), nil
}

// opaqueString passes status through without judging it. Non-string JSON
// values are kept in their literal form.
func opaqueString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// opaqueDetails keeps what it can of the details block and never fails.
func opaqueDetails(raw json.RawMessage) domain.Details {
	var d domain.Details
	if len(raw) > 0 {
		var loose map[string]json.RawMessage
		if err := json.Unmarshal(raw, &loose); err == nil {
			d.Subject = opaqueString(loose["subject"])
			d.Sender = opaqueString(loose["sender"])
		}
	}
	return d
}

type wireFeed struct {
	Summary wireSummary  `json:"summary"`
	Threats []wireThreat `json:"threats"`
}

type wireSummary struct {
	EmailsScanned    int `json:"emails_scanned"`
	ThreatsDetected  int `json:"threats_detected"`
	QuarantinedItems int `json:"quarantined_items"`
}

type wireThreat struct {
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	Type      string         `json:"type"`
	Status    string         `json:"status"`
	RiskScore int            `json:"risk_score"`
	Details   domain.Details `json:"details"`
}

// EncodeSnapshot renders a snapshot back into the ingestion wire format.
// Re-ingesting the output yields an equivalent snapshot.
func EncodeSnapshot(snap *domain.Snapshot) ([]byte, error) {
	return EncodeRecords(snap.Counters, snap.Query(domain.FilterAll))
}

// EncodeRecords renders records in the ingestion wire format under the given
// feed counters. Records keep the order they are passed in.
func EncodeRecords(counters domain.FeedCounters, records []domain.ThreatRecord) ([]byte, error) {
	out := wireFeed{
		Summary: wireSummary{
			EmailsScanned:    counters.EmailsScanned,
			ThreatsDetected:  counters.ThreatsDetected,
			QuarantinedItems: counters.QuarantinedItems,
		},
		Threats: make([]wireThreat, len(records)),
	}
	for i, r := range records {
		out.Threats[i] = wireThreat{
			ID:        r.ID,
			Timestamp: r.Timestamp.Format(time.RFC3339Nano),
			Type:      r.RawType,
			Status:    r.Status,
			RiskScore: r.RiskScore,
			Details:   r.Details,
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode feed: %w", err)
	}
	return data, nil
}
