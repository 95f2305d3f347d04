package exporter

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hive-corporation/threatfeed/internal/core/domain"
)

// indicatorNamespace seeds deterministic indicator ids, so exporting the same
// snapshot twice yields the same STIX objects.
var indicatorNamespace = uuid.MustParse("6b1f3c9e-2f6a-4d43-9a63-0c8b3c1f7d21")

// STIXExporter exports threat records as a STIX 2.1 bundle for SIEM ingestion
type STIXExporter struct {
	now func() time.Time
}

func NewSTIXExporter() *STIXExporter {
	return &STIXExporter{now: time.Now}
}

func (e *STIXExporter) ContentType() string { return "application/stix+json;version=2.1" }

// Export generates one indicator per record passing the filter.
func (e *STIXExporter) Export(snap *domain.Snapshot, f domain.Filter) ([]byte, error) {
	bundle := STIXBundle{
		Type:    "bundle",
		ID:      fmt.Sprintf("bundle--%s", uuid.New().String()),
		Objects: []STIXObject{},
	}

	created := e.now().UTC().Format(time.RFC3339)
	for _, rec := range snap.Query(f) {
		bundle.Objects = append(bundle.Objects, e.convertToSTIX(snap, rec, created))
	}

	jsonData, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal STIX bundle: %w", err)
	}

	return jsonData, nil
}

func (e *STIXExporter) convertToSTIX(snap *domain.Snapshot, rec domain.ThreatRecord, created string) STIXObject {
	return STIXObject{
		Type:           "indicator",
		SpecVersion:    "2.1",
		ID:             fmt.Sprintf("indicator--%s", uuid.NewSHA1(indicatorNamespace, []byte(snap.ID+"/"+rec.ID))),
		Created:        created,
		Modified:       created,
		Name:           fmt.Sprintf("%s email %s", rec.Risk, strings.ToLower(string(rec.Type))),
		Description:    rec.Details.Subject,
		Pattern:        buildPattern(rec),
		PatternType:    "stix",
		ValidFrom:      rec.Timestamp.UTC().Format(time.RFC3339),
		IndicatorTypes: mapIndicatorTypes(rec.Type),
		Confidence:     clampConfidence(rec.RiskScore),
		Labels:         []string{strings.ToLower(string(rec.Risk)), rec.RawType},
		ExternalReferences: []ExternalReference{
			{SourceName: snap.Source, ExternalID: rec.ID},
		},
	}
}

// buildPattern matches the message by sender and subject when known.
func buildPattern(rec domain.ThreatRecord) string {
	var terms []string
	if sender := domain.SenderAddress(rec.Details.Sender); sender != "" {
		terms = append(terms, fmt.Sprintf("email-message:from_ref.value = '%s'", escapePattern(sender)))
	}
	if rec.Details.Subject != "" {
		terms = append(terms, fmt.Sprintf("email-message:subject = '%s'", escapePattern(rec.Details.Subject)))
	}
	if len(terms) == 0 {
		return fmt.Sprintf("[x-threatfeed-record:id = '%s']", escapePattern(rec.ID))
	}
	return "[" + strings.Join(terms, " AND ") + "]"
}

func mapIndicatorTypes(t domain.ThreatType) []string {
	switch t {
	case domain.Phishing:
		return []string{"malicious-activity", "phishing"}
	case domain.Malware:
		return []string{"malicious-activity", "malware-download"}
	default:
		return []string{"anomalous-activity"}
	}
}

// clampConfidence keeps out-of-range risk scores within STIX's 0-100.
func clampConfidence(score int) int {
	return max(0, min(100, score))
}

func escapePattern(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

// STIX 2.1 data structures

type STIXBundle struct {
	Type    string       `json:"type"`
	ID      string       `json:"id"`
	Objects []STIXObject `json:"objects"`
}

type STIXObject struct {
	Type               string              `json:"type"`
	SpecVersion        string              `json:"spec_version"`
	ID                 string              `json:"id"`
	Created            string              `json:"created"`
	Modified           string              `json:"modified"`
	Name               string              `json:"name"`
	Description        string              `json:"description,omitempty"`
	Pattern            string              `json:"pattern"`
	PatternType        string              `json:"pattern_type"`
	ValidFrom          string              `json:"valid_from"`
	IndicatorTypes     []string            `json:"indicator_types"`
	Confidence         int                 `json:"confidence"`
	Labels             []string            `json:"labels,omitempty"`
	ExternalReferences []ExternalReference `json:"external_references,omitempty"`
}

type ExternalReference struct {
	SourceName string `json:"source_name"`
	ExternalID string `json:"external_id,omitempty"`
}
