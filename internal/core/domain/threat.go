package domain

import "time"

type ThreatType string

const (
	Phishing ThreatType = "Phishing"
	Malware  ThreatType = "Malware"
	Spam     ThreatType = "Spam"
)

// ThreatTypes lists the canonical types in display order.
var ThreatTypes = []ThreatType{Phishing, Malware, Spam}

// ClassifyType maps a raw category to its canonical type.
// Matching is exact and case-sensitive; anything unrecognized lands in Spam.
func ClassifyType(raw string) ThreatType {
	switch ThreatType(raw) {
	case Phishing:
		return Phishing
	case Malware:
		return Malware
	default:
		return Spam
	}
}

// Accent is the styling hint the dashboard uses for the type label.
func (t ThreatType) Accent() string {
	switch t {
	case Phishing:
		return "blue"
	case Malware:
		return "red"
	default:
		return "yellow"
	}
}

// Details is descriptive metadata carried through untouched.
type Details struct {
	Subject string `json:"subject"`
	Sender  string `json:"sender"`
}

// ThreatRecord is a single classified entry of a feed snapshot.
type ThreatRecord struct {
	ID        string    // Unique within a snapshot
	Timestamp time.Time // When the scanner observed it; feeds are not time-ordered
	RawType   string    // Category as received
	Type      ThreatType
	RiskScore int // Nominally 0-100, accepted as-is
	Risk      RiskLevel
	Status    string // Opaque (quarantined, flagged, ...)
	Details   Details
}

// Matches reports whether the record passes the filter.
func (r ThreatRecord) Matches(f Filter) bool {
	return f == FilterAll || ThreatType(f) == r.Type
}
